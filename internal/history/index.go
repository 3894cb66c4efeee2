// package history maintains a bounded, per-repository in-memory index of
// recent commits, fed by the push-event collaborator.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/gitsignal/incident-engine/internal/config"
	"github.com/gitsignal/incident-engine/internal/models"
)

// Index is the shared commit index. Writers (push events) and readers
// (correlation) for different repositories never contend on the same lock.
type Index struct {
	cfg config.HistoryConfig
	now func() time.Time

	mu    sync.RWMutex
	repos map[string]*repoHistory
}

// repoHistory holds one repository's commits, newest-first.
type repoHistory struct {
	mu      sync.RWMutex
	commits []models.CommitRecord
	bySHA   map[string]struct{}
}

// NewIndex constructs an Index with the given retention bounds. Zero values
// get conservative defaults.
func NewIndex(cfg config.HistoryConfig) *Index {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.MaxPerRepo <= 0 {
		cfg.MaxPerRepo = 500
	}
	return &Index{
		cfg:   cfg,
		now:   time.Now,
		repos: map[string]*repoHistory{},
	}
}

func (ix *Index) repo(repositoryID string) *repoHistory {
	ix.mu.RLock()
	rh, ok := ix.repos[repositoryID]
	ix.mu.RUnlock()
	if ok {
		return rh
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if rh, ok = ix.repos[repositoryID]; ok {
		return rh
	}
	rh = &repoHistory{bySHA: map[string]struct{}{}}
	ix.repos[repositoryID] = rh
	return rh
}

// RecordPush adds commits for a repository. Push delivery is at-least-once,
// so commits already present (by sha) are skipped. Eviction runs on every
// insert to keep the per-repo structure within its age and count bounds.
func (ix *Index) RecordPush(repositoryID string, commits []models.CommitRecord) {
	if repositoryID == "" || len(commits) == 0 {
		return
	}
	rh := ix.repo(repositoryID)

	rh.mu.Lock()
	defer rh.mu.Unlock()

	inserted := false
	for _, c := range commits {
		if c.SHA == "" {
			continue
		}
		if _, dup := rh.bySHA[c.SHA]; dup {
			continue
		}
		c.Timestamp = c.Timestamp.UTC()
		c.ChangedPaths = append([]string(nil), c.ChangedPaths...)
		rh.commits = append(rh.commits, c)
		rh.bySHA[c.SHA] = struct{}{}
		inserted = true
	}
	if inserted {
		sort.SliceStable(rh.commits, func(i, j int) bool {
			return rh.commits[i].Timestamp.After(rh.commits[j].Timestamp)
		})
	}
	rh.evictLocked(ix.now().UTC().Add(-ix.cfg.MaxAge), ix.cfg.MaxPerRepo)
}

// evictLocked drops commits older than cutoff and trims to the count bound.
// commits is newest-first, so trimming always removes from the tail.
func (rh *repoHistory) evictLocked(cutoff time.Time, maxCount int) {
	keep := rh.commits
	for len(keep) > 0 && keep[len(keep)-1].Timestamp.Before(cutoff) {
		last := keep[len(keep)-1]
		delete(rh.bySHA, last.SHA)
		keep = keep[:len(keep)-1]
	}
	for len(keep) > maxCount {
		last := keep[len(keep)-1]
		delete(rh.bySHA, last.SHA)
		keep = keep[:len(keep)-1]
	}
	rh.commits = keep
}

// RecentCommits returns up to limit commits for the repository with
// Timestamp <= before, ordered newest-first. The returned slice is a copy;
// callers may iterate or restart freely without holding any lock.
func (ix *Index) RecentCommits(repositoryID string, before time.Time, limit int) []models.CommitRecord {
	if limit <= 0 {
		return nil
	}
	ix.mu.RLock()
	rh, ok := ix.repos[repositoryID]
	ix.mu.RUnlock()
	if !ok {
		return nil
	}

	rh.mu.RLock()
	defer rh.mu.RUnlock()

	out := make([]models.CommitRecord, 0, limit)
	for _, c := range rh.commits {
		if c.Timestamp.After(before) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Len reports the number of retained commits for a repository.
func (ix *Index) Len(repositoryID string) int {
	ix.mu.RLock()
	rh, ok := ix.repos[repositoryID]
	ix.mu.RUnlock()
	if !ok {
		return 0
	}
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return len(rh.commits)
}
