// package correlate matches incident signals to candidate commits and scores
// the attribution.
package correlate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gitsignal/incident-engine/internal/config"
	"github.com/gitsignal/incident-engine/internal/history"
	"github.com/gitsignal/incident-engine/internal/models"
)

// baselinePathScore is what a commit scores on the path axis when the
// repository has no criticalPaths configured: unconfigured paths cannot
// disqualify a candidate.
const baselinePathScore = 0.5

// Correlator scores candidate commits against incident signals.
type Correlator struct {
	index *history.Index
	cfg   config.ScoreConfig
}

// New constructs a Correlator over the shared commit index. Zero config
// fields get the documented defaults.
func New(index *history.Index, cfg config.ScoreConfig) *Correlator {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 24 * time.Hour
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = 6 * time.Hour
	}
	if cfg.PathWeight <= 0 && cfg.RecencyWeight <= 0 {
		cfg.PathWeight, cfg.RecencyWeight = 0.7, 0.3
	}
	if cfg.FallbackPathWeight <= 0 && cfg.FallbackRecencyWeight <= 0 {
		cfg.FallbackPathWeight, cfg.FallbackRecencyWeight = 0.3, 0.7
	}
	if cfg.AttributionThreshold <= 0 {
		cfg.AttributionThreshold = 0.35
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 200
	}
	return &Correlator{index: index, cfg: cfg}
}

// Correlate fetches candidate commits within the horizon and produces a
// ranked attribution. Candidates newer than the signal are excluded up front:
// a commit cannot cause an incident that predates it.
func (c *Correlator) Correlate(signal models.IncidentSignal, repositoryID string, repoCfg models.RepositoryConfig) models.Attribution {
	attr := models.Attribution{
		Signal:       signal,
		RepositoryID: repositoryID,
	}

	candidates := c.index.RecentCommits(repositoryID, signal.OccurredAt, c.cfg.CandidateLimit)
	if len(candidates) == 0 {
		attr.Severity = deriveSeverity(signal, 0, time.Time{})
		return attr
	}

	horizonStart := signal.OccurredAt.Add(-c.cfg.Horizon)
	pathW, recencyW := c.cfg.PathWeight, c.cfg.RecencyWeight
	if len(repoCfg.CriticalPaths) == 0 {
		pathW, recencyW = c.cfg.FallbackPathWeight, c.cfg.FallbackRecencyWeight
	}

	scored := make([]models.CandidateScore, 0, len(candidates))
	for _, commit := range candidates {
		if commit.Timestamp.Before(horizonStart) {
			// RecentCommits is newest-first, so nothing later qualifies.
			break
		}
		pathScore, matched := pathOverlap(commit.ChangedPaths, repoCfg.CriticalPaths)
		recency := recencyScore(commit.Timestamp, signal.OccurredAt, c.cfg.HalfLife)
		score := clamp(pathW*pathScore + recencyW*recency)
		scored = append(scored, models.CandidateScore{
			Commit:       commit,
			Score:        score,
			MatchedPaths: matched,
		})
	}
	if len(scored) == 0 {
		attr.Severity = deriveSeverity(signal, 0, time.Time{})
		return attr
	}

	// Descending by score; ties break by most-recent timestamp, then
	// lexicographic sha, so repeated runs rank identically.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		ti, tj := scored[i].Commit.Timestamp, scored[j].Commit.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return scored[i].Commit.SHA < scored[j].Commit.SHA
	})

	top := scored[0]
	attr.Candidates = scored
	attr.Confidence = top.Score
	if top.Score >= c.cfg.AttributionThreshold {
		attr.AttributedCommitSHA = top.Commit.SHA
		attr.Severity = deriveSeverity(signal, top.Score, top.Commit.Timestamp)
		return attr
	}

	// Below threshold: unattributed, but the signal still alerts.
	attr.Severity = deriveSeverity(signal, top.Score, time.Time{})
	return attr
}

// pathOverlap counts changed paths matching any critical-path prefix,
// normalized to [0,1]. With no criticalPaths configured every commit gets the
// baseline score and no matched paths.
func pathOverlap(changed, critical []string) (float64, []string) {
	if len(critical) == 0 {
		return baselinePathScore, nil
	}
	if len(changed) == 0 {
		return 0, nil
	}
	var matched []string
	for _, p := range changed {
		for _, prefix := range critical {
			if strings.HasPrefix(p, prefix) {
				matched = append(matched, p)
				break
			}
		}
	}
	return float64(len(matched)) / float64(len(changed)), matched
}

// recencyScore decays exponentially with the commit's age relative to the
// signal: a commit halfLife old scores 0.5, twice that 0.25.
func recencyScore(commitTS, signalTS time.Time, halfLife time.Duration) float64 {
	age := signalTS.Sub(commitTS)
	if age < 0 {
		return 0
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}

// deriveSeverity prefers the source's hint; otherwise it is heuristic on
// confidence, bumped one level when the attributed commit is under an hour
// old. Critical is only ever reached via an explicit hint.
func deriveSeverity(signal models.IncidentSignal, confidence float64, attributedAt time.Time) models.Severity {
	if signal.SeverityHint != "" {
		return signal.SeverityHint
	}
	var sev models.Severity
	switch {
	case confidence >= 0.8:
		sev = models.SeverityHigh
	case confidence >= 0.5:
		sev = models.SeverityMedium
	default:
		sev = models.SeverityLow
	}
	if !attributedAt.IsZero() && signal.OccurredAt.Sub(attributedAt) < time.Hour {
		sev = bump(sev)
	}
	return sev
}

func bump(sev models.Severity) models.Severity {
	switch sev {
	case models.SeverityLow:
		return models.SeverityMedium
	case models.SeverityMedium:
		return models.SeverityHigh
	}
	return sev
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
