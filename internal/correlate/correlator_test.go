package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitsignal/incident-engine/internal/config"
	"github.com/gitsignal/incident-engine/internal/history"
	"github.com/gitsignal/incident-engine/internal/models"
)

// t0 is "now" for these tests; the index evicts by wall clock, so commit
// timestamps are kept relative to it.
var t0 = time.Now().UTC().Truncate(time.Second)

func signalAt(ts time.Time) models.IncidentSignal {
	return models.IncidentSignal{
		Source:      models.SourceErrorTracker,
		Fingerprint: "fp-1",
		Title:       "error spike",
		OccurredAt:  ts,
	}
}

func commit(sha string, ts time.Time, paths ...string) models.CommitRecord {
	return models.CommitRecord{SHA: sha, Author: "dev", Branch: "main", Timestamp: ts, ChangedPaths: paths}
}

func newCorrelator(t *testing.T, commits ...models.CommitRecord) *Correlator {
	t.Helper()
	ix := history.NewIndex(config.HistoryConfig{})
	if len(commits) > 0 {
		ix.RecordPush("repo-1", commits)
	}
	return New(ix, config.ScoreConfig{})
}

func TestNoCandidatesMeansUnattributed(t *testing.T) {
	c := newCorrelator(t)

	attr := c.Correlate(signalAt(t0), "repo-1", models.RepositoryConfig{})
	assert.False(t, attr.Attributed())
	assert.Empty(t, attr.AttributedCommitSHA)
	assert.Zero(t, attr.Confidence)
}

func TestCommitsAfterSignalAreNeverCandidates(t *testing.T) {
	c := newCorrelator(t,
		commit("future", t0.Add(time.Minute), "src/a.go"),
		commit("past", t0.Add(-time.Minute), "src/a.go"),
	)

	attr := c.Correlate(signalAt(t0), "repo-1", models.RepositoryConfig{})
	require.True(t, attr.Attributed())
	assert.Equal(t, "past", attr.AttributedCommitSHA)
	for _, cand := range attr.Candidates {
		assert.NotEqual(t, "future", cand.Commit.SHA)
	}
}

func TestCriticalPathMatchAttributes(t *testing.T) {
	// criticalPaths = ["src/payments"], commit touching src/payments/charge.ts
	// at t=100, signal at t=105 with no serviceName.
	base := t0
	c := newCorrelator(t, commit("abc123", base.Add(100*time.Second), "src/payments/charge.ts"))

	sig := signalAt(base.Add(105 * time.Second))
	attr := c.Correlate(sig, "repo-1", models.RepositoryConfig{CriticalPaths: []string{"src/payments"}})

	require.True(t, attr.Attributed())
	assert.Equal(t, "abc123", attr.AttributedCommitSHA)
	assert.Greater(t, attr.Confidence, 0.35)
	require.Len(t, attr.Candidates, 1)
	assert.Equal(t, []string{"src/payments/charge.ts"}, attr.Candidates[0].MatchedPaths)
}

func TestRecencyWinsWhenNoCriticalPaths(t *testing.T) {
	// criticalPaths = []; commits at t=50 and t=90, signal at t=100.
	base := t0
	c := newCorrelator(t,
		commit("older", base.Add(50*time.Second), "src/a.go"),
		commit("newer", base.Add(90*time.Second), "src/b.go"),
	)

	attr := c.Correlate(signalAt(base.Add(100*time.Second)), "repo-1", models.RepositoryConfig{})
	require.True(t, attr.Attributed())
	assert.Equal(t, "newer", attr.AttributedCommitSHA)
	require.Len(t, attr.Candidates, 2)
	assert.Greater(t, attr.Candidates[0].Score, attr.Candidates[1].Score)
}

func TestPathOverlapDominatesRecencyWhenConfigured(t *testing.T) {
	c := newCorrelator(t,
		commit("touches", t0.Add(-5*time.Hour), "src/payments/api.go"),
		commit("recent", t0.Add(-time.Minute), "docs/readme.md"),
	)

	repoCfg := models.RepositoryConfig{CriticalPaths: []string{"src/payments"}}
	attr := c.Correlate(signalAt(t0), "repo-1", repoCfg)
	require.True(t, attr.Attributed())
	assert.Equal(t, "touches", attr.AttributedCommitSHA)
}

func TestHorizonExcludesOldCommits(t *testing.T) {
	ix := history.NewIndex(config.HistoryConfig{})
	ix.RecordPush("repo-1", []models.CommitRecord{
		commit("ancient", t0.Add(-30*time.Hour), "src/a.go"),
	})
	c := New(ix, config.ScoreConfig{Horizon: 24 * time.Hour})

	attr := c.Correlate(signalAt(t0), "repo-1", models.RepositoryConfig{})
	assert.False(t, attr.Attributed())
	assert.Empty(t, attr.Candidates)
}

func TestTieBreakIsDeterministic(t *testing.T) {
	same := t0.Add(-time.Hour)
	c := newCorrelator(t,
		commit("bbb", same, "src/a.go"),
		commit("aaa", same, "src/b.go"),
		commit("ccc", same, "src/c.go"),
	)

	first := c.Correlate(signalAt(t0), "repo-1", models.RepositoryConfig{})
	require.Len(t, first.Candidates, 3)
	// Equal score and timestamp: lexicographic sha order.
	assert.Equal(t, "aaa", first.Candidates[0].Commit.SHA)
	assert.Equal(t, "bbb", first.Candidates[1].Commit.SHA)
	assert.Equal(t, "ccc", first.Candidates[2].Commit.SHA)

	for i := 0; i < 5; i++ {
		again := c.Correlate(signalAt(t0), "repo-1", models.RepositoryConfig{})
		assert.Equal(t, first.Candidates, again.Candidates)
	}
}

func TestTieBreakPrefersMostRecent(t *testing.T) {
	ix := history.NewIndex(config.HistoryConfig{})
	ix.RecordPush("repo-1", []models.CommitRecord{
		commit("older-match", t0.Add(-2*time.Hour), "src/payments/a.go"),
		commit("newer-match", t0.Add(-time.Hour), "src/payments/b.go"),
	})
	// Recency weight zero makes the two path scores tie exactly.
	c := New(ix, config.ScoreConfig{PathWeight: 1, RecencyWeight: 0.000001})
	c.cfg.RecencyWeight = 0

	attr := c.Correlate(signalAt(t0), "repo-1", models.RepositoryConfig{CriticalPaths: []string{"src/payments"}})
	require.Len(t, attr.Candidates, 2)
	assert.Equal(t, "newer-match", attr.Candidates[0].Commit.SHA)
}

func TestBelowThresholdIsUnattributedButScored(t *testing.T) {
	ix := history.NewIndex(config.HistoryConfig{})
	ix.RecordPush("repo-1", []models.CommitRecord{
		commit("miss", t0.Add(-time.Minute), "docs/readme.md"),
	})
	c := New(ix, config.ScoreConfig{AttributionThreshold: 0.9})

	attr := c.Correlate(signalAt(t0), "repo-1", models.RepositoryConfig{CriticalPaths: []string{"src/payments"}})
	assert.False(t, attr.Attributed())
	assert.NotEmpty(t, attr.Candidates)
}

func TestSeverityFromHint(t *testing.T) {
	c := newCorrelator(t, commit("a", t0.Add(-time.Minute), "src/a.go"))

	sig := signalAt(t0)
	sig.SeverityHint = models.SeverityCritical
	attr := c.Correlate(sig, "repo-1", models.RepositoryConfig{})
	assert.Equal(t, models.SeverityCritical, attr.Severity)
}

func TestSeverityHeuristic(t *testing.T) {
	// High-confidence attribution to a commit minutes old bumps severity.
	c := newCorrelator(t, commit("hot", t0.Add(-2*time.Minute), "src/payments/charge.go"))
	attr := c.Correlate(signalAt(t0), "repo-1", models.RepositoryConfig{CriticalPaths: []string{"src/payments"}})
	require.True(t, attr.Attributed())
	assert.Equal(t, models.SeverityHigh, attr.Severity)

	// Unattributed signals without a hint stay low.
	empty := newCorrelator(t)
	attr = empty.Correlate(signalAt(t0), "repo-1", models.RepositoryConfig{})
	assert.Equal(t, models.SeverityLow, attr.Severity)
}
