package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitsignal/incident-engine/internal/config"
	"github.com/gitsignal/incident-engine/internal/correlate"
	"github.com/gitsignal/incident-engine/internal/emit"
	"github.com/gitsignal/incident-engine/internal/history"
	"github.com/gitsignal/incident-engine/internal/ingest"
	"github.com/gitsignal/incident-engine/internal/models"
	"github.com/gitsignal/incident-engine/internal/notify"
	"github.com/gitsignal/incident-engine/internal/repocfg"
	"github.com/gitsignal/incident-engine/internal/suppress"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (c *captureSink) Deliver(ctx context.Context, alert models.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) snapshot() []models.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Alert(nil), c.alerts...)
}

type harness struct {
	engine  *Engine
	index   *history.Index
	configs *repocfg.MemoryStore
	sink    *captureSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	index := history.NewIndex(config.HistoryConfig{})
	configs := repocfg.NewMemoryStore()
	sink := &captureSink{}
	eng := New(
		ingest.New(config.IngestConfig{}),
		correlate.New(index, config.ScoreConfig{}),
		suppress.NewTracker(config.SuppressConfig{}),
		emit.New(notify.NewFanout(sink)),
		configs,
		16,
	)
	return &harness{engine: eng, index: index, configs: configs, sink: sink}
}

func rawSignal(fingerprint string, occurredAt time.Time) []byte {
	return []byte(fmt.Sprintf(`{"fingerprint":%q,"title":"error spike","occurredAt":%q}`,
		fingerprint, occurredAt.Format(time.RFC3339)))
}

func TestProcessEmitsAttributedAlert(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC().Add(-time.Minute)

	h.configs.Put(context.Background(), models.RepositoryConfig{
		RepositoryID:  "repo-1",
		CriticalPaths: []string{"src/payments"},
	})
	h.index.RecordPush("repo-1", []models.CommitRecord{{
		SHA:          "abc123",
		Timestamp:    now.Add(-5 * time.Minute),
		ChangedPaths: []string{"src/payments/charge.ts"},
	}})

	res, err := h.engine.Process(context.Background(), rawSignal("fp-1", now), models.SourceErrorTracker, "repo-1")
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Equal(t, "abc123", res.Alert.AttributedCommitSHA)
	assert.Equal(t, "repo-1", res.Alert.RepositoryID)
	assert.False(t, res.Suppressed)
	assert.Len(t, h.sink.snapshot(), 1)
}

func TestProcessUnknownRepositoryStillAlerts(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC().Add(-time.Minute)

	// No config, no history: the user should still learn of the incident.
	res, err := h.engine.Process(context.Background(), rawSignal("fp-1", now), models.SourceErrorTracker, "repo-unknown")
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Empty(t, res.Alert.AttributedCommitSHA)
	assert.Zero(t, res.Alert.Confidence)
}

func TestProcessMalformedSignalIsTerminal(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Process(context.Background(), []byte(`{"title":"no fingerprint"}`), models.SourceErrorTracker, "repo-1")
	assert.ErrorIs(t, err, ingest.ErrMalformedSignal)
	// No alert, no dedup state.
	assert.Empty(t, h.sink.snapshot())
}

func TestProcessSuppressesDuplicateWithinWindow(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC().Add(-time.Minute)

	first, err := h.engine.Process(context.Background(), rawSignal("X", now), models.SourceErrorTracker, "repo-1")
	require.NoError(t, err)
	require.NotNil(t, first.Alert)

	second, err := h.engine.Process(context.Background(), rawSignal("X", now.Add(time.Second)), models.SourceErrorTracker, "repo-1")
	require.NoError(t, err)
	assert.Nil(t, second.Alert)
	assert.True(t, second.Suppressed)
	assert.Equal(t, 2, second.Decision.Occurrences)

	assert.Len(t, h.sink.snapshot(), 1)
}

func TestProcessEscalatesPastThreshold(t *testing.T) {
	index := history.NewIndex(config.HistoryConfig{})
	sink := &captureSink{}
	eng := New(
		ingest.New(config.IngestConfig{}),
		correlate.New(index, config.ScoreConfig{}),
		suppress.NewTracker(config.SuppressConfig{
			Window:              time.Hour,
			ReAlertInterval:     time.Hour,
			EscalationThreshold: 3,
		}),
		emit.New(notify.NewFanout(sink)),
		repocfg.NewMemoryStore(),
		16,
	)

	now := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		_, err := eng.Process(context.Background(), rawSignal("X", now), models.SourceErrorTracker, "repo-1")
		require.NoError(t, err)
	}

	// First occurrence alerts, third escalates mid-window.
	alerts := sink.snapshot()
	require.Len(t, alerts, 2)
	assert.Contains(t, alerts[1].Title, "3 occurrences")
}

func TestProcessSimulationMarksTestAlert(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.Process(context.Background(), []byte(`{"title":"drill"}`), models.SourceManualSimulation, "repo-1")
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.True(t, res.Alert.Test)
}

func TestProcessCompletesAfterCallerCancellation(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC().Add(-time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Past ingestion the pipeline must finish: dedup bookkeeping and the
	// alert handoff are atomic as a unit.
	res, err := h.engine.Process(ctx, rawSignal("fp-1", now), models.SourceErrorTracker, "repo-1")
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Len(t, h.sink.snapshot(), 1)
}

func TestPerKeyOrderingUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC().Add(-time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			fp := fmt.Sprintf("fp-%d", n%2)
			for j := 0; j < 25; j++ {
				_, err := h.engine.Process(context.Background(), rawSignal(fp, now), models.SourceErrorTracker, "repo-1")
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	// 50 occurrences per key: first alert plus escalations at every 10th
	// occurrence, per key.
	alerts := h.sink.snapshot()
	counts := map[string]int{}
	for _, a := range alerts {
		counts[a.DedupKey]++
	}
	require.Len(t, counts, 2)
	for key, n := range counts {
		assert.Equal(t, 6, n, "key %s", key)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	index := history.NewIndex(config.HistoryConfig{})
	eng := New(
		ingest.New(config.IngestConfig{}),
		correlate.New(index, config.ScoreConfig{}),
		suppress.NewTracker(config.SuppressConfig{}),
		emit.New(notify.NewFanout()),
		repocfg.NewMemoryStore(),
		1,
	)

	require.NoError(t, eng.Submit([]byte(`{}`), models.SourceErrorTracker, "repo-1"))
	err := eng.Submit([]byte(`{}`), models.SourceErrorTracker, "repo-1")
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestWorkersDrainQueue(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC().Add(-time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	h.engine.Start(ctx, 4)

	for i := 0; i < 10; i++ {
		require.NoError(t, h.engine.Submit(rawSignal(fmt.Sprintf("fp-%d", i), now), models.SourceErrorTracker, "repo-1"))
	}

	require.Eventually(t, func() bool {
		return len(h.sink.snapshot()) == 10
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	h.engine.Wait()
}

func TestDegradesWhenConfigStoreErrors(t *testing.T) {
	index := history.NewIndex(config.HistoryConfig{})
	sink := &captureSink{}
	eng := New(
		ingest.New(config.IngestConfig{}),
		correlate.New(index, config.ScoreConfig{}),
		suppress.NewTracker(config.SuppressConfig{}),
		emit.New(notify.NewFanout(sink)),
		failingConfigStore{},
		16,
	)

	now := time.Now().UTC().Add(-time.Minute)
	res, err := eng.Process(context.Background(), rawSignal("fp-1", now), models.SourceErrorTracker, "repo-1")
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Empty(t, res.Alert.AttributedCommitSHA)
}

type failingConfigStore struct{}

func (failingConfigStore) Get(ctx context.Context, repositoryID string) (models.RepositoryConfig, error) {
	return models.RepositoryConfig{}, errors.New("config store unavailable")
}

func (failingConfigStore) FindByService(ctx context.Context, serviceName string) (models.RepositoryConfig, error) {
	return models.RepositoryConfig{}, errors.New("config store unavailable")
}

func (failingConfigStore) Put(ctx context.Context, cfg models.RepositoryConfig) error {
	return errors.New("config store unavailable")
}

func TestProcessRoutesByServiceName(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC().Add(-time.Minute)

	h.configs.Put(context.Background(), models.RepositoryConfig{
		RepositoryID:        "repo-payments",
		CriticalPaths:       []string{"src/payments"},
		IncidentServiceName: "payments",
	})
	h.index.RecordPush("repo-payments", []models.CommitRecord{{
		SHA:          "abc123",
		Timestamp:    now.Add(-5 * time.Minute),
		ChangedPaths: []string{"src/payments/charge.ts"},
	}})

	// The signal carries no repository linkage, only a service name.
	raw := []byte(fmt.Sprintf(`{"fingerprint":"fp-1","title":"error spike","serviceName":"payments","occurredAt":%q}`,
		now.Format(time.RFC3339)))
	res, err := h.engine.Process(context.Background(), raw, models.SourceErrorTracker, "")
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Equal(t, "repo-payments", res.Alert.RepositoryID)
	assert.Equal(t, "abc123", res.Alert.AttributedCommitSHA)
}
