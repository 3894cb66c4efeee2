// package engine orchestrates the signal pipeline: ingest, correlate, dedup,
// emit. Each signal is one unit of work; signals for different incidents run
// fully in parallel.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/gitsignal/incident-engine/internal/correlate"
	"github.com/gitsignal/incident-engine/internal/emit"
	"github.com/gitsignal/incident-engine/internal/ingest"
	"github.com/gitsignal/incident-engine/internal/models"
	"github.com/gitsignal/incident-engine/internal/repocfg"
	"github.com/gitsignal/incident-engine/internal/suppress"
)

// ErrQueueFull is returned by Submit when the async queue is saturated.
var ErrQueueFull = errors.New("signal queue full")

// Result is the outcome of one signal's pipeline run.
type Result struct {
	Signal     models.IncidentSignal
	Decision   suppress.Decision
	Alert      *models.Alert
	Suppressed bool
}

// Engine wires the pipeline components. All state is constructor-injected so
// tests can build isolated instances.
type Engine struct {
	ingestor   *ingest.Ingestor
	correlator *correlate.Correlator
	tracker    *suppress.Tracker
	emitter    *emit.Emitter
	configs    repocfg.Store

	queue chan task
	wg    sync.WaitGroup
}

type task struct {
	raw          []byte
	source       models.SignalSource
	repositoryID string
}

// New constructs an Engine. queueSize bounds the async submit queue.
func New(ingestor *ingest.Ingestor, correlator *correlate.Correlator, tracker *suppress.Tracker, emitter *emit.Emitter, configs repocfg.Store, queueSize int) *Engine {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Engine{
		ingestor:   ingestor,
		correlator: correlator,
		tracker:    tracker,
		emitter:    emitter,
		configs:    configs,
		queue:      make(chan task, queueSize),
	}
}

// Process runs one signal through the full pipeline synchronously.
// Ingestion errors are terminal for the signal and returned as-is; once past
// ingestion the pipeline always completes, even if the caller's request was
// cancelled, so dedup state is never left half-applied.
func (e *Engine) Process(ctx context.Context, raw []byte, source models.SignalSource, repositoryID string) (Result, error) {
	sig, err := e.ingestor.Ingest(raw, source)
	if err != nil {
		return Result{}, err
	}

	// Detach from request cancellation for the remaining phases.
	ctx = context.WithoutCancel(ctx)

	var repoCfg models.RepositoryConfig
	if repositoryID == "" && sig.ServiceName != "" {
		// Signals with no repository linkage route via the configured
		// incidentServiceName.
		if cfg, err := e.configs.FindByService(ctx, sig.ServiceName); err == nil {
			repositoryID = cfg.RepositoryID
			repoCfg = cfg
		}
	}
	if repoCfg.RepositoryID == "" {
		cfg, err := e.configs.Get(ctx, repositoryID)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				// Config momentarily unavailable: degrade to unattributed
				// rather than dropping the signal.
				log.Printf("[engine] repo config for %q unavailable: %v", repositoryID, err)
			}
			cfg = models.RepositoryConfig{RepositoryID: repositoryID}
		}
		repoCfg = cfg
	}

	attr := e.correlator.Correlate(sig, repositoryID, repoCfg)

	res := Result{Signal: sig}
	// The dedup transition and the alert handoff run under the key's lock so
	// an older signal can never overwrite a newer alert's bookkeeping.
	res.Decision = e.tracker.Observe(sig.Fingerprint, repositoryID, func(d suppress.Decision) {
		if !d.Emit {
			return
		}
		alert := e.emitter.Emit(ctx, attr, d)
		res.Alert = &alert
	})
	res.Suppressed = !res.Decision.Emit
	return res, nil
}

// Submit enqueues a signal for asynchronous processing by the worker pool.
func (e *Engine) Submit(raw []byte, source models.SignalSource, repositoryID string) error {
	t := task{raw: append([]byte(nil), raw...), source: source, repositoryID: repositoryID}
	select {
	case e.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches workers consuming the submit queue until ctx is cancelled.
// It returns immediately; call Wait to block on drain.
func (e *Engine) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 8
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-e.queue:
					if _, err := e.Process(ctx, t.raw, t.source, t.repositoryID); err != nil {
						log.Printf("[engine] drop signal for repo %q: %v", t.repositoryID, err)
					}
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}
