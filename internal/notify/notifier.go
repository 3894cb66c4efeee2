// package notify holds the engine side of the notification boundary: each
// emitted alert is handed to every configured sink exactly once. Sinks own
// their delivery retries; the engine never blocks on them.
package notify

import (
	"context"
	"log"

	"github.com/gitsignal/incident-engine/internal/models"
)

// Sink receives ownership of an emitted alert. Implementations must be safe
// for concurrent use.
type Sink interface {
	Deliver(ctx context.Context, alert models.Alert) error
	Name() string
}

// Fanout delivers to all configured sinks. A failing sink is logged and
// skipped; delivery retry is the boundary's responsibility, not the engine's.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a Fanout over the given sinks. Nil sinks are dropped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Deliver hands the alert to every sink. Errors do not short-circuit: the SSE
// stream should still see an alert whose notification row insert failed.
func (f *Fanout) Deliver(ctx context.Context, alert models.Alert) error {
	for _, s := range f.sinks {
		if err := s.Deliver(ctx, alert); err != nil {
			log.Printf("[notify] sink %s failed for alert %s: %v", s.Name(), alert.ID, err)
		}
	}
	return nil
}

// Name implements Sink so fanouts can nest.
func (f *Fanout) Name() string { return "fanout" }
