// package emit builds canonical Alert records and hands them to the
// notification boundary.
package emit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/gitsignal/incident-engine/internal/models"
	"github.com/gitsignal/incident-engine/internal/notify"
	"github.com/gitsignal/incident-engine/internal/suppress"
)

// Emitter builds alerts and transfers ownership to the boundary. Emission is
// fire-and-forget: boundary failures are logged, never retried here.
type Emitter struct {
	boundary notify.Sink
	now      func() time.Time
}

// New constructs an Emitter over the notification boundary.
func New(boundary notify.Sink) *Emitter {
	return &Emitter{boundary: boundary, now: time.Now}
}

// DedupKey derives the stable alert dedup key for a fingerprint/repository
// pair.
func DedupKey(fingerprint, repositoryID string) string {
	sum := sha256.Sum256([]byte(suppress.Key(fingerprint, repositoryID)))
	return hex.EncodeToString(sum[:])
}

// Emit builds the Alert for an accepted signal and delivers it. The returned
// Alert is the caller's only copy; the engine retains nothing.
func (e *Emitter) Emit(ctx context.Context, attr models.Attribution, decision suppress.Decision) models.Alert {
	sig := attr.Signal
	title := sig.Title
	if decision.Escalated {
		title = fmt.Sprintf("%s (%d occurrences)", title, decision.Occurrences)
	}

	alert := models.Alert{
		ID:                  models.NewUUID(),
		RepositoryID:        attr.RepositoryID,
		Title:               title,
		Message:             sig.Message,
		Severity:            attr.Severity,
		Confidence:          attr.Confidence,
		AttributedCommitSHA: attr.AttributedCommitSHA,
		CreatedAt:           e.now().UTC(),
		DedupKey:            DedupKey(sig.Fingerprint, attr.RepositoryID),
		Test:                sig.IsSimulation(),
	}

	if err := e.boundary.Deliver(ctx, alert); err != nil {
		log.Printf("[emit] boundary delivery failed for alert %s: %v", alert.ID, err)
	}
	return alert
}
