// package ingest normalizes heterogeneous incoming incident payloads into
// canonical IncidentSignal values.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gitsignal/incident-engine/internal/config"
	"github.com/gitsignal/incident-engine/internal/models"
)

// ErrMalformedSignal indicates a payload missing required fields. The signal
// is rejected before any pipeline state is touched.
var ErrMalformedSignal = errors.New("malformed signal")

// ErrClockSkew indicates occurredAt is further in the future than the
// configured skew allowance.
var ErrClockSkew = errors.New("signal timestamp too far in the future")

// RawSignal is the wire shape accepted from signal sources.
type RawSignal struct {
	ServiceName  string     `json:"serviceName"`
	Fingerprint  string     `json:"fingerprint"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	OccurredAt   *time.Time `json:"occurredAt"`
	SeverityHint string     `json:"severityHint"`
}

// Ingestor validates and normalizes raw payloads.
type Ingestor struct {
	cfg config.IngestConfig
	now func() time.Time
}

// New constructs an Ingestor. A zero MaxFutureSkew gets a 2 minute default.
func New(cfg config.IngestConfig) *Ingestor {
	if cfg.MaxFutureSkew <= 0 {
		cfg.MaxFutureSkew = 2 * time.Minute
	}
	return &Ingestor{cfg: cfg, now: time.Now}
}

// Ingest parses and validates a raw payload, producing an immutable
// IncidentSignal. manual_simulation payloads skip external-source field
// validation but carry the source tag so downstream marks them as test alerts.
func (i *Ingestor) Ingest(raw []byte, source models.SignalSource) (models.IncidentSignal, error) {
	var in RawSignal
	if err := json.Unmarshal(raw, &in); err != nil {
		return models.IncidentSignal{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	return i.Normalize(in, source)
}

// Normalize validates an already-decoded payload.
func (i *Ingestor) Normalize(in RawSignal, source models.SignalSource) (models.IncidentSignal, error) {
	now := i.now().UTC()

	sig := models.IncidentSignal{
		Source:      source,
		ServiceName: in.ServiceName,
		Fingerprint: in.Fingerprint,
		Title:       in.Title,
		Message:     in.Message,
	}

	if in.OccurredAt != nil {
		sig.OccurredAt = in.OccurredAt.UTC()
	}

	if source == models.SourceManualSimulation {
		// Dev-mode trigger: fill the gaps instead of rejecting.
		if sig.Fingerprint == "" {
			sig.Fingerprint = "simulated-" + models.NewUUID().String()
		}
		if sig.Title == "" {
			sig.Title = "Simulated incident"
		}
		if sig.OccurredAt.IsZero() {
			sig.OccurredAt = now
		}
	} else {
		if sig.Fingerprint == "" {
			return models.IncidentSignal{}, fmt.Errorf("%w: fingerprint required", ErrMalformedSignal)
		}
		if sig.Title == "" {
			return models.IncidentSignal{}, fmt.Errorf("%w: title required", ErrMalformedSignal)
		}
		if sig.OccurredAt.IsZero() {
			return models.IncidentSignal{}, fmt.Errorf("%w: occurredAt required", ErrMalformedSignal)
		}
	}

	if sig.OccurredAt.After(now.Add(i.cfg.MaxFutureSkew)) {
		return models.IncidentSignal{}, fmt.Errorf("%w: occurredAt=%s now=%s", ErrClockSkew,
			sig.OccurredAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	if hint, ok := parseSeverity(in.SeverityHint); ok {
		sig.SeverityHint = hint
	}

	return sig, nil
}

func parseSeverity(s string) (models.Severity, bool) {
	switch models.Severity(s) {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return models.Severity(s), true
	}
	return "", false
}
