// package models contains the canonical types exchanged between the engine's components.
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SignalSource identifies where an incident signal originated.
type SignalSource string

const (
	SourceErrorTracker     SignalSource = "error_tracker"
	SourceManualSimulation SignalSource = "manual_simulation"
)

// Severity captures alert impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IncidentSignal is the normalized, immutable input to the correlation pipeline.
// It is produced by ingestion and discarded once the pipeline completes.
type IncidentSignal struct {
	Source       SignalSource `json:"source"`
	ServiceName  string       `json:"serviceName,omitempty"`
	Fingerprint  string       `json:"fingerprint"`
	Title        string       `json:"title"`
	Message      string       `json:"message,omitempty"`
	OccurredAt   time.Time    `json:"occurredAt"`
	SeverityHint Severity     `json:"severityHint,omitempty"`
}

// IsSimulation reports whether the signal came from the developer simulate trigger.
func (s IncidentSignal) IsSimulation() bool {
	return s.Source == SourceManualSimulation
}

// CommitRecord is one commit as seen by the Commit History Index.
type CommitRecord struct {
	SHA          string    `json:"sha"`
	Author       string    `json:"author"`
	Branch       string    `json:"branch"`
	Timestamp    time.Time `json:"timestamp"`
	ChangedPaths []string  `json:"changedPaths"`
	Message      string    `json:"message,omitempty"`
}

// RepositoryConfig is the per-repository tuning supplied by the CRUD boundary.
// The engine treats it as read-only and eventually consistent.
type RepositoryConfig struct {
	RepositoryID        string   `json:"repositoryId"`
	CriticalPaths       []string `json:"criticalPaths"`
	IncidentServiceName string   `json:"incidentServiceName,omitempty"`
}

// CandidateScore is one ranked commit within an attribution.
type CandidateScore struct {
	Commit       CommitRecord `json:"commit"`
	Score        float64      `json:"score"`
	MatchedPaths []string     `json:"matchedPaths,omitempty"`
}

// Attribution is the transient result of a single correlation pass.
// AttributedCommitSHA is empty when no candidate cleared the attribution
// threshold; the ranked candidate list is kept either way.
type Attribution struct {
	Signal              IncidentSignal   `json:"signal"`
	RepositoryID        string           `json:"repositoryId,omitempty"`
	Candidates          []CandidateScore `json:"candidates,omitempty"`
	AttributedCommitSHA string           `json:"attributedCommitSha,omitempty"`
	Confidence          float64          `json:"confidence"`
	Severity            Severity         `json:"severity"`
}

// Attributed reports whether the top candidate cleared the attribution threshold.
func (a Attribution) Attributed() bool {
	return a.AttributedCommitSHA != ""
}

// Alert is the engine's sole externally visible artifact. Ownership transfers
// to the notification boundary on emission; the engine keeps no copy.
type Alert struct {
	ID                  uuid.UUID `json:"id"`
	RepositoryID        string    `json:"repositoryId,omitempty"`
	Title               string    `json:"title"`
	Message             string    `json:"message,omitempty"`
	Severity            Severity  `json:"severity"`
	Confidence          float64   `json:"confidence"`
	AttributedCommitSHA string    `json:"attributedCommitSha,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	DedupKey            string    `json:"dedupKey"`
	Test                bool      `json:"test,omitempty"`
}

// ErrNotFound is returned when a requested record cannot be located.
var ErrNotFound = errors.New("not found")

// NewUUID returns a freshly-generated UUID.
func NewUUID() uuid.UUID {
	return uuid.New()
}
