package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gitsignal/incident-engine/internal/models"
)

// PGStore writes each emitted alert as a notification row. The dashboard and
// the Slack delivery worker read from this table; the engine only inserts.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed notification sink.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Deliver inserts the alert as a notification row. The dedup_key conflict
// clause absorbs the rare duplicate produced by a restart re-opening a
// suppression window: the row keyed by (dedup_key, created_at) stays unique
// while legitimate re-alerts for the same incident still land.
func (p *PGStore) Deliver(ctx context.Context, alert models.Alert) error {
	q := `
		INSERT INTO notifications (id, type, repository_id, title, message, severity, confidence, attributed_commit_sha, dedup_key, is_test, created_at)
		VALUES ($1, 'incident_alert', $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := p.db.ExecContext(ctx, q,
		alert.ID,
		nullString(alert.RepositoryID),
		alert.Title,
		alert.Message,
		string(alert.Severity),
		alert.Confidence,
		nullString(alert.AttributedCommitSHA),
		alert.DedupKey,
		alert.Test,
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Name implements Sink.
func (p *PGStore) Name() string { return "pg" }

// GetNotification fetches one notification row by id, mostly for tests and
// the health surface.
func (p *PGStore) GetNotification(ctx context.Context, id uuid.UUID) (models.Alert, error) {
	q := `
		SELECT id, repository_id, title, message, severity, confidence, attributed_commit_sha, dedup_key, is_test, created_at
		FROM notifications WHERE id = $1
	`
	var (
		alert    models.Alert
		repoID   sql.NullString
		sha      sql.NullString
		severity string
		created  time.Time
	)
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&alert.ID, &repoID, &alert.Title, &alert.Message, &severity,
		&alert.Confidence, &sha, &alert.DedupKey, &alert.Test, &created,
	)
	if err == sql.ErrNoRows {
		return models.Alert{}, models.ErrNotFound
	}
	if err != nil {
		return models.Alert{}, err
	}
	alert.RepositoryID = repoID.String
	alert.AttributedCommitSHA = sha.String
	alert.Severity = models.Severity(severity)
	alert.CreatedAt = created.UTC()
	return alert, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
