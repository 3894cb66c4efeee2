package repocfg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/gitsignal/incident-engine/internal/models"
)

// PGStore reads repository configuration straight from the CRUD boundary's
// table. Useful when the engine runs against the shared database instead of
// receiving config pushes.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed config store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Get fetches one repository's config.
func (p *PGStore) Get(ctx context.Context, repositoryID string) (models.RepositoryConfig, error) {
	q := `
		SELECT repository_id, critical_paths, incident_service_name
		FROM repository_configs WHERE repository_id = $1
	`
	var (
		cfg     models.RepositoryConfig
		paths   pq.StringArray
		service sql.NullString
	)
	err := p.db.QueryRowContext(ctx, q, repositoryID).Scan(&cfg.RepositoryID, &paths, &service)
	if err == sql.ErrNoRows {
		return models.RepositoryConfig{}, models.ErrNotFound
	}
	if err != nil {
		return models.RepositoryConfig{}, fmt.Errorf("get repository config: %w", err)
	}
	cfg.CriticalPaths = []string(paths)
	cfg.IncidentServiceName = service.String
	return cfg, nil
}

// FindByService resolves a repository from its configured service name.
func (p *PGStore) FindByService(ctx context.Context, serviceName string) (models.RepositoryConfig, error) {
	if serviceName == "" {
		return models.RepositoryConfig{}, models.ErrNotFound
	}
	q := `
		SELECT repository_id, critical_paths, incident_service_name
		FROM repository_configs WHERE incident_service_name = $1
		ORDER BY repository_id LIMIT 1
	`
	var (
		cfg     models.RepositoryConfig
		paths   pq.StringArray
		service sql.NullString
	)
	err := p.db.QueryRowContext(ctx, q, serviceName).Scan(&cfg.RepositoryID, &paths, &service)
	if err == sql.ErrNoRows {
		return models.RepositoryConfig{}, models.ErrNotFound
	}
	if err != nil {
		return models.RepositoryConfig{}, fmt.Errorf("find repository config by service: %w", err)
	}
	cfg.CriticalPaths = []string(paths)
	cfg.IncidentServiceName = service.String
	return cfg, nil
}

// Put upserts one repository's config.
func (p *PGStore) Put(ctx context.Context, cfg models.RepositoryConfig) error {
	q := `
		INSERT INTO repository_configs (repository_id, critical_paths, incident_service_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (repository_id) DO UPDATE
		SET critical_paths = EXCLUDED.critical_paths,
		    incident_service_name = EXCLUDED.incident_service_name
	`
	_, err := p.db.ExecContext(ctx, q,
		cfg.RepositoryID,
		pq.StringArray(cfg.CriticalPaths),
		sql.NullString{String: cfg.IncidentServiceName, Valid: cfg.IncidentServiceName != ""},
	)
	if err != nil {
		return fmt.Errorf("put repository config: %w", err)
	}
	return nil
}
