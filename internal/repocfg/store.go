// package repocfg is the engine-side read path for per-repository
// configuration owned by the CRUD boundary.
package repocfg

import (
	"context"
	"sync"

	"github.com/gitsignal/incident-engine/internal/models"
)

// Store supplies RepositoryConfig per repository. Reads are eventually
// consistent with the owning collaborator: a short lag after an update is
// acceptable.
type Store interface {
	Get(ctx context.Context, repositoryID string) (models.RepositoryConfig, error)
	// FindByService resolves a repository from its configured
	// incidentServiceName, for signals that arrive with no repository
	// linkage of their own.
	FindByService(ctx context.Context, serviceName string) (models.RepositoryConfig, error)
	Put(ctx context.Context, cfg models.RepositoryConfig) error
}

// MemoryStore is the in-process snapshot, refreshed whenever the collaborator
// pushes a config update.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]models.RepositoryConfig
}

// NewMemoryStore constructs an empty snapshot.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: map[string]models.RepositoryConfig{}}
}

// Get returns the config for a repository, or models.ErrNotFound when the
// engine has never seen one (the caller correlates against an empty config).
func (m *MemoryStore) Get(ctx context.Context, repositoryID string) (models.RepositoryConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[repositoryID]
	if !ok {
		return models.RepositoryConfig{}, models.ErrNotFound
	}
	return copyConfig(cfg), nil
}

// FindByService returns the first config whose incidentServiceName matches.
// Service names are expected to be unique across repositories; ties resolve
// by lowest repository id for determinism.
func (m *MemoryStore) FindByService(ctx context.Context, serviceName string) (models.RepositoryConfig, error) {
	if serviceName == "" {
		return models.RepositoryConfig{}, models.ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.RepositoryConfig
	for id, cfg := range m.configs {
		if cfg.IncidentServiceName != serviceName {
			continue
		}
		if best == nil || id < best.RepositoryID {
			c := cfg
			best = &c
		}
	}
	if best == nil {
		return models.RepositoryConfig{}, models.ErrNotFound
	}
	return copyConfig(*best), nil
}

// Put replaces the stored config for cfg.RepositoryID.
func (m *MemoryStore) Put(ctx context.Context, cfg models.RepositoryConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.RepositoryID] = copyConfig(cfg)
	return nil
}

func copyConfig(cfg models.RepositoryConfig) models.RepositoryConfig {
	cfg.CriticalPaths = append([]string(nil), cfg.CriticalPaths...)
	return cfg
}
