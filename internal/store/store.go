// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/triage-agents/internal/domain"
)

// Repository defines the interface for persisting agents and run history.
type Repository interface {
	// ReplaceAgents stores agents as the current registry, removing any
	// previously stored agents.
	ReplaceAgents(ctx context.Context, agents []domain.Agent) error

	// GetAgents returns the current registry in role order.
	GetAgents(ctx context.Context) ([]domain.Agent, error)

	// RecordRun creates or updates a run record keyed by run id.
	RecordRun(ctx context.Context, run *domain.RunRecord) error

	// GetRun retrieves a run by id. It returns nil, nil when the run is unknown.
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)

	// ListRuns returns the most recently updated runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
