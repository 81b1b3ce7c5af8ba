// Package store defines the persistence interface for the fleet engine.
// Implementations include PostgreSQL (source of truth), a Redis read-through
// cache wrapper, and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fleetmon/fleet-engine/internal/model"
)

// Typed failures surfaced to callers. Everything else is wrapped and
// propagated as-is.
var (
	// ErrNotFound means the requested robot or history is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a unique constraint was violated (duplicate name).
	ErrConflict = errors.New("already exists")

	// ErrUnavailable means a transient connectivity failure to the
	// durable store. Mutations abort and roll back; reads may be retried.
	ErrUnavailable = errors.New("store unavailable")
)

// Retryable reports whether an error is a transient store failure worth
// retrying. Constraint violations and missing rows are never retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// the Redis wrapper provides a fail-open cache layer on top.
type Store interface {
	// CreateRobot persists a new robot. Returns ErrConflict if the name
	// is already taken.
	CreateRobot(ctx context.Context, name string, lat, lon decimal.Decimal) (*model.Robot, error)

	// GetRobot retrieves a robot by ID. Returns ErrNotFound if absent.
	GetRobot(ctx context.Context, id int64) (*model.Robot, error)

	// ListRobots returns all robots ordered by updated_at descending.
	ListRobots(ctx context.Context) ([]model.Robot, error)

	// RecordMove atomically updates the robot's position (and marks it
	// moving) and appends a history record with the same coordinates and
	// timestamp. Both writes commit together or not at all; no reader
	// ever observes one without the other.
	RecordMove(ctx context.Context, id int64, lat, lon decimal.Decimal) (*model.Robot, error)

	// UpdateStatus sets the robot's status.
	UpdateStatus(ctx context.Context, id int64, status string) (*model.Robot, error)

	// History returns up to limit history records for a robot, most
	// recent first. Ties on created_at break by insertion ID.
	History(ctx context.Context, id int64, limit int) ([]model.PositionRecord, error)

	// RecentPositions returns the latest history records across the
	// whole fleet, joined with robot names.
	RecentPositions(ctx context.Context, limit int) ([]model.RecentPosition, error)

	// Statistics summarizes a robot's travel history: record count,
	// first and last positions, and total haversine distance.
	Statistics(ctx context.Context, id int64) (*model.RobotStatistics, error)
}
