// Package model defines the core domain types shared across the fleet engine.
// Coordinates use shopspring/decimal — they round-trip the database's
// NUMERIC(9,6) columns exactly instead of accumulating float drift.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Robot statuses. A robot is "idle" until its first move.
const (
	StatusIdle   = "idle"
	StatusMoving = "moving"
)

// Robot is the current state of one tracked agent. Mutated only through
// the fleet service; never deleted in normal operation.
type Robot struct {
	ID        int64           `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Status    string          `json:"status" db:"status"` // "idle" or "moving"
	Lat       decimal.Decimal `json:"lat" db:"lat"`
	Lon       decimal.Decimal `json:"lon" db:"lon"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// PositionRecord is an immutable snapshot of a robot's position.
// One record is appended per successful move; records are never modified.
type PositionRecord struct {
	ID        int64           `json:"id" db:"id"`
	RobotID   int64           `json:"robot_id" db:"robot_id"`
	Lat       decimal.Decimal `json:"lat" db:"lat"`
	Lon       decimal.Decimal `json:"lon" db:"lon"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// RecentPosition is a history record joined with its robot's name and
// status, for the fleet-wide recent-positions view.
type RecentPosition struct {
	PositionRecord
	RobotName   string `json:"robot_name"`
	RobotStatus string `json:"robot_status"`
}

// RobotStatistics summarizes a robot's travel history. TotalDistanceKm is
// the sum of great-circle distances between consecutive history points in
// time order; zero when the history has fewer than two points.
type RobotStatistics struct {
	RobotID         int64           `json:"robot_id"`
	RobotName       string          `json:"robot_name"`
	PositionCount   int             `json:"position_count"`
	FirstPosition   *PositionRecord `json:"first_position"`
	LastPosition    *PositionRecord `json:"last_position"`
	TotalDistanceKm float64         `json:"total_distance_km"`
}
