package store

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fleetmon/fleet-engine/internal/geo"
	"github.com/fleetmon/fleet-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Coordinates are stored as NUMERIC(9,6) for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema ensures the robots and robot_positions tables exist. Deleting
// a robot cascades to its history.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS robots (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) UNIQUE NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'idle' CHECK (status IN ('idle', 'moving')),
			lat NUMERIC(9,6) NOT NULL,
			lon NUMERIC(9,6) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS robot_positions (
			id SERIAL PRIMARY KEY,
			robot_id INTEGER NOT NULL REFERENCES robots(id) ON DELETE CASCADE,
			lat NUMERIC(9,6) NOT NULL,
			lon NUMERIC(9,6) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_robot_positions_robot_id
			ON robot_positions(robot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_robot_positions_created_at
			ON robot_positions(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", classify(err))
		}
	}
	return nil
}

func (s *PostgresStore) CreateRobot(ctx context.Context, name string, lat, lon decimal.Decimal) (*model.Robot, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO robots (name, status, lat, lon)
		 VALUES ($1, 'idle', $2::NUMERIC, $3::NUMERIC)
		 RETURNING id, name, status, lat::TEXT, lon::TEXT, updated_at`,
		name, lat.String(), lon.String())

	robot, err := scanRobot(row)
	if err != nil {
		return nil, fmt.Errorf("create robot %q: %w", name, classify(err))
	}
	return robot, nil
}

func (s *PostgresStore) GetRobot(ctx context.Context, id int64) (*model.Robot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, status, lat::TEXT, lon::TEXT, updated_at
		 FROM robots WHERE id = $1`, id)

	robot, err := scanRobot(row)
	if err != nil {
		return nil, fmt.Errorf("get robot %d: %w", id, classify(err))
	}
	return robot, nil
}

func (s *PostgresStore) ListRobots(ctx context.Context) ([]model.Robot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, lat::TEXT, lon::TEXT, updated_at
		 FROM robots ORDER BY updated_at DESC`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var robots []model.Robot
	for rows.Next() {
		robot, err := scanRobot(rows)
		if err != nil {
			return nil, err
		}
		robots = append(robots, *robot)
	}
	return robots, classify(rows.Err())
}

// RecordMove runs the position update and the history insert in a single
// serializable transaction. The history row carries the exact updated_at
// of the robot row, so both always reflect the same write.
func (s *PostgresStore) RecordMove(ctx context.Context, id int64, lat, lon decimal.Decimal) (*model.Robot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("record move %d: begin: %w", id, classify(err))
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`UPDATE robots
		 SET lat = $1::NUMERIC, lon = $2::NUMERIC, status = 'moving', updated_at = NOW()
		 WHERE id = $3
		 RETURNING id, name, status, lat::TEXT, lon::TEXT, updated_at`,
		lat.String(), lon.String(), id)

	robot, err := scanRobot(row)
	if err != nil {
		return nil, fmt.Errorf("record move %d: %w", id, classify(err))
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO robot_positions (robot_id, lat, lon, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)`,
		id, lat.String(), lon.String(), robot.UpdatedAt); err != nil {
		return nil, fmt.Errorf("record move %d: history: %w", id, classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("record move %d: commit: %w", id, classify(err))
	}
	return robot, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status string) (*model.Robot, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE robots SET status = $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING id, name, status, lat::TEXT, lon::TEXT, updated_at`,
		status, id)

	robot, err := scanRobot(row)
	if err != nil {
		return nil, fmt.Errorf("update status %d: %w", id, classify(err))
	}
	return robot, nil
}

func (s *PostgresStore) History(ctx context.Context, id int64, limit int) ([]model.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, robot_id, lat::TEXT, lon::TEXT, created_at
		 FROM robot_positions
		 WHERE robot_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, id, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) RecentPositions(ctx context.Context, limit int) ([]model.RecentPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT rp.id, rp.robot_id, rp.lat::TEXT, rp.lon::TEXT, rp.created_at,
		        r.name, r.status
		 FROM robot_positions rp
		 JOIN robots r ON r.id = rp.robot_id
		 ORDER BY rp.created_at DESC, rp.id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var recent []model.RecentPosition
	for rows.Next() {
		var p model.RecentPosition
		var latS, lonS string
		if err := rows.Scan(&p.ID, &p.RobotID, &latS, &lonS, &p.CreatedAt,
			&p.RobotName, &p.RobotStatus); err != nil {
			return nil, err
		}
		p.Lat, _ = decimal.NewFromString(latS)
		p.Lon, _ = decimal.NewFromString(lonS)
		recent = append(recent, p)
	}
	return recent, classify(rows.Err())
}

func (s *PostgresStore) Statistics(ctx context.Context, id int64) (*model.RobotStatistics, error) {
	robot, err := s.GetRobot(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, robot_id, lat::TEXT, lon::TEXT, created_at
		 FROM robot_positions
		 WHERE robot_id = $1
		 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	records, err := scanPositions(rows)
	if err != nil {
		return nil, err
	}

	stats := &model.RobotStatistics{
		RobotID:         id,
		RobotName:       robot.Name,
		PositionCount:   len(records),
		TotalDistanceKm: geo.PathDistanceKm(records),
	}
	if len(records) > 0 {
		first, last := records[0], records[len(records)-1]
		stats.FirstPosition = &first
		stats.LastPosition = &last
	}
	return stats, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRobot(row rowScanner) (*model.Robot, error) {
	var r model.Robot
	var latS, lonS string
	if err := row.Scan(&r.ID, &r.Name, &r.Status, &latS, &lonS, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Lat, _ = decimal.NewFromString(latS)
	r.Lon, _ = decimal.NewFromString(lonS)
	return &r, nil
}

func scanPositions(rows pgx.Rows) ([]model.PositionRecord, error) {
	var records []model.PositionRecord
	for rows.Next() {
		var p model.PositionRecord
		var latS, lonS string
		if err := rows.Scan(&p.ID, &p.RobotID, &latS, &lonS, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Lat, _ = decimal.NewFromString(latS)
		p.Lon, _ = decimal.NewFromString(lonS)
		records = append(records, p)
	}
	return records, classify(rows.Err())
}

// classify maps driver errors onto the store's error taxonomy: missing
// rows become ErrNotFound, unique violations ErrConflict, and connection
// failures ErrUnavailable (the only retryable class).
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case pgErr.Code == "23503":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08": // connection exception
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
