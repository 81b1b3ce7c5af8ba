package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetmon/fleet-engine/internal/geo"
	"github.com/fleetmon/fleet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	robots     map[int64]*model.Robot
	positions  []model.PositionRecord
	nextRobot  int64
	nextRecord int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		robots: make(map[int64]*model.Robot),
	}
}

func (s *MemoryStore) CreateRobot(_ context.Context, name string, lat, lon decimal.Decimal) (*model.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.robots {
		if existing.Name == name {
			return nil, fmt.Errorf("robot %q: %w", name, ErrConflict)
		}
	}

	s.nextRobot++
	robot := &model.Robot{
		ID:        s.nextRobot,
		Name:      name,
		Status:    model.StatusIdle,
		Lat:       lat,
		Lon:       lon,
		UpdatedAt: time.Now().UTC(),
	}
	s.robots[robot.ID] = robot

	copy := *robot
	return &copy, nil
}

func (s *MemoryStore) GetRobot(_ context.Context, id int64) (*model.Robot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	robot, ok := s.robots[id]
	if !ok {
		return nil, fmt.Errorf("robot %d: %w", id, ErrNotFound)
	}
	copy := *robot
	return &copy, nil
}

func (s *MemoryStore) ListRobots(_ context.Context) ([]model.Robot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	robots := make([]model.Robot, 0, len(s.robots))
	for _, r := range s.robots {
		robots = append(robots, *r)
	}
	sort.Slice(robots, func(i, j int) bool {
		return robots[i].UpdatedAt.After(robots[j].UpdatedAt)
	})
	return robots, nil
}

// RecordMove performs both writes under one lock so no reader can observe
// the updated robot without its history record.
func (s *MemoryStore) RecordMove(_ context.Context, id int64, lat, lon decimal.Decimal) (*model.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	robot, ok := s.robots[id]
	if !ok {
		return nil, fmt.Errorf("robot %d: %w", id, ErrNotFound)
	}

	now := time.Now().UTC()
	robot.Lat = lat
	robot.Lon = lon
	robot.Status = model.StatusMoving
	robot.UpdatedAt = now

	s.nextRecord++
	s.positions = append(s.positions, model.PositionRecord{
		ID:        s.nextRecord,
		RobotID:   id,
		Lat:       lat,
		Lon:       lon,
		CreatedAt: now,
	})

	copy := *robot
	return &copy, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id int64, status string) (*model.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	robot, ok := s.robots[id]
	if !ok {
		return nil, fmt.Errorf("robot %d: %w", id, ErrNotFound)
	}
	robot.Status = status
	robot.UpdatedAt = time.Now().UTC()

	copy := *robot
	return &copy, nil
}

func (s *MemoryStore) History(_ context.Context, id int64, limit int) ([]model.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.historyAscLocked(id)

	// Most recent first, ties broken by insertion ID.
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *MemoryStore) RecentPositions(_ context.Context, limit int) ([]model.RecentPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := make([]model.RecentPosition, 0, len(s.positions))
	for _, p := range s.positions {
		robot, ok := s.robots[p.RobotID]
		if !ok {
			continue
		}
		recent = append(recent, model.RecentPosition{
			PositionRecord: p,
			RobotName:      robot.Name,
			RobotStatus:    robot.Status,
		})
	}
	sort.Slice(recent, func(i, j int) bool {
		if !recent[i].CreatedAt.Equal(recent[j].CreatedAt) {
			return recent[i].CreatedAt.After(recent[j].CreatedAt)
		}
		return recent[i].ID > recent[j].ID
	})
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

func (s *MemoryStore) Statistics(_ context.Context, id int64) (*model.RobotStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	robot, ok := s.robots[id]
	if !ok {
		return nil, fmt.Errorf("robot %d: %w", id, ErrNotFound)
	}

	records := s.historyAscLocked(id)
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

// historyAscLocked returns a robot's records in time-ascending order.
// Callers must hold at least the read lock.
func (s *MemoryStore) historyAscLocked(id int64) []model.PositionRecord {
	var records []model.PositionRecord
	for _, p := range s.positions {
		if p.RobotID == id {
			records = append(records, p)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records
}
