package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fleetmon/fleet-engine/internal/metrics"
	"github.com/fleetmon/fleet-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache after the
// underlying transaction has committed; reads check Redis first then fall
// back to the primary.
//
// The cache is strictly fail-open: a Redis failure degrades to "always
// miss" / "no-op invalidate" and never surfaces to the caller. The system
// stays correct with the cache fully down, only slower.
type CachedStore struct {
	primary Store
	rdb     *redis.Client

	listTTL    time.Duration // robots:all
	historyTTL time.Duration // robot:{id}:positions:{limit}

	logMu     sync.Mutex
	lastLogAt time.Time
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, listTTL, historyTTL time.Duration) *CachedStore {
	return &CachedStore{
		primary:    primary,
		rdb:        rdb,
		listTTL:    listTTL,
		historyTTL: historyTTL,
	}
}

// --- Writes (primary first, invalidate after commit) ---

func (s *CachedStore) CreateRobot(ctx context.Context, name string, lat, lon decimal.Decimal) (*model.Robot, error) {
	robot, err := s.primary.CreateRobot(ctx, name, lat, lon)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, robotsKey)
	return robot, nil
}

func (s *CachedStore) RecordMove(ctx context.Context, id int64, lat, lon decimal.Decimal) (*model.Robot, error) {
	robot, err := s.primary.RecordMove(ctx, id, lat, lon)
	if err != nil {
		return nil, err
	}
	// Every key that could hold stale data for this robot, plus the
	// aggregate list.
	s.invalidate(ctx, robotsKey, statisticsKey(id))
	s.invalidatePattern(ctx, positionsPattern(id))
	return robot, nil
}

func (s *CachedStore) UpdateStatus(ctx context.Context, id int64, status string) (*model.Robot, error) {
	robot, err := s.primary.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, robotsKey)
	return robot, nil
}

// --- Reads (check cache first) ---

func (s *CachedStore) ListRobots(ctx context.Context) ([]model.Robot, error) {
	var robots []model.Robot
	if s.cacheGet(ctx, robotsKey, &robots) {
		return robots, nil
	}

	robots, err := s.primary.ListRobots(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, robotsKey, robots, s.listTTL)
	return robots, nil
}

func (s *CachedStore) History(ctx context.Context, id int64, limit int) ([]model.PositionRecord, error) {
	key := positionsKey(id, limit)

	var records []model.PositionRecord
	if s.cacheGet(ctx, key, &records) {
		return records, nil
	}

	records, err := s.primary.History(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, records, s.historyTTL)
	return records, nil
}

func (s *CachedStore) Statistics(ctx context.Context, id int64) (*model.RobotStatistics, error) {
	key := statisticsKey(id)

	var stats model.RobotStatistics
	if s.cacheGet(ctx, key, &stats) {
		return &stats, nil
	}

	fresh, err := s.primary.Statistics(ctx, id)
	if err != nil {
		return nil, err
	}
	// No TTL: statistics entries live until the next move invalidates them.
	s.cacheSet(ctx, key, fresh, 0)
	return fresh, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetRobot(ctx context.Context, id int64) (*model.Robot, error) {
	return s.primary.GetRobot(ctx, id)
}

func (s *CachedStore) RecentPositions(ctx context.Context, limit int) ([]model.RecentPosition, error) {
	return s.primary.RecentPositions(ctx, limit)
}

// --- Cache helpers ---

// cacheGet reports whether key held a value and decoded it into dest.
// Absent, expired, or unreachable all count as a miss.
func (s *CachedStore) cacheGet(ctx context.Context, key string, dest any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logFailure("cache get failed", key, err)
		}
		metrics.CacheMisses.Inc()
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		metrics.CacheMisses.Inc()
		return false
	}
	metrics.CacheHits.Inc()
	return true
}

func (s *CachedStore) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logFailure("cache set failed", key, err)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logFailure("cache invalidate failed", keys[0], err)
	}
}

// invalidatePattern deletes all keys matching a glob pattern. The history
// cache is keyed per (robot, limit), so a move must clear every variant.
func (s *CachedStore) invalidatePattern(ctx context.Context, pattern string) {
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.logFailure("cache scan failed", pattern, err)
	}
}

// logFailure logs cache backend errors at most once per 30s burst so a
// downed Redis does not flood the logs on every request.
func (s *CachedStore) logFailure(msg, key string, err error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if time.Since(s.lastLogAt) < 30*time.Second {
		return
	}
	s.lastLogAt = time.Now()
	slog.Warn(msg, "key", key, "err", err)
}

const robotsKey = "robots:all"

func positionsKey(id int64, limit int) string {
	return fmt.Sprintf("robot:%d:positions:%d", id, limit)
}

func positionsPattern(id int64) string {
	return fmt.Sprintf("robot:%d:positions:*", id)
}

func statisticsKey(id int64) string {
	return fmt.Sprintf("robot:%d:statistics", id)
}
