// Package fleet provides the live-state synchronization core: the only
// mutation path for robot state, the cache-aside read handlers, the
// WebSocket broadcast hub, and the movement simulator.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fleetmon/fleet-engine/internal/geo"
	"github.com/fleetmon/fleet-engine/internal/metrics"
	"github.com/fleetmon/fleet-engine/internal/model"
	"github.com/fleetmon/fleet-engine/internal/store"
)

// ErrValidation marks malformed input rejected before touching the store.
var ErrValidation = errors.New("validation failed")

// Fallback coordinate for robots created without a position (Berlin,
// Alexanderplatz — kept from the original fleet deployment).
var (
	defaultLat = decimal.NewFromFloat(52.520008)
	defaultLon = decimal.NewFromFloat(13.404954)
)

const (
	defaultHistoryLimit = 50
	defaultRecentLimit  = 100
	maxQueryLimit       = 500
)

// Service is the only path permitted to change robot state. It owns the
// store handle (typically the cache-wrapped PostgreSQL store) and
// publishes a change event after every committed mutation.
type Service struct {
	store store.Store
	hub   *Hub

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService creates the fleet service. Pass nil for hub if broadcasting
// is not needed (tests).
func NewService(st store.Store, hub *Hub) *Service {
	return &Service{
		store: st,
		hub:   hub,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// --- Core mutations ---

// CreateRobot validates input, persists a new robot, and broadcasts its
// creation. Nil coordinates fall back to the default position.
func (s *Service) CreateRobot(ctx context.Context, name string, lat, lon *decimal.Decimal) (*model.Robot, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 || len(name) > 100 {
		return nil, fmt.Errorf("%w: name must be 2-100 characters", ErrValidation)
	}

	position := [2]decimal.Decimal{defaultLat, defaultLon}
	if lat != nil {
		if lat.Abs().GreaterThan(decimal.NewFromInt(90)) {
			return nil, fmt.Errorf("%w: latitude out of range", ErrValidation)
		}
		position[0] = *lat
	}
	if lon != nil {
		if lon.Abs().GreaterThan(decimal.NewFromInt(180)) {
			return nil, fmt.Errorf("%w: longitude out of range", ErrValidation)
		}
		position[1] = *lon
	}

	robot, err := s.store.CreateRobot(ctx, name, position[0], position[1])
	if err != nil {
		return nil, err
	}
	metrics.RobotsCreated.Inc()
	slog.Info("robot created", "id", robot.ID, "name", robot.Name)

	s.publishRobot(EventRobotCreated, robot)
	return robot, nil
}

// MoveRobot computes a bounded random perturbation of the robot's current
// position, records it atomically, and broadcasts the update. Any store
// failure aborts the whole operation: no cache invalidation, no
// broadcast, error surfaced to the caller.
func (s *Service) MoveRobot(ctx context.Context, id int64, source string) (*model.Robot, error) {
	robot, err := s.store.GetRobot(ctx, id)
	if err != nil {
		return nil, err
	}

	s.rngMu.Lock()
	newLat, newLon := geo.Perturb(s.rng, robot.Lat, robot.Lon)
	s.rngMu.Unlock()

	moved, err := s.store.RecordMove(ctx, id, newLat, newLon)
	if err != nil {
		return nil, err
	}
	metrics.MovesTotal.WithLabelValues(source).Inc()
	slog.Info("robot moved",
		"id", moved.ID,
		"name", moved.Name,
		"lat", moved.Lat.String(),
		"lon", moved.Lon.String(),
		"source", source,
	)

	s.publishRobot(EventPositionUpdate, moved)
	return moved, nil
}

// SetStatus sets a robot's status to idle or moving.
func (s *Service) SetStatus(ctx context.Context, id int64, status string) (*model.Robot, error) {
	if status != model.StatusIdle && status != model.StatusMoving {
		return nil, fmt.Errorf("%w: status must be idle or moving", ErrValidation)
	}
	return s.store.UpdateStatus(ctx, id, status)
}

func (s *Service) publishRobot(eventType string, robot *model.Robot) {
	if s.hub == nil {
		return
	}
	event := newEvent(eventType)
	event.Robot = robot
	s.hub.Publish(event)
}

// --- HTTP handlers ---

// CreateRobotRequest is the JSON body for robot creation.
type CreateRobotRequest struct {
	Name string           `json:"name"`
	Lat  *decimal.Decimal `json:"lat,omitempty"`
	Lon  *decimal.Decimal `json:"lon,omitempty"`
}

// SetStatusRequest is the JSON body for status updates.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// HandleList handles GET /api/v1/robots
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	robots, err := s.store.ListRobots(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if robots == nil {
		robots = []model.Robot{}
	}
	writeJSON(w, http.StatusOK, robots)
}

// HandleGet handles GET /api/v1/robots/{robotID}
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := robotID(w, r)
	if !ok {
		return
	}
	robot, err := s.store.GetRobot(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, robot)
}

// HandleCreate handles POST /api/v1/robots
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRobotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	robot, err := s.CreateRobot(r.Context(), req.Name, req.Lat, req.Lon)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, robot)
}

// HandleMove handles POST /api/v1/robots/{robotID}/move
func (s *Service) HandleMove(w http.ResponseWriter, r *http.Request) {
	id, ok := robotID(w, r)
	if !ok {
		return
	}
	robot, err := s.MoveRobot(r.Context(), id, "api")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, robot)
}

// HandleSetStatus handles POST /api/v1/robots/{robotID}/status
func (s *Service) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := robotID(w, r)
	if !ok {
		return
	}
	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	robot, err := s.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, robot)
}

// HandleHistory handles GET /api/v1/robots/{robotID}/positions
func (s *Service) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := robotID(w, r)
	if !ok {
		return
	}
	// History is keyed per (robot, limit) in the cache, so verify the
	// robot exists before serving an empty cached list for a bad ID.
	if _, err := s.store.GetRobot(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	limit := queryLimit(r, defaultHistoryLimit)
	records, err := s.store.History(r.Context(), id, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []model.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"robotId":   id,
		"count":     len(records),
		"positions": records,
	})
}

// HandleStatistics handles GET /api/v1/robots/{robotID}/statistics
func (s *Service) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := robotID(w, r)
	if !ok {
		return
	}
	stats, err := s.store.Statistics(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleRecentPositions handles GET /api/v1/positions/recent
func (s *Service) HandleRecentPositions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultRecentLimit)
	recent, err := s.store.RecentPositions(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if recent == nil {
		recent = []model.RecentPosition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(recent),
		"positions": recent,
	})
}

// --- helpers ---

func robotID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "robotID"), 10, 64)
	if err != nil {
		writeError(w, "invalid robot id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// writeStoreError maps the error taxonomy onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "robot not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		writeError(w, "robot with this name already exists", http.StatusConflict)
	case store.Retryable(err):
		writeError(w, "store temporarily unavailable", http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
