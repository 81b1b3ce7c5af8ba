package fleet

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Simulator periodically moves one random robot through the fleet
// service. Start is idempotent — a running simulation swallows further
// starts — and Stop is guaranteed terminal: once it returns, no further
// tick fires until the next Start.
type Simulator struct {
	svc      *Service
	interval time.Duration
	rng      *rand.Rand

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSimulator creates a simulator driving the given service.
func NewSimulator(svc *Service, interval time.Duration) *Simulator {
	return &Simulator{
		svc:      svc,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the movement loop. Returns false if it was already
// running (the second start is a no-op, not an error).
func (s *Simulator) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	slog.Info("simulation started", "interval", s.interval)
	return true
}

// Stop cancels the movement loop and waits for the current tick, if any,
// to finish. Returns false if the simulation was not running.
func (s *Simulator) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return false
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	slog.Info("simulation stopped")
	return true
}

// Running reports whether the movement loop is active.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Simulator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick moves one randomly chosen robot. Failures are logged and
// abandoned, never retried; the next tick starts fresh.
func (s *Simulator) tick(ctx context.Context) {
	robots, err := s.svc.store.ListRobots(ctx)
	if err != nil {
		slog.Error("simulation list failed", "err", err)
		return
	}
	if len(robots) == 0 {
		return
	}

	target := robots[s.rng.Intn(len(robots))]
	if _, err := s.svc.MoveRobot(ctx, target.ID, "simulation"); err != nil {
		slog.Error("simulation move failed", "robot", target.ID, "err", err)
	}
}

// --- HTTP handlers ---

// HandleStart handles POST /api/v1/simulation/start
func (s *Simulator) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !s.Start() {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "simulation is already running",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "simulation started",
		"interval": s.interval.String(),
	})
}

// HandleStop handles POST /api/v1/simulation/stop
func (s *Simulator) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !s.Stop() {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "simulation is not running",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "simulation stopped",
	})
}

// HandleStatus handles GET /api/v1/simulation/status
func (s *Simulator) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"isRunning": s.Running()}
	if s.Running() {
		status["interval"] = s.interval.String()
	}
	writeJSON(w, http.StatusOK, status)
}
