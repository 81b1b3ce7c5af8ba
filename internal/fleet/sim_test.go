package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/fleetmon/fleet-engine/internal/store"
)

func newTestSimulator(t *testing.T, interval time.Duration) (*Simulator, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := NewService(ms, nil)
	sim := NewSimulator(svc, interval)
	t.Cleanup(func() { sim.Stop() })
	return sim, ms
}

func historyCount(t *testing.T, ms *store.MemoryStore, robotID int64) int {
	t.Helper()
	records, err := ms.History(context.Background(), robotID, 500)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return len(records)
}

func TestSimulator_StartIsIdempotent(t *testing.T) {
	sim, _ := newTestSimulator(t, time.Hour)

	if !sim.Start() {
		t.Fatal("first start should succeed")
	}
	if sim.Start() {
		t.Error("second start should report already running")
	}
	if !sim.Running() {
		t.Error("simulator should report running")
	}
}

func TestSimulator_StopIsTerminal(t *testing.T) {
	sim, ms := newTestSimulator(t, 5*time.Millisecond)

	robot, err := sim.svc.CreateRobot(context.Background(), "Wanderer", nil, nil)
	if err != nil {
		t.Fatalf("create robot: %v", err)
	}

	sim.Start()
	waitFor(t, "at least one simulated move", func() bool {
		return historyCount(t, ms, robot.ID) > 0
	})

	if !sim.Stop() {
		t.Fatal("stop should report success while running")
	}
	if sim.Running() {
		t.Error("simulator should not report running after stop")
	}

	// No tick fires after Stop returns.
	settled := historyCount(t, ms, robot.ID)
	time.Sleep(50 * time.Millisecond)
	if got := historyCount(t, ms, robot.ID); got != settled {
		t.Errorf("history grew after stop: %d -> %d", settled, got)
	}

	if sim.Stop() {
		t.Error("second stop should report not running")
	}
}

func TestSimulator_RestartAfterStop(t *testing.T) {
	sim, ms := newTestSimulator(t, 5*time.Millisecond)

	robot, err := sim.svc.CreateRobot(context.Background(), "Pacer", nil, nil)
	if err != nil {
		t.Fatalf("create robot: %v", err)
	}

	sim.Start()
	waitFor(t, "a move from the first run", func() bool {
		return historyCount(t, ms, robot.ID) > 0
	})
	sim.Stop()

	checkpoint := historyCount(t, ms, robot.ID)
	if !sim.Start() {
		t.Fatal("restart should succeed after stop")
	}
	waitFor(t, "a move from the second run", func() bool {
		return historyCount(t, ms, robot.ID) > checkpoint
	})
}

func TestSimulator_EmptyFleetIsHarmless(t *testing.T) {
	sim, _ := newTestSimulator(t, time.Millisecond)

	sim.Start()
	time.Sleep(20 * time.Millisecond) // several ticks against an empty fleet
	if !sim.Running() {
		t.Error("simulator should keep running with nothing to move")
	}
	sim.Stop()
}
