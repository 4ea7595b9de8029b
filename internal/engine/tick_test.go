package engine

import (
	"context"
	"testing"
	"time"

	"github.com/talgya/seir-lattice/internal/entropy"
)

func TestEngine_RunsToDayLimit(t *testing.T) {
	sim := newSim(t, SmallTestConfig(), entropy.NewRand(1))
	eng := NewEngine(sim)
	eng.Interval = time.Millisecond
	eng.MaxDays = 5

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sim.Day() != 5 {
		t.Fatalf("day: got %d want 5", sim.Day())
	}
	if eng.Running() {
		t.Fatalf("engine still running after Run returned")
	}
}

func TestEngine_Stop(t *testing.T) {
	sim := newSim(t, SmallTestConfig(), entropy.NewRand(1))
	eng := NewEngine(sim)
	eng.Interval = 5 * time.Millisecond

	_, ch := sim.Subscribe()
	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("no day completed")
	}
	eng.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("engine did not stop")
	}
}

func TestEngine_PausedDoesNotStep(t *testing.T) {
	sim := newSim(t, SmallTestConfig(), entropy.NewRand(1))
	eng := NewEngine(sim)
	eng.Interval = time.Millisecond
	eng.SetSpeed(0)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := eng.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sim.Day() != 0 {
		t.Fatalf("paused engine advanced to day %d", sim.Day())
	}
}

func TestEngine_StopsOnFailedDay(t *testing.T) {
	cfg := SmallTestConfig()
	cfg.Width, cfg.Height = 2, 2
	cfg.Population = 4
	cfg.InitialInfectious = 0
	cfg.TravelChance = 1
	sim := newSim(t, cfg, entropy.NewRand(1))
	eng := NewEngine(sim)
	eng.Interval = time.Millisecond

	if err := eng.Run(context.Background()); err == nil {
		t.Fatalf("Run on a saturated grid returned nil")
	}
	if eng.Err() == nil {
		t.Fatalf("Err() not recorded")
	}
}
