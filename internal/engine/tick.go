// Package engine provides the SEIR lattice simulation and the loop that
// drives it in real time.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Engine drives a Simulation forward one day per interval.
type Engine struct {
	Sim      *Simulation
	MaxDays  int           // Stop after this many completed days (0 = unbounded)
	Interval time.Duration // Wall time per simulated day at speed 1

	mu      sync.Mutex
	speed   float64 // Multiplier: 1.0 = one day per Interval, 0 = paused
	running bool
	cancel  context.CancelFunc
	err     error
}

// NewEngine creates an engine for sim with default settings.
func NewEngine(sim *Simulation) *Engine {
	return &Engine{
		Sim:      sim,
		Interval: time.Second,
		speed:    1.0,
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier; 0 or less pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Err returns the error that stopped the last Run, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Run steps the simulation until MaxDays is reached, Stop is called, ctx is
// cancelled, or a day fails. Blocks until then.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.running = true
	e.cancel = cancel
	e.err = nil
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	slog.Info("simulation engine started", "day", e.Sim.Day(), "speed", e.Speed(), "max_days", e.MaxDays)

	for {
		if e.MaxDays > 0 && e.Sim.Day() >= e.MaxDays {
			slog.Info("simulation engine reached day limit", "day", e.Sim.Day())
			return nil
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused: sleep briefly and check again.
			if !sleepCtx(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		start := time.Now()
		if _, err := e.Sim.Step(); err != nil {
			e.mu.Lock()
			e.err = err
			e.mu.Unlock()
			slog.Error("simulation day failed", "day", e.Sim.Day(), "error", err)
			return err
		}

		// Sleep for the remainder of the interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target && !sleepCtx(ctx, target-elapsed) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	slog.Info("simulation engine stopped", "day", e.Sim.Day())
	return nil
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
