// Simulation owns the lattice and runs the daily SEIR update.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/talgya/seir-lattice/internal/disease"
	"github.com/talgya/seir-lattice/internal/entropy"
	"github.com/talgya/seir-lattice/internal/lattice"
	"github.com/talgya/seir-lattice/internal/stats"
)

// DayReport summarizes one completed day for observers.
type DayReport struct {
	RunID     string    `json:"run_id,omitempty"`
	Row       stats.Row `json:"row"`
	Travelled int       `json:"travelled"`   // Relocations in the mobility phase
	Exposed   int       `json:"new_exposed"` // Susceptible → Exposed today
	Infected  int       `json:"new_infectious"`
	Removed   int       `json:"new_removed"`
	Lockdown  bool      `json:"lockdown"`
}

// Simulation holds the complete lattice state. Step mutates it; the read
// accessors are safe to call from other goroutines while it runs.
type Simulation struct {
	Config Config
	RunID  string

	// OnDay is called after every completed day, outside the state lock.
	OnDay func(DayReport)

	mu      sync.RWMutex
	src     entropy.Source
	grid    *lattice.Grid
	current lattice.Snapshot
	history []lattice.Snapshot
	rows    stats.Table
	day     int

	subMu   sync.Mutex
	subs    map[int]chan DayReport
	nextSub int
}

// NewSimulation places the population and seeds the initial infections.
func NewSimulation(cfg Config, src entropy.Source) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	grid := lattice.NewGrid(cfg.Width, cfg.Height)
	placement := lattice.Placement{
		Count:       cfg.Population,
		Latency:     cfg.Latency,
		Progression: cfg.Progression,
		MaxRetries:  cfg.Retries(),
	}
	if cfg.ClusterScale > 0 {
		placement.Density = lattice.NewDensity(cfg.Seed, cfg.ClusterScale)
	}
	if err := grid.PlaceRandomly(placement, src); err != nil {
		return nil, fmt.Errorf("place population: %w", err)
	}
	if err := grid.SeedInfectious(cfg.InitialInfectious, src, cfg.Retries()); err != nil {
		return nil, fmt.Errorf("seed infectious: %w", err)
	}

	s := &Simulation{
		Config:  cfg,
		src:     src,
		grid:    grid,
		current: lattice.NewSnapshot(cfg.Width, cfg.Height),
		subs:    make(map[int]chan DayReport),
	}
	grid.Stamp(&s.current)

	slog.Info("population placed",
		"grid", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"agents", humanize.Comma(int64(grid.Population())),
		"infectious", cfg.InitialInfectious,
		"edge_mode", cfg.EdgeMode,
	)
	return s, nil
}

// Step simulates one day: all mobility first, then contact infection and
// progression over the agents occupied at the start of the second phase.
func (s *Simulation) Step() (DayReport, error) {
	s.mu.Lock()
	report, err := s.stepLocked()
	s.mu.Unlock()
	if err != nil {
		return report, err
	}

	if s.OnDay != nil {
		s.OnDay(report)
	}
	s.publish(report)
	return report, nil
}

func (s *Simulation) stepLocked() (DayReport, error) {
	day := s.day
	cfg := s.Config
	retries := cfg.Retries()
	report := DayReport{RunID: s.RunID, Lockdown: cfg.LockdownActive(day)}

	// Phase 1: travel. The same agent may be picked more than once.
	travel := cfg.TravelCount(day)
	for i := 0; i < travel; i++ {
		a, err := s.grid.PickRandomOccupied(s.src, retries)
		if err != nil {
			return report, fmt.Errorf("day %d travel: %w", day, err)
		}
		if err := s.grid.Relocate(a, s.src, retries); err != nil {
			return report, fmt.Errorf("day %d travel: %w", day, err)
		}
	}
	report.Travelled = travel

	// Phase 2: contact and progression.
	for _, id := range s.grid.Occupied() {
		a := s.grid.Agent(id)
		a.AdvanceDay()

		switch a.State {
		case disease.Infectious:
			for _, c := range s.grid.Neighbors(a.Pos, cfg.InfectiousRadius, cfg.EdgeMode) {
				n := s.grid.At(c)
				if n == nil || n.State != disease.Susceptible {
					continue
				}
				if err := n.TransitionTo(disease.Exposed); err != nil {
					return report, fmt.Errorf("day %d: %w", day, err)
				}
				report.Exposed++
			}
			if a.ProgressionElapsed() {
				if err := a.TransitionTo(disease.Removed); err != nil {
					return report, fmt.Errorf("day %d: %w", day, err)
				}
				report.Removed++
			}
		case disease.Exposed:
			if a.LatencyElapsed() {
				if err := a.TransitionTo(disease.Infectious); err != nil {
					return report, fmt.Errorf("day %d: %w", day, err)
				}
				report.Infected++
			}
		}
	}

	s.grid.Stamp(&s.current)
	snap := s.current.Clone()
	s.history = append(s.history, snap)
	report.Row = stats.FromSnapshot(day, snap)
	s.rows = append(s.rows, report.Row)
	s.day++

	slog.Debug("daily report",
		"day", day,
		"susceptible", report.Row.Susceptible,
		"exposed", report.Row.Exposed,
		"infectious", report.Row.Infectious,
		"removed", report.Row.Removed,
		"travelled", travel,
		"lockdown", report.Lockdown,
	)
	return report, nil
}

// Run simulates days more days and returns the statistics table over the
// whole history.
func (s *Simulation) Run(days int) (stats.Table, error) {
	for i := 0; i < days; i++ {
		if _, err := s.Step(); err != nil {
			return nil, err
		}
	}
	table := stats.Aggregate(s.History())

	attrs := []any{"days", len(table), "population", humanize.Comma(int64(s.Population()))}
	if peak, ok := table.Peak(); ok {
		attrs = append(attrs,
			"peak_day", peak.Day,
			"peak_infectious", humanize.Comma(int64(peak.Infectious)),
			"final_removed", humanize.Comma(int64(table.FinalSize())),
		)
	}
	slog.Info("simulation complete", attrs...)
	return table, nil
}

// Day returns the number of completed days.
func (s *Simulation) Day() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.day
}

// Population returns the number of agents.
func (s *Simulation) Population() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grid.Population()
}

// History returns the per-day snapshots so far. Snapshots are never modified
// after they are recorded, so the returned slice may be read freely.
func (s *Simulation) History() []lattice.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history[:len(s.history):len(s.history)]
}

// Snapshot returns the lattice recorded at the end of day.
func (s *Simulation) Snapshot(day int) (lattice.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if day < 0 || day >= len(s.history) {
		return lattice.Snapshot{}, false
	}
	return s.history[day], true
}

// Current returns a copy of the live lattice (the initial placement before
// the first day).
func (s *Simulation) Current() lattice.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Rows returns the per-day counts recorded so far.
func (s *Simulation) Rows() stats.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(stats.Table, len(s.rows))
	copy(out, s.rows)
	return out
}

// Grid exposes the occupancy index. Not safe to use while another goroutine
// is stepping the simulation.
func (s *Simulation) Grid() *lattice.Grid {
	return s.grid
}

// Subscribe registers a channel that receives every day report. Slow
// subscribers miss reports rather than block the simulation.
func (s *Simulation) Subscribe() (int, <-chan DayReport) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan DayReport, 64)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (s *Simulation) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Simulation) publish(r DayReport) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- r:
		default:
			slog.Debug("subscriber lagging, report dropped", "sub_id", id, "day", r.Row.Day)
		}
	}
}
