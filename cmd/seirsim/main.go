// Command seirsim runs the lattice SEIR simulation, either as a batch run or
// as a live server observed over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/seir-lattice/internal/api"
	"github.com/talgya/seir-lattice/internal/archive"
	"github.com/talgya/seir-lattice/internal/config"
	"github.com/talgya/seir-lattice/internal/engine"
	"github.com/talgya/seir-lattice/internal/entropy"
	"github.com/talgya/seir-lattice/internal/persistence"
	"github.com/talgya/seir-lattice/internal/stats"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (built-in defaults when empty)")
	mode := flag.String("mode", "run", "run | serve")
	days := flag.Int("days", -1, "days to simulate (overrides config; 0 = unbounded in serve mode)")
	seed := flag.Int64("seed", 0, "random seed (overrides config; 0 = keep config or draw one)")
	outDir := flag.String("out", "", "output directory (overrides config)")
	port := flag.Int("port", 0, "HTTP port for serve mode (overrides config)")
	verbose := flag.Bool("v", false, "log every simulated day")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// ── Configuration ─────────────────────────────────────────────────
	file := config.Default()
	if *configPath != "" {
		var err error
		if file, err = config.Load(*configPath); err != nil {
			fatal("failed to load config", err)
		}
	}
	if *days >= 0 {
		file.Days = *days
	}
	if *seed != 0 {
		file.Seed = *seed
	}
	if *outDir != "" {
		file.Output.Dir = *outDir
	}
	if *port != 0 {
		file.Server.Port = *port
	}
	if file.Seed == 0 {
		file.Seed = entropy.Seed()
	}
	if *mode != "run" && *mode != "serve" {
		fatal("unknown mode", fmt.Errorf("%q (want run or serve)", *mode))
	}
	if *mode == "run" && file.Days <= 0 {
		fatal("invalid day count", fmt.Errorf("run mode needs days > 0, got %d", file.Days))
	}

	cfg, err := file.Engine()
	if err != nil {
		fatal("invalid config", err)
	}

	runID := uuid.NewString()
	runDir := filepath.Join(file.Output.Dir, runID)
	slog.Info("lattice SEIR simulation",
		"run", runID,
		"mode", *mode,
		"seed", cfg.Seed,
		"grid", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"population", humanize.Comma(int64(cfg.Population)),
		"days", file.Days,
	)

	// ── Simulation and database ───────────────────────────────────────
	sim, db, err := setup(cfg, runID, file.Output.Database)
	if err != nil {
		fatal("setup failed", err)
	}
	if db != nil {
		defer db.Close()
		slog.Info("database opened", "path", file.Output.Database)
	}

	// abort records the run as finished before exiting so no row stays open.
	abort := func(msg string, err error) {
		if db != nil {
			if ferr := db.FinishRun(runID, sim.Day()); ferr != nil {
				slog.Error("finish run failed", "error", ferr)
			}
			db.Close()
		}
		fatal(msg, err)
	}

	var history *archive.Writer
	if file.Output.Archive {
		path := filepath.Join(runDir, "history.jsonl.zst")
		history, err = archive.Create(path, archive.Header{
			RunID:      runID,
			Seed:       cfg.Seed,
			Width:      cfg.Width,
			Height:     cfg.Height,
			Population: sim.Population(),
			EdgeMode:   cfg.EdgeMode.String(),
		})
		if err != nil {
			abort("failed to create archive", err)
		}
		slog.Info("archiving history", "path", path)
	}

	// Persist every completed day.
	sim.OnDay = func(rep engine.DayReport) {
		if db != nil {
			if err := db.SaveDay(runID, rep.Row); err != nil {
				slog.Error("daily save failed", "day", rep.Row.Day, "error", err)
			}
		}
		if history != nil {
			if snap, ok := sim.Snapshot(rep.Row.Day); ok {
				if err := history.WriteFrame(rep.Row.Day, snap); err != nil {
					slog.Error("archive write failed", "day", rep.Row.Day, "error", err)
				}
			}
		}
		if rep.Row.Day%10 == 0 {
			slog.Info("day complete",
				"day", rep.Row.Day,
				"S", humanize.Comma(int64(rep.Row.Susceptible)),
				"E", humanize.Comma(int64(rep.Row.Exposed)),
				"I", humanize.Comma(int64(rep.Row.Infectious)),
				"R", humanize.Comma(int64(rep.Row.Removed)),
				"lockdown", rep.Lockdown,
			)
		}
	}

	var runErr error
	switch *mode {
	case "run":
		_, runErr = sim.Run(file.Days)
	case "serve":
		runErr = serve(sim, db, file)
	}

	// ── Outputs ───────────────────────────────────────────────────────
	table := stats.Aggregate(sim.History())
	if history != nil {
		if err := history.Close(); err != nil {
			slog.Error("archive close failed", "error", err)
		}
	}
	if file.Output.CSV {
		if err := writeCSV(filepath.Join(runDir, "stats.csv"), table); err != nil {
			slog.Error("csv write failed", "error", err)
		}
	}
	if db != nil {
		if err := db.FinishRun(runID, len(table)); err != nil {
			slog.Error("finish run failed", "error", err)
		}
	}

	if runErr != nil {
		fatal("simulation failed", runErr)
	}
	if peak, ok := table.Peak(); ok {
		fmt.Printf("\nRun %s: %d days, peak %s infectious on day %d, %s removed.\n",
			runID, len(table), humanize.Comma(int64(peak.Infectious)), peak.Day,
			humanize.Comma(int64(table.FinalSize())))
	}
	fmt.Printf("Outputs: %s\n", runDir)
}

// serve runs the simulation in real time behind the HTTP API until the day
// limit, a failed day, or SIGINT/SIGTERM.
func serve(sim *engine.Simulation, db *persistence.DB, file config.File) error {
	eng := engine.NewEngine(sim)
	eng.Interval = file.Server.Interval()
	eng.MaxDays = file.Days

	adminKey := os.Getenv("SEIRSIM_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("SEIRSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}

	apiServer := &api.Server{
		Sim:      sim,
		Eng:      eng,
		DB:       db,
		Port:     file.Server.Port,
		AdminKey: adminKey,
	}
	srv := apiServer.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("API: http://localhost:%d/api/v1/status\n", file.Server.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	err := eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	return err
}

// setup builds the simulation and only then records the run, so a failed
// placement leaves no unfinished run row behind. An empty dbPath skips the store.
func setup(cfg engine.Config, runID, dbPath string) (*engine.Simulation, *persistence.DB, error) {
	sim, err := engine.NewSimulation(cfg, entropy.NewRand(cfg.Seed))
	if err != nil {
		return nil, nil, fmt.Errorf("build simulation: %w", err)
	}
	sim.RunID = runID
	if dbPath == "" {
		return sim, nil, nil
	}
	db, err := openRunStore(dbPath, runID, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open run store: %w", err)
	}
	return sim, db, nil
}

// openRunStore opens the database and records the run's seed and config.
func openRunStore(path, runID string, cfg engine.Config) (*persistence.DB, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := persistence.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.SaveRun(persistence.Run{ID: runID, Seed: cfg.Seed, ConfigJSON: string(cfgJSON)}); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.SaveMeta("last_run", runID); err != nil {
		slog.Error("save meta failed", "error", err)
	}
	return db, nil
}

func writeCSV(path string, table stats.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := table.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	slog.Info("stats written", "path", path, "days", len(table))
	return f.Close()
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
