// Package config loads the simulation configuration from YAML.
// Files are validated against an embedded JSON Schema before decoding, then
// checked semantically by engine.Config.Validate.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/seir-lattice/internal/disease"
	"github.com/talgya/seir-lattice/internal/engine"
	"github.com/talgya/seir-lattice/internal/lattice"
)

//go:embed config.schema.json
var schemaJSON string

// File mirrors the YAML layout.
type File struct {
	Seed int64 `yaml:"seed"`
	Days int   `yaml:"days"`

	Grid       Grid       `yaml:"grid"`
	Population Population `yaml:"population"`
	Disease    Disease    `yaml:"disease"`
	Mobility   Mobility   `yaml:"mobility"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
}

type Grid struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Population struct {
	Size                int     `yaml:"size"`
	InitialInfectious   int     `yaml:"initial_infectious"`
	MaxPlacementRetries int     `yaml:"max_retries"`
	ClusterScale        float64 `yaml:"cluster_scale"`
}

type Disease struct {
	LatencyDays      disease.Range `yaml:"latency_days"`
	RemovalDays      disease.Range `yaml:"removal_days"`
	InfectiousRadius int           `yaml:"infectious_radius"`
	EdgeMode         string        `yaml:"edge_mode"`
}

type Mobility struct {
	TravelChance     float64 `yaml:"travel_chance"`
	LockdownStart    int     `yaml:"lockdown_start"`
	LockdownDuration int     `yaml:"lockdown_duration"`
}

// Output selects where a run's results are written. Empty paths disable
// that output.
type Output struct {
	Dir      string `yaml:"dir"`
	Database string `yaml:"database"`
	Archive  bool   `yaml:"archive"`
	CSV      bool   `yaml:"csv"`
}

type Server struct {
	Port       int `yaml:"port"`
	IntervalMs int `yaml:"interval_ms"`
}

// Interval returns the wall time per simulated day in serve mode.
func (s Server) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

// Default returns the built-in configuration.
func Default() File {
	ec := engine.DefaultConfig()
	return File{
		Days: 150,
		Grid: Grid{Width: ec.Width, Height: ec.Height},
		Population: Population{
			Size:              ec.Population,
			InitialInfectious: ec.InitialInfectious,
		},
		Disease: Disease{
			LatencyDays:      ec.Latency,
			RemovalDays:      ec.Progression,
			InfectiousRadius: ec.InfectiousRadius,
			EdgeMode:         lattice.EdgeClip.String(),
		},
		Mobility: Mobility{TravelChance: ec.TravelChance},
		Output: Output{
			Dir:      "data",
			Database: "data/seirsim.db",
			Archive:  true,
			CSV:      true,
		},
		Server: Server{Port: 8080, IntervalMs: 1000},
	}
}

// Load reads, validates and decodes a YAML file on top of Default().
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	f, err := Parse(raw)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse validates raw YAML against the schema and decodes it on top of
// Default(). Unknown keys are rejected.
func Parse(raw []byte) (File, error) {
	if err := validateSchema(raw); err != nil {
		return File{}, err
	}
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode: %w", err)
	}
	return f, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	// Round-trip through JSON so the validator sees JSON types.
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("yaml to json: %w", err)
	}
	var v any
	if err := json.Unmarshal(js, &v); err != nil {
		return fmt.Errorf("yaml to json: %w", err)
	}

	schema, err := jsonschema.CompileString("config.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// Engine converts the file into an engine configuration.
func (f File) Engine() (engine.Config, error) {
	mode, err := lattice.ParseEdgeMode(f.Disease.EdgeMode)
	if err != nil {
		return engine.Config{}, err
	}
	cfg := engine.Config{
		Seed:              f.Seed,
		Width:             f.Grid.Width,
		Height:            f.Grid.Height,
		Population:        f.Population.Size,
		InitialInfectious: f.Population.InitialInfectious,
		Latency:           f.Disease.LatencyDays,
		Progression:       f.Disease.RemovalDays,
		TravelChance:      f.Mobility.TravelChance,
		InfectiousRadius:  f.Disease.InfectiousRadius,
		LockdownStart:     f.Mobility.LockdownStart,
		LockdownDuration:  f.Mobility.LockdownDuration,
		MaxRetries:        f.Population.MaxPlacementRetries,
		EdgeMode:          mode,
		ClusterScale:      f.Population.ClusterScale,
	}
	return cfg, cfg.Validate()
}
