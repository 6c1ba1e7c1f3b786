// ============================================================================
// Colony Settings - versioned tuning blob
// ============================================================================
//
// Package: internal/settings
// File: settings.go
// Purpose: Loads the scheduler tuning blob from YAML.
//
// Versioning:
//   The blob carries a version field. When it differs from Version the whole
//   blob is discarded and Defaults() is used instead. Fields are never
//   migrated one by one.
//
// Validation:
//   Blobs with a matching version are validated against the embedded JSON
//   schema before being decoded over the defaults, so absent fields keep
//   their default value.
//
// ============================================================================

package settings

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/colony/internal/logging"
)

// Version is the schema version this build understands.
const Version = 4

var (
	ErrInvalidSettings = errors.New("settings do not match schema")
)

//go:embed settings.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("settings.schema.json", schemaJSON)

// LogSettings configure the logging collaborator.
type LogSettings struct {
	Enabled  []string `yaml:"enabled" json:"enabled"`
	MinLevel string   `yaml:"min_level" json:"min_level"`
}

// DebugSettings group diagnostic switches.
type DebugSettings struct {
	Log LogSettings `yaml:"log" json:"log"`
}

// JobSettings tune the scheduler.
type JobSettings struct {
	DefaultPriority int               `yaml:"default_priority" json:"default_priority"`
	Priorities      map[string]int    `yaml:"priorities" json:"priorities"`
	DefaultTTL      uint64            `yaml:"default_ttl" json:"default_ttl"`
	TTL             map[string]uint64 `yaml:"ttl" json:"ttl"`
	// PollIntervals are keyed by factory name.
	PollIntervals   map[string]uint64 `yaml:"poll_intervals" json:"poll_intervals"`
	CleanupInterval uint64            `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// SpawnerSettings tune facility selection.
type SpawnerSettings struct {
	DistanceCostMultiplier     float64        `yaml:"distance_cost_multiplier" json:"distance_cost_multiplier"`
	RoomDistanceCostMultiplier float64        `yaml:"room_distance_cost_multiplier" json:"room_distance_cost_multiplier"`
	HarvesterScale             float64        `yaml:"harvester_scale" json:"harvester_scale"`
	MoveToPositionRange        int            `yaml:"move_to_position_range" json:"move_to_position_range"`
	RoleLimits                 map[string]int `yaml:"role_limits" json:"role_limits"`
}

// HarvesterSettings tune harvest jobs.
type HarvesterSettings struct {
	RateMeasurePeriod  int `yaml:"rate_measure_period" json:"rate_measure_period"`
	DowngradeThreshold int `yaml:"downgrade_threshold" json:"downgrade_threshold"`
	MinSourceEnergy    int `yaml:"min_source_energy" json:"min_source_energy"`
}

// MetadataSettings tune the room scanner.
type MetadataSettings struct {
	CPUFraction     float64 `yaml:"cpu_fraction" json:"cpu_fraction"`
	MaxOpenSpace    int     `yaml:"max_open_space" json:"max_open_space"`
	RallyPointCount int     `yaml:"rally_point_count" json:"rally_point_count"`
	ExtensionCount  int     `yaml:"extension_count" json:"extension_count"`
}

// Settings is the whole tuning blob.
type Settings struct {
	Version   int               `yaml:"version" json:"version"`
	Debug     DebugSettings     `yaml:"debug" json:"debug"`
	Jobs      JobSettings       `yaml:"jobs" json:"jobs"`
	Spawner   SpawnerSettings   `yaml:"spawner" json:"spawner"`
	Harvester HarvesterSettings `yaml:"harvester" json:"harvester"`
	Metadata  MetadataSettings  `yaml:"metadata" json:"metadata"`
}

// Defaults returns a fresh default blob.
func Defaults() *Settings {
	return &Settings{
		Version: Version,
		Debug: DebugSettings{
			Log: LogSettings{
				Enabled:  []string{"main", "manager", "job.spawn", "metadata"},
				MinLevel: "info",
			},
		},
		Jobs: JobSettings{
			DefaultPriority: 100,
			Priorities: map[string]int{
				"spawn_harvester_job":     1,
				"harvest_job":             2,
				"stopblocking_job":        3,
				"spawn_builder_job":       5,
				"build_job":               6,
				"construct_extension_job": 10,
				"construct_road_job":      20,
			},
			DefaultTTL: 1500,
			TTL: map[string]uint64{
				"stopblocking_job":    50,
				"spawn_harvester_job": 300,
				"spawn_builder_job":   300,
			},
			PollIntervals: map[string]uint64{
				"construct_road_factory":      17,
				"construct_extension_factory": 5,
			},
			CleanupInterval: 10,
		},
		Spawner: SpawnerSettings{
			DistanceCostMultiplier:     1,
			RoomDistanceCostMultiplier: 200,
			HarvesterScale:             1.5,
			MoveToPositionRange:        5,
			RoleLimits: map[string]int{
				"harvester": 8,
				"builder":   2,
			},
		},
		Harvester: HarvesterSettings{
			RateMeasurePeriod:  30,
			DowngradeThreshold: 5000,
			MinSourceEnergy:    50,
		},
		Metadata: MetadataSettings{
			CPUFraction:     0.5,
			MaxOpenSpace:    3,
			RallyPointCount: 8,
			ExtensionCount:  60,
		},
	}
}

// Priority resolves the priority for a job type.
func (s *Settings) Priority(jobType string) int {
	if p, ok := s.Jobs.Priorities[jobType]; ok {
		return p
	}
	return s.Jobs.DefaultPriority
}

// TTL resolves the time-to-live for a job type.
func (s *Settings) TTL(jobType string) uint64 {
	if ttl, ok := s.Jobs.TTL[jobType]; ok && ttl > 0 {
		return ttl
	}
	return s.Jobs.DefaultTTL
}

// PollInterval returns how often a factory generates, never less than 1.
func (s *Settings) PollInterval(factory string) uint64 {
	if n, ok := s.Jobs.PollIntervals[factory]; ok && n > 0 {
		return n
	}
	return 1
}

// RoleLimit returns the per-room ceiling for a role, 0 for none.
func (s *Settings) RoleLimit(role string) int {
	return s.Spawner.RoleLimits[role]
}

// LogOptions converts the debug section into logging options.
func (s *Settings) LogOptions() (logging.Options, error) {
	lvl, err := logging.ParseLevel(s.Debug.Log.MinLevel)
	if err != nil {
		return logging.Options{}, err
	}
	return logging.Options{MinLevel: lvl, Tags: s.Debug.Log.Enabled}, nil
}

// Parse decodes a YAML blob. A version mismatch yields Defaults() and
// reset=true. An empty blob is treated as a mismatch.
func Parse(data []byte) (s *Settings, reset bool, err error) {
	var head struct {
		Version int `yaml:"version"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, false, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	if head.Version != Version {
		return Defaults(), true, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	normalized, err := toJSONValue(doc)
	if err != nil {
		return nil, false, err
	}
	if err := schema.Validate(normalized); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	s = Defaults()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, false, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, false, nil
}

// Load reads path. A missing file yields Defaults().
func Load(path string, log *slog.Logger) (*Settings, error) {
	if log == nil {
		log = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("Settings file not found, using defaults", "path", path)
			return Defaults(), nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	s, reset, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if reset {
		log.Warn("Settings version mismatch, reset to defaults", "path", path, "want", Version)
	}
	return s, nil
}

// Save writes s as YAML.
func Save(path string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// toJSONValue converts a YAML document into the shapes encoding/json
// produces, which is what the schema validator expects.
func toJSONValue(doc any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize settings: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize settings: %w", err)
	}
	return out, nil
}
