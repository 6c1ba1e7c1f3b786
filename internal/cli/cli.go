// ============================================================================
// Colony CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides the command line interface based on the Cobra framework
//
// Command Structure:
//   colony                         # Root command
//   ├── run                        # Run the tick loop against a simulated colony
//   │   └── --ticks, -n            # Stop after n ticks (0 runs until interrupted)
//   ├── status                     # Show the persisted job list and statistics
//   │   └── --json                 # Print the summary as JSON
//   ├── journal                    # Print the job lifecycle journal
//   │   └── --stats                # Print aggregate counts instead of events
//   ├── settings                   # Print the effective tuning settings
//   │   └── --write                # Write the defaults to the settings path
//   ├── --config, -c               # Specify config file
//   └── --version                  # Display version information
//
// Configuration Management:
//   Uses YAML format config file (default: configs/default.yaml)
//   Configuration items include:
//   - store: memory backend (snapshot, sqlite or memory) and its path
//   - journal: lifecycle journal path and sync policy
//   - world: simulated colony shape and seed
//   - tick: interval between ticks
//   - settings_path: tuning blob read by the scheduler
//   - metrics: Prometheus monitoring configuration
//
// Signal Handling:
//   run command stops between ticks on SIGINT or SIGTERM. The store always
//   holds the last completed tick, so a later run resumes from it.
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/colony/internal/controller"
	"github.com/ChuLiYu/colony/internal/jobmanager"
	"github.com/ChuLiYu/colony/internal/logging"
	"github.com/ChuLiYu/colony/internal/memory"
	"github.com/ChuLiYu/colony/internal/metrics"
	"github.com/ChuLiYu/colony/internal/settings"
	"github.com/ChuLiYu/colony/internal/snapshot"
	"github.com/ChuLiYu/colony/internal/storage/sqlite"
	"github.com/ChuLiYu/colony/internal/storage/wal"
	"github.com/ChuLiYu/colony/internal/world/sim"
)

// Store backends
const (
	BackendSnapshot = "snapshot"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

var ErrUnknownBackend = errors.New("unknown store backend")

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Store struct {
		Backend     string `yaml:"backend"`
		Path        string `yaml:"path"`
		Backups     int    `yaml:"backups"`
		BackupEvery uint64 `yaml:"backup_every"`
	} `yaml:"store"`

	Journal struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
		Sync    bool   `yaml:"sync"`
	} `yaml:"journal"`

	World struct {
		Seed            int64 `yaml:"seed"`
		Rooms           int   `yaml:"rooms"`
		SourcesPerRoom  int   `yaml:"sources_per_room"`
		StartingCreeps  int   `yaml:"starting_creeps"`
		SpawnEnergy     int   `yaml:"spawn_energy"`
		ControllerLevel int   `yaml:"controller_level"`
	} `yaml:"world"`

	Tick struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"tick"`

	SettingsPath string `yaml:"settings_path"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// DefaultConfig returns the configuration used when fields are missing.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Store.Backend = BackendSnapshot
	cfg.Store.Path = "data/colony.snap"
	cfg.Store.Backups = 3
	cfg.Store.BackupEvery = 100
	cfg.Journal.Enabled = true
	cfg.Journal.Path = "data/jobs.wal"
	opts := sim.DefaultColonyOptions()
	cfg.World.Seed = opts.Seed
	cfg.World.Rooms = opts.Rooms
	cfg.World.SourcesPerRoom = opts.SourcesPerRoom
	cfg.World.StartingCreeps = opts.StartingCreeps
	cfg.World.SpawnEnergy = opts.SpawnEnergy
	cfg.World.ControllerLevel = opts.ControllerLvl
	cfg.Tick.Interval = 100 * time.Millisecond
	cfg.SettingsPath = "configs/settings.yaml"
	cfg.Metrics.Port = 9090
	return cfg
}

var (
	configFile string
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "colony",
		Short: "Colony: a tick-driven job scheduler for a simulated colony",
		Long: `Colony runs a priority job scheduler once per tick:
- pluggable job kinds (spawn, harvest, build, construct)
- state persisted between ticks (snapshot or SQLite)
- lifecycle journal and Prometheus metrics`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildJournalCommand())
	rootCmd.AddCommand(buildSettingsCommand())

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	var ticks int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the tick loop",
		Long:  "Run the scheduler against a simulated colony until interrupted or the tick limit is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSystem(ctx, cfg, ticks, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVarP(&ticks, "ticks", "n", 0, "stop after this many ticks (0 runs until interrupted)")
	return cmd
}

func runSystem(ctx context.Context, cfg *Config, ticks int, logOut io.Writer) error {
	bootLog := logging.New(logOut, logging.Options{MinLevel: slog.LevelInfo})

	s, err := settings.Load(cfg.SettingsPath, bootLog)
	if err != nil {
		return err
	}
	logOpts, err := s.LogOptions()
	if err != nil {
		return err
	}
	logger := logging.New(logOut, logOpts)
	mainLog := logging.Tagged(logger, "main")

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := controller.Options{
		World:    sim.NewColony(colonyOptions(cfg)),
		Store:    store,
		Settings: s,
		Log:      logger,
		Seed:     cfg.World.Seed,
		Interval: cfg.Tick.Interval,
	}

	if cfg.Journal.Enabled {
		journal, err := wal.NewWAL(cfg.Journal.Path, cfg.Journal.Sync)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		opts.Journal = journal
	}

	// Start Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		opts.Metrics = metrics.NewCollector(reg)
		go func() {
			mainLog.Info("Starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(ctx, cfg.Metrics.Port, reg); err != nil {
				mainLog.Error("Metrics server error", "error", err)
			}
		}()
	}

	ctrl, err := controller.New(opts)
	if err != nil {
		if opts.Journal != nil {
			opts.Journal.Close()
		}
		return fmt.Errorf("failed to create controller: %w", err)
	}
	defer ctrl.Stop()

	mainLog.Info("System started", "store", cfg.Store.Backend, "path", cfg.Store.Path)
	return ctrl.Run(ctx, ticks)
}

func colonyOptions(cfg *Config) sim.ColonyOptions {
	return sim.ColonyOptions{
		Seed:           cfg.World.Seed,
		Rooms:          cfg.World.Rooms,
		SourcesPerRoom: cfg.World.SourcesPerRoom,
		StartingCreeps: cfg.World.StartingCreeps,
		SpawnEnergy:    cfg.World.SpawnEnergy,
		ControllerLvl:  cfg.World.ControllerLevel,
	}
}

// backupStore keeps rotating snapshot backups every `every` ticks.
type backupStore struct {
	*snapshot.Manager
	keep  int
	every uint64
}

func (s *backupStore) Save(mem *memory.Memory) error {
	if s.every > 0 && mem.Tick%s.every == 0 {
		return s.SaveWithBackup(mem, s.keep)
	}
	return s.Manager.Save(mem)
}

// openStore returns the configured backend and a function releasing it.
func openStore(cfg *Config) (controller.Store, func(), error) {
	switch cfg.Store.Backend {
	case BackendSnapshot, "":
		m := snapshot.NewManager(cfg.Store.Path)
		if cfg.Store.Backups > 0 {
			return &backupStore{Manager: m, keep: cfg.Store.Backups, every: cfg.Store.BackupEvery}, func() {}, nil
		}
		return m, func() {}, nil
	case BackendSQLite:
		db, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return db, func() { db.Close() }, nil
	case BackendMemory:
		return controller.NewInMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Store.Backend)
	}
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scheduler status",
		Long:  "Display the persisted job list, active counts and smoothed durations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return showStatus(cfg, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func showStatus(cfg *Config, out io.Writer, asJSON bool) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	mem, err := store.Load()
	if err != nil && !errors.Is(err, memory.ErrSchemaMismatch) {
		return fmt.Errorf("failed to load memory: %w", err)
	}
	summary := jobmanager.Stats(mem)

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintln(out, "Colony Status")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════")
	fmt.Fprintf(out, "  ├─ Store:        %s (%s)\n", cfg.Store.Backend, cfg.Store.Path)
	fmt.Fprintf(out, "  ├─ Tick:         %d\n", summary.Tick)
	fmt.Fprintf(out, "  ├─ Jobs:         %d\n", len(summary.Jobs))
	fmt.Fprintf(out, "  └─ Creeps:       %d\n", len(mem.Creeps))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Active jobs by type:")
	for _, jobType := range sortedKeys(summary.Active) {
		dur := "-"
		if d, ok := summary.Durations[jobType]; ok {
			dur = fmt.Sprintf("%.1f", d)
		}
		fmt.Fprintf(out, "  %-28s %4d  avg %s ticks\n", jobType, summary.Active[jobType], dur)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Jobs (by priority):")
	for _, j := range summary.Jobs {
		bound := j.Bound
		if bound == "" {
			bound = "-"
		}
		fmt.Fprintf(out, "  [%d] %-48s room=%s age=%d/%d bound=%s\n", j.Priority, j.ID, j.Room, j.Age, j.TTL, bound)
	}

	fmt.Fprintln(out)
	if db, ok := store.(*sqlite.Store); ok {
		if err := showSQLiteDetail(db, out, summary); err != nil {
			return err
		}
	}

	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "Metrics: enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(out, "Metrics: disabled")
	}
	return nil
}

// showSQLiteDetail prints per-type row counts and the bindings of each job,
// read from the tables without decoding the aggregate.
func showSQLiteDetail(db *sqlite.Store, out io.Writer, summary jobmanager.Summary) error {
	ctx := context.Background()
	counts, err := db.JobCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count jobs: %w", err)
	}
	fmt.Fprintln(out, "Stored rows by type:")
	for _, jobType := range sortedKeys(counts) {
		fmt.Fprintf(out, "  %-28s %4d\n", jobType, counts[jobType])
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Bindings:")
	for _, j := range summary.Jobs {
		names, err := db.Bindings(ctx, j.ID)
		if err != nil {
			return fmt.Errorf("failed to read bindings: %w", err)
		}
		if len(names) > 0 {
			fmt.Fprintf(out, "  %-48s %s\n", j.ID, strings.Join(names, ", "))
		}
	}
	fmt.Fprintln(out)
	return nil
}

// ============================================================================
// journal
// ============================================================================

func buildJournalCommand() *cobra.Command {
	var stats bool

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the job lifecycle journal",
		Long:  "Print every assign, expire and finish event recorded by the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return showJournal(cfg.Journal.Path, cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().BoolVar(&stats, "stats", false, "print aggregate counts instead of events")
	return cmd
}

func showJournal(path string, out io.Writer, stats bool) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	if !stats {
		if err := wal.DumpWAL(path, out); err != nil {
			return fmt.Errorf("journal damaged: %w", err)
		}
		return nil
	}

	st, err := wal.GetWALStats(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Events:    %d (seq %d..%d)\n", st.TotalEvents, st.FirstSeq, st.LastSeq)
	fmt.Fprintf(out, "Ticks:     %d..%d\n", st.TickRange[0], st.TickRange[1])
	for _, t := range []wal.EventType{wal.EventAssign, wal.EventFinish, wal.EventExpire} {
		fmt.Fprintf(out, "  %-7s %d\n", t, st.EventTypes[t])
	}
	for _, jobType := range sortedKeys(st.JobTypes) {
		fmt.Fprintf(out, "  %-28s %d\n", jobType, st.JobTypes[jobType])
	}
	if st.CorruptedCount > 0 {
		fmt.Fprintln(out, "Warning: journal tail is corrupted")
	}
	return nil
}

// ============================================================================
// settings
// ============================================================================

func buildSettingsCommand() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print the effective tuning settings",
		Long:  "Print the settings the scheduler would use, or write the defaults with --write",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if write {
				if err := settings.Save(cfg.SettingsPath, settings.Defaults()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote default settings to %s\n", cfg.SettingsPath)
				return nil
			}
			return showSettings(cfg.SettingsPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "write the defaults to the settings path")
	return cmd
}

func showSettings(path string, out, logOut io.Writer) error {
	s, err := settings.Load(path, logging.New(logOut, logging.Options{MinLevel: slog.LevelWarn}))
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ============================================================================
// config
// ============================================================================

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return cfg, nil
}
