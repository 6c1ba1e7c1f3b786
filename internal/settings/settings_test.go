package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/colony/internal/logging"
)

func TestDefaultsResolve(t *testing.T) {
	s := Defaults()

	assert.Equal(t, 1, s.Priority("spawn_harvester_job"))
	assert.Equal(t, 100, s.Priority("unknown_job"))
	assert.Equal(t, uint64(50), s.TTL("stopblocking_job"))
	assert.Equal(t, uint64(1500), s.TTL("harvest_job"))
	assert.Equal(t, uint64(17), s.PollInterval("construct_road_factory"))
	assert.Equal(t, uint64(1), s.PollInterval("harvest_factory"))
	assert.Equal(t, 2, s.RoleLimit("builder"))
	assert.Equal(t, 0, s.RoleLimit("scout"))
}

func TestParseOverridesDefaults(t *testing.T) {
	blob := fmt.Sprintf(`
version: %d
jobs:
  default_priority: 50
  priorities:
    build_job: 3
spawner:
  harvester_scale: 2.5
debug:
  log:
    min_level: debug
    enabled: [manager]
`, Version)

	s, reset, err := Parse([]byte(blob))
	require.NoError(t, err)
	assert.False(t, reset)

	assert.Equal(t, 50, s.Jobs.DefaultPriority)
	assert.Equal(t, 3, s.Priority("build_job"))
	assert.Equal(t, 1, s.Priority("spawn_harvester_job"), "untouched map keys survive")
	assert.Equal(t, 2.5, s.Spawner.HarvesterScale)
	assert.Equal(t, float64(200), s.Spawner.RoomDistanceCostMultiplier)

	opts, err := s.LogOptions()
	require.NoError(t, err)
	assert.Equal(t, []string{"manager"}, opts.Tags)
	assert.Equal(t, slog.LevelDebug, opts.MinLevel)
}

func TestParseVersionMismatchResets(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"old version", "version: 1\njobs:\n  default_priority: 7\n"},
		{"missing version", "jobs:\n  default_priority: 7\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, reset, err := Parse([]byte(tt.blob))
			require.NoError(t, err)
			assert.True(t, reset)
			assert.Equal(t, Defaults(), s)
		})
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero poll interval", "jobs:\n  poll_intervals:\n    build_factory: 0\n"},
		{"bad log level", "debug:\n  log:\n    min_level: loud\n"},
		{"cpu fraction above one", "metadata:\n  cpu_fraction: 1.5\n"},
		{"string priority", "jobs:\n  default_priority: high\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := fmt.Sprintf("version: %d\n%s", Version, tt.body)
			_, _, err := Parse([]byte(blob))
			assert.ErrorIs(t, err, ErrInvalidSettings)
		})
	}
}

func TestLoadAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	s, err := Load(path, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)

	s.Jobs.CleanupInterval = 3
	require.NoError(t, Save(path, s))

	loaded, err := Load(path, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), loaded.Jobs.CleanupInterval)

	require.NoError(t, os.WriteFile(path, []byte("version: 0\n"), 0644))
	loaded, err = Load(path, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), loaded.Jobs.CleanupInterval)
}
