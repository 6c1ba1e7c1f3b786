package controller

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/colony/internal/logging"
	"github.com/ChuLiYu/colony/internal/memory"
	"github.com/ChuLiYu/colony/internal/metadata"
	"github.com/ChuLiYu/colony/internal/metrics"
	"github.com/ChuLiYu/colony/internal/snapshot"
	"github.com/ChuLiYu/colony/internal/storage/wal"
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/internal/world/sim"
	"github.com/ChuLiYu/colony/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func unlimited(world.View) metadata.Budget { return metadata.Unlimited{} }

// createTestController creates a controller over a fresh simulated colony
func createTestController(t *testing.T, store Store) (*Controller, *sim.World) {
	t.Helper()

	w := sim.NewColony(sim.DefaultColonyOptions())
	c, err := New(Options{
		World:  w,
		Store:  store,
		Log:    logging.Discard(),
		Budget: unlimited,
		Seed:   1,
	})
	if err != nil {
		t.Fatalf("Failed to create Controller: %v", err)
	}
	t.Cleanup(c.Stop)
	return c, w
}

// stubStore returns canned results
type stubStore struct {
	loadMem *memory.Memory
	loadErr error
	saveErr error
	saved   *memory.Memory
}

func (s *stubStore) Load() (*memory.Memory, error) { return s.loadMem, s.loadErr }

func (s *stubStore) Save(mem *memory.Memory) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = mem
	return nil
}

func activeCount(mem *memory.Memory) int {
	n := 0
	for _, j := range mem.Jobs {
		if j.Active {
			n++
		}
	}
	return n
}

// ============================================================================
// Tests
// ============================================================================

func TestNewRequiresWorldAndStore(t *testing.T) {
	if _, err := New(Options{Store: NewInMemoryStore()}); err == nil {
		t.Error("expected error without world")
	}
	if _, err := New(Options{World: sim.New()}); err == nil {
		t.Error("expected error without store")
	}
}

func TestTickPersistsMemory(t *testing.T) {
	store := NewInMemoryStore()
	c, w := createTestController(t, store)

	report, err := c.Tick()
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Tick != w.Time() {
		t.Errorf("report tick = %d, want %d", report.Tick, w.Time())
	}
	if !report.MetadataComplete {
		t.Error("unlimited budget should finish metadata in one tick")
	}
	if store.Saves() != 1 {
		t.Errorf("saves = %d, want 1", store.Saves())
	}

	mem, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if mem.Tick != w.Time() {
		t.Errorf("memory tick = %d, want %d", mem.Tick, w.Time())
	}
	if !mem.IsMetadataReady("R1", types.MetaAll) {
		t.Errorf("R1 metadata incomplete: %s", mem.Metadata("R1").Flags)
	}
	if got := activeCount(mem); got != report.Active {
		t.Errorf("stored active jobs = %d, report says %d", got, report.Active)
	}
}

func TestRunStepsWorld(t *testing.T) {
	store := NewInMemoryStore()
	c, w := createTestController(t, store)

	if err := c.Run(context.Background(), 5); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if w.Time() != 6 {
		t.Errorf("world time = %d, want 6", w.Time())
	}
	if store.Saves() != 5 {
		t.Errorf("saves = %d, want 5", store.Saves())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := NewInMemoryStore()
	c, _ := createTestController(t, store)
	c.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx, 0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if store.Saves() != 0 {
		t.Errorf("saves = %d, want 0", store.Saves())
	}
}

func TestSchemaMismatchResets(t *testing.T) {
	store := &stubStore{
		loadMem: memory.New(),
		loadErr: errors.New("wrapped: " + memory.ErrSchemaMismatch.Error()),
	}
	c, _ := createTestController(t, store)

	// 沒有包裝 sentinel 的錯誤不算 schema 不相容
	if _, err := c.Tick(); err == nil {
		t.Fatal("expected plain load error to surface")
	}

	store.loadErr = errors.Join(memory.ErrSchemaMismatch, errors.New("got 0"))
	report, err := c.Tick()
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !report.Reset {
		t.Error("expected Reset after schema mismatch")
	}
	if store.saved == nil {
		t.Error("fresh memory should still be saved")
	}
}

func TestPersistenceFailuresSurface(t *testing.T) {
	boom := errors.New("disk full")

	tests := []struct {
		name  string
		store *stubStore
	}{
		{"load", &stubStore{loadErr: boom}},
		{"save", &stubStore{loadMem: memory.New(), saveErr: boom}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := createTestController(t, tt.store)
			_, err := c.Tick()
			if !errors.Is(err, boom) {
				t.Errorf("err = %v, want %v", err, boom)
			}
			if err := c.Run(context.Background(), 3); !errors.Is(err, boom) {
				t.Errorf("Run err = %v, want %v", err, boom)
			}
		})
	}
}

func TestTeardownAndReload(t *testing.T) {
	store := snapshot.NewManager(filepath.Join(t.TempDir(), "colony.snap"))
	w := sim.NewColony(sim.DefaultColonyOptions())

	first, err := New(Options{World: w, Store: store, Log: logging.Discard(), Budget: unlimited, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := first.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	first.Stop()

	before, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// 新的 Controller 只透過 Store 取得先前的狀態
	second, err := New(Options{World: w, Store: store, Log: logging.Discard(), Budget: unlimited, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer second.Stop()

	report, err := second.Tick()
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Updated != activeCount(before) {
		t.Errorf("updated %d jobs after reload, %d were active", report.Updated, activeCount(before))
	}
	if report.Tick != before.Tick+1 {
		t.Errorf("tick = %d, want %d", report.Tick, before.Tick+1)
	}
}

func TestStopClosesJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.wal")
	journal, err := wal.NewWAL(path, false)
	if err != nil {
		t.Fatalf("NewWAL failed: %v", err)
	}

	c, err := New(Options{
		World:   sim.NewColony(sim.DefaultColonyOptions()),
		Store:   NewInMemoryStore(),
		Log:     logging.Discard(),
		Journal: journal,
		Budget:  unlimited,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Run(context.Background(), 10); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	c.Stop()
	c.Stop()

	if _, err := c.Tick(); !errors.Is(err, ErrStopped) {
		t.Errorf("Tick after Stop = %v, want ErrStopped", err)
	}
	if err := journal.Append(wal.EventAssign, &types.Job{ID: "x"}, 1); !errors.Is(err, wal.ErrWALClosed) {
		t.Errorf("journal still open: %v", err)
	}
	if err := wal.ValidateWAL(path); err != nil {
		t.Errorf("journal invalid: %v", err)
	}
}

func TestMetricsAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := NewInMemoryStore()
	c, err := New(Options{
		World:   sim.NewColony(sim.DefaultColonyOptions()),
		Store:   store,
		Log:     logging.Discard(),
		Metrics: metrics.NewCollector(reg),
		Budget:  unlimited,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Stop()

	if err := c.Run(context.Background(), 4); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var tick float64
	for _, f := range families {
		if f.GetName() == "colony_tick" {
			tick = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if tick != 4 {
		t.Errorf("colony_tick = %v, want 4", tick)
	}

	summary, err := c.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if summary.Tick != 4 {
		t.Errorf("summary tick = %d, want 4", summary.Tick)
	}
	if want := len(mustLoad(t, store).Jobs); len(summary.Jobs) != want {
		t.Errorf("summary lists %d jobs, want %d", len(summary.Jobs), want)
	}
}

func TestLogTagsFilterRecords(t *testing.T) {
	tests := []struct {
		tag     string
		want    string
		notWant string
	}{
		{"metadata", "Metadata category computed", "Tick completed"},
		{"main", "Tick completed", "Metadata category computed"},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			var buf bytes.Buffer
			c, err := New(Options{
				World:  sim.NewColony(sim.DefaultColonyOptions()),
				Store:  NewInMemoryStore(),
				Log:    logging.New(&buf, logging.Options{MinLevel: slog.LevelDebug, Tags: []string{tt.tag}}),
				Budget: unlimited,
			})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer c.Stop()

			if _, err := c.Tick(); err != nil {
				t.Fatalf("Tick failed: %v", err)
			}
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("missing %q in:\n%s", tt.want, out)
			}
			if strings.Contains(out, tt.notWant) {
				t.Errorf("unexpected %q in:\n%s", tt.notWant, out)
			}
			if !strings.Contains(out, "tag="+tt.tag) {
				t.Errorf("records not tagged %s", tt.tag)
			}
		})
	}
}

func mustLoad(t *testing.T, s Store) *memory.Memory {
	t.Helper()
	mem, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return mem
}
