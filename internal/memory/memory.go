// ============================================================================
// Colony Memory - the persisted process-wide state
// ============================================================================
//
// Package: internal/memory
// File: memory.go
// Purpose: Holds everything that must survive between ticks: the active job
//          list, per-creep records, per-room records and job statistics.
//
// The aggregate is loaded from a store at the start of a tick and saved at
// the end. Nothing else keeps state across ticks.
//
// ============================================================================

package memory

import (
	"errors"
	"sort"

	"github.com/ChuLiYu/colony/pkg/types"
)

// SchemaVersion is bumped whenever the persisted shape changes.
const SchemaVersion = 1

// ErrSchemaMismatch is wrapped by stores that found a record written under
// another SchemaVersion. They return a fresh aggregate alongside it.
var ErrSchemaMismatch = errors.New("memory schema version mismatch")

// Memory is the persisted aggregate.
type Memory struct {
	SchemaVer int                             `json:"schema_ver"`
	Tick      uint64                          `json:"tick"`
	Jobs      []*types.Job                    `json:"jobs"`
	Creeps    map[string]*types.CreepMemory   `json:"creeps"`
	Spawners  map[string]*types.SpawnerMemory `json:"spawners"`
	Rooms     map[string]*types.RoomMemory    `json:"rooms"`
	// Stats maps a job type to its smoothed duration in ticks.
	Stats map[string]float64 `json:"stats"`
}

// New returns an empty aggregate.
func New() *Memory {
	m := &Memory{}
	m.ensure()
	return m
}

// Normalize fills nil maps after decoding.
func (m *Memory) Normalize() {
	m.ensure()
}

func (m *Memory) ensure() {
	if m.SchemaVer == 0 {
		m.SchemaVer = SchemaVersion
	}
	if m.Creeps == nil {
		m.Creeps = make(map[string]*types.CreepMemory)
	}
	if m.Spawners == nil {
		m.Spawners = make(map[string]*types.SpawnerMemory)
	}
	if m.Rooms == nil {
		m.Rooms = make(map[string]*types.RoomMemory)
	}
	if m.Stats == nil {
		m.Stats = make(map[string]float64)
	}
}

// LoadJobs returns the persisted job list.
func (m *Memory) LoadJobs() []*types.Job {
	return m.Jobs
}

// SaveJobs replaces the persisted job list.
func (m *Memory) SaveJobs(jobs []*types.Job) {
	m.Jobs = jobs
}

// Creep returns the record for a creep, creating it on first access.
func (m *Memory) Creep(name string) *types.CreepMemory {
	m.ensure()
	mem, ok := m.Creeps[name]
	if !ok {
		mem = &types.CreepMemory{}
		m.Creeps[name] = mem
	}
	return mem
}

// PeekCreep returns the record without creating it.
func (m *Memory) PeekCreep(name string) (*types.CreepMemory, bool) {
	mem, ok := m.Creeps[name]
	return mem, ok
}

// ForgetCreep drops a creep's record.
func (m *Memory) ForgetCreep(name string) {
	delete(m.Creeps, name)
}

// CreepNames returns recorded creep names in sorted order.
func (m *Memory) CreepNames() []string {
	names := make([]string, 0, len(m.Creeps))
	for name := range m.Creeps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spawner returns the record for a facility, creating it on first access.
func (m *Memory) Spawner(name string) *types.SpawnerMemory {
	m.ensure()
	mem, ok := m.Spawners[name]
	if !ok {
		mem = &types.SpawnerMemory{}
		m.Spawners[name] = mem
	}
	return mem
}

// PeekSpawner returns the facility record without creating it.
func (m *Memory) PeekSpawner(name string) (*types.SpawnerMemory, bool) {
	mem, ok := m.Spawners[name]
	return mem, ok
}

// ForgetSpawner drops a facility's record.
func (m *Memory) ForgetSpawner(name string) {
	delete(m.Spawners, name)
}

// SpawnerNames returns recorded facility names in sorted order.
func (m *Memory) SpawnerNames() []string {
	names := make([]string, 0, len(m.Spawners))
	for name := range m.Spawners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Room returns the record for a room, creating it on first access.
func (m *Memory) Room(name string) *types.RoomMemory {
	m.ensure()
	mem, ok := m.Rooms[name]
	if !ok {
		mem = &types.RoomMemory{}
		m.Rooms[name] = mem
	}
	return mem
}

// RecordDuration folds a finished job's lifetime into the smoothed average.
func (m *Memory) RecordDuration(jobType string, ticks uint64) float64 {
	m.ensure()
	prev, ok := m.Stats[jobType]
	next := float64(ticks)
	if ok {
		next = 0.9*prev + 0.1*float64(ticks)
	}
	m.Stats[jobType] = next
	return next
}
