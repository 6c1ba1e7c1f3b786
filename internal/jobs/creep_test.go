package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/internal/world/sim"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

func scoreTable(scores map[string]float64) CreepRateFunc {
	return func(env *Env, job *types.Job, c world.Creep) float64 {
		return scores[c.Name]
	}
}

func TestAssignCreep(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
		want   string
		ok     bool
	}{
		{"highest wins", map[string]float64{"a": 1, "b": 3, "c": 2}, "b", true},
		{"tie goes to first scanned", map[string]float64{"a": 2, "b": 2, "c": 1}, "a", true},
		{"pick now beats higher", map[string]float64{"a": 5, "b": PickNow, "c": 9}, "b", true},
		{"zero is ineligible", map[string]float64{"a": 0, "b": 0, "c": 0}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testWorld()
			for i, name := range []string{"a", "b", "c"} {
				addWorker(w, name, geom.Pos{X: 30 + i, Y: 30})
			}
			env := testEnv(w)
			job := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)

			ok := AssignCreep(env, job, scoreTable(tt.scores), nil)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ok, job.Active)
			assert.Equal(t, tt.want, job.Creep.AssignedCreep)
			if tt.ok {
				assert.Equal(t, job.ID, env.Mem.Creep(tt.want).Job)
			}
		})
	}
}

func TestAssignCreepStopsScanOnPickNow(t *testing.T) {
	w := testWorld()
	for i, name := range []string{"a", "b", "c"} {
		addWorker(w, name, geom.Pos{X: 30 + i, Y: 30})
	}
	env := testEnv(w)
	job := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)

	var rated []string
	ok := AssignCreep(env, job, func(env *Env, job *types.Job, c world.Creep) float64 {
		rated = append(rated, c.Name)
		if c.Name == "b" {
			return PickNow
		}
		return 1
	}, nil)

	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, rated)
}

func TestAssignCreepKeepsExistingBinding(t *testing.T) {
	w := testWorld()
	addWorker(w, "a", geom.Pos{X: 30, Y: 30})
	addWorker(w, "b", geom.Pos{X: 31, Y: 30})
	env := testEnv(w)
	job := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)
	rate := scoreTable(map[string]float64{"a": 1, "b": 1})

	require.True(t, AssignCreep(env, job, rate, nil))
	require.True(t, AssignCreep(env, job, rate, nil))
	assert.Equal(t, "a", job.Creep.AssignedCreep)

	bound := 0
	for _, name := range []string{"a", "b"} {
		if env.Mem.Creep(name).Job == job.ID {
			bound++
		}
	}
	assert.Equal(t, 1, bound, "only one creep points back at the job")

	KillCreep(env, job, nil)
	assert.Len(t, IdleCreeps(env), 2)
}

func TestAssignCreepSkipsUnavailable(t *testing.T) {
	w := testWorld()
	addWorker(w, "busy", geom.Pos{X: 30, Y: 30})
	w.AddCreep(world.Creep{Name: "hostile", Room: "R1", Pos: geom.Pos{X: 31, Y: 30}, Body: []string{world.Work}})
	w.AddCreep(world.Creep{Name: "unborn", Room: "R1", Pos: spawnPos, My: true, Spawning: true, Body: []string{world.Work}})
	env := testEnv(w)
	env.Mem.Creep("busy").Job = "other"

	job := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)
	ok := AssignCreep(env, job, func(*Env, *types.Job, world.Creep) float64 { return 1 }, nil)

	assert.False(t, ok)
	assert.False(t, job.Active)
	assert.Empty(t, IdleCreeps(env))
}

func TestAssignmentIsExclusive(t *testing.T) {
	w := testWorld()
	addWorker(w, "only", geom.Pos{X: 30, Y: 30})
	env := testEnv(w)
	anyone := func(*Env, *types.Job, world.Creep) float64 { return 1 }

	first := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)
	second := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)

	require.True(t, AssignCreep(env, first, anyone, nil))
	assert.False(t, AssignCreep(env, second, anyone, nil))
	assert.Equal(t, "only", first.Creep.AssignedCreep)
	assert.Empty(t, second.Creep.AssignedCreep)
}

func TestUpdateCreepDeadAgentSkipsStep(t *testing.T) {
	tests := []struct {
		name string
		kill func(w *sim.World)
	}{
		{"creep removed", func(w *sim.World) { w.RemoveCreep("a") }},
		{"lifespan over", func(w *sim.World) {
			w.UpdateCreep("a", func(c *world.Creep) { c.TicksToLive = 0 })
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testWorld()
			addWorker(w, "a", geom.Pos{X: 30, Y: 30})
			env := testEnv(w)
			job := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)
			require.True(t, AssignCreep(env, job, func(*Env, *types.Job, world.Creep) float64 { return 1 }, nil))

			tt.kill(w)
			called := false
			UpdateCreep(env, job, func(*Env, *types.Job, world.Creep) error {
				called = true
				return nil
			}, nil)

			assert.False(t, called)
			assert.False(t, job.Active)
			assert.Empty(t, job.Creep.AssignedCreep)
			assert.Empty(t, env.Mem.Creep("a").Job)
		})
	}
}

func TestUpdateCreepContainsFailures(t *testing.T) {
	tests := []struct {
		name string
		step CreepStepFunc
	}{
		{"error", func(*Env, *types.Job, world.Creep) error { return errors.New("boom") }},
		{"panic", func(*Env, *types.Job, world.Creep) error { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testWorld()
			addWorker(w, "a", geom.Pos{X: 30, Y: 30})
			env := testEnv(w)
			job := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)
			require.True(t, AssignCreep(env, job, func(*Env, *types.Job, world.Creep) float64 { return 1 }, nil))

			assert.NotPanics(t, func() { UpdateCreep(env, job, tt.step, nil) })
			assert.True(t, job.Active)
			assert.Equal(t, "a", job.Creep.AssignedCreep)
			assert.Equal(t, WarnSign, w.Said("a"))
		})
	}
}

func TestUpdateCreepReleasesFinishedJob(t *testing.T) {
	w := testWorld()
	addWorker(w, "a", geom.Pos{X: 30, Y: 30})
	env := testEnv(w)
	job := NewCreepJob(env, BuildJobType, BuildFactory, "R1", geom.Unset)
	require.True(t, AssignCreep(env, job, func(*Env, *types.Job, world.Creep) float64 { return 1 }, nil))
	env.Mem.Creep("a").Target = "site-1"

	UpdateCreep(env, job, func(env *Env, job *types.Job, c world.Creep) error {
		job.Active = false
		return nil
	}, CleanUpBuild)

	mem := env.Mem.Creep("a")
	assert.Empty(t, mem.Job)
	assert.Empty(t, mem.Target)
	assert.Empty(t, job.Creep.AssignedCreep)
	assert.True(t, IsIdle(env, world.Creep{Name: "a", My: true}))
}

func TestKillCreep(t *testing.T) {
	w := testWorld()
	addWorker(w, "a", geom.Pos{X: 30, Y: 30})
	env := testEnv(w)
	job := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)
	require.True(t, AssignCreep(env, job, func(*Env, *types.Job, world.Creep) float64 { return 1 }, nil))
	setState(env.Mem.Creep("a"), int(HarvestHarvest))

	assert.True(t, KillCreep(env, job, CleanUpHarvest))
	assert.Equal(t, "✖", w.Said("a"))
	assert.Nil(t, env.Mem.Creep("a").State)
	assert.Empty(t, env.Mem.Creep("a").Job)

	// the creep is gone; kill still completes
	w.RemoveCreep("a")
	assert.True(t, KillCreep(env, job, CleanUpHarvest))
}

func TestCleanUpIsIdempotent(t *testing.T) {
	cleanups := map[string]CleanUpFunc{
		"harvest":      CleanUpHarvest,
		"build":        CleanUpBuild,
		"stopblocking": CleanUpStopBlocking,
	}
	for name, cleanUp := range cleanups {
		t.Run(name, func(t *testing.T) {
			s := 3
			dest := geom.Pos{X: 1, Y: 1}
			mem := &types.CreepMemory{
				Role: RoleHarvester, HomeRoom: "R1",
				State: &s, Target: "x", Dest: &dest, Stalled: true, HarvestRate: 2,
			}

			assert.NotPanics(t, func() {
				cleanUp(mem)
				cleanUp(mem)
			})
			assert.Nil(t, mem.State)
			assert.Equal(t, RoleHarvester, mem.Role)
			assert.Equal(t, "R1", mem.HomeRoom)
		})
	}
}

func TestSweepStaleBindings(t *testing.T) {
	w := testWorld()
	addWorker(w, "live", geom.Pos{X: 30, Y: 30})
	addWorker(w, "stale", geom.Pos{X: 31, Y: 30})
	env := testEnv(w)

	job := NewCreepJob(env, HarvestJobType, HarvestFactory, "R1", sourcePos)
	env.Mem.Creep("live").Job = job.ID
	env.Mem.Creep("stale").Job = "vanished"
	env.Mem.Creep("dead").Role = RoleHarvester
	*env.Mem.Spawner("Spawn1") = types.SpawnerMemory{Job: "vanished", Role: RoleBuilder, Room: "R1"}

	res := SweepStaleBindings(env, []*types.Job{job})

	assert.Equal(t, SweepResult{Cleared: 2, Forgotten: 1}, res)
	assert.Equal(t, job.ID, env.Mem.Creep("live").Job)
	assert.Empty(t, env.Mem.Creep("stale").Job)
	_, ok := env.Mem.PeekCreep("dead")
	assert.False(t, ok)
	assert.Len(t, IdleSpawners(env), 1)
}
