// ============================================================================
// Colony Jobs - build
// ============================================================================
//
// Package: internal/jobs
// File: build.go
// Purpose: Builders gather energy and spend it on the construction site
//          closest to completion. One load per job; the generator proposes
//          a fresh job for every idle builder while sites remain.
//
// Memory owned: state, target.
//
// ============================================================================

package jobs

import (
	"fmt"

	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

const (
	BuildFactory = "build_factory"
	BuildJobType = "build_job"
)

// BuildState is the per-creep build phase.
type BuildState int

const (
	BuildSelectSource BuildState = iota
	BuildGoToSource
	BuildHarvest
	BuildSelectTarget
	BuildBuildTarget
	BuildDepositToController
	BuildDepositAnywhere
)

func (s BuildState) String() string {
	switch s {
	case BuildSelectSource:
		return "select_source"
	case BuildGoToSource:
		return "go_to_source"
	case BuildHarvest:
		return "harvest"
	case BuildSelectTarget:
		return "select_target"
	case BuildBuildTarget:
		return "build_target"
	case BuildDepositToController:
		return "deposit_to_controller"
	case BuildDepositAnywhere:
		return "deposit_anywhere"
	default:
		return fmt.Sprintf("build_state(%d)", int(s))
	}
}

// BuildKind works construction sites.
type BuildKind struct{}

// NewBuildFactory returns the build job kind.
func NewBuildFactory() *BuildKind {
	return &BuildKind{}
}

// GenerateNewJobs proposes one job per idle builder in rooms with sites.
func (k *BuildKind) GenerateNewJobs(env *Env, active []*types.Job) []*types.Job {
	var out []*types.Job
	for _, room := range ownRooms(env) {
		if len(env.World.Sites(room)) == 0 {
			continue
		}
		for _, c := range IdleCreeps(env) {
			mem, ok := env.Mem.PeekCreep(c.Name)
			if !ok || mem.Role != RoleBuilder || mem.HomeRoom != room {
				continue
			}
			out = append(out, NewCreepJob(env, BuildJobType, BuildFactory, room, geom.Unset))
		}
	}
	return out
}

// Assign claims a builder. A creep already carrying energy starts at
// target selection.
func (k *BuildKind) Assign(env *Env, job *types.Job) bool {
	return AssignCreep(env, job, buildRate, func(env *Env, job *types.Job, c world.Creep) {
		mem := env.Mem.Creep(c.Name)
		if c.Energy > 0 {
			setState(mem, int(BuildSelectTarget))
			return
		}
		setState(mem, int(BuildSelectSource))
	})
}

func (k *BuildKind) Update(env *Env, job *types.Job) {
	UpdateCreep(env, job, k.step, CleanUpBuild)
}

func (k *BuildKind) Kill(env *Env, job *types.Job) bool {
	return KillCreep(env, job, CleanUpBuild)
}

// CleanUpBuild removes build memory fields.
func CleanUpBuild(mem *types.CreepMemory) {
	mem.State = nil
	mem.Target = ""
}

// buildRate takes a home builder immediately. Builders homed elsewhere are
// rated by room distance.
func buildRate(env *Env, job *types.Job, c world.Creep) float64 {
	mem, ok := env.Mem.PeekCreep(c.Name)
	if !ok || mem.Role != RoleBuilder || !canWork(c) {
		return 0
	}
	if mem.HomeRoom == job.Room {
		return PickNow
	}
	return 1 / float64(1+env.World.RoomDistance(c.Room, job.Room))
}

func (k *BuildKind) step(env *Env, job *types.Job, c world.Creep) error {
	mem := env.Mem.Creep(c.Name)

	switch s := BuildState(state(mem, int(BuildSelectSource))); s {
	case BuildSelectSource:
		buildSelectSource(env, job, c, mem)
	case BuildGoToSource:
		buildGoToSource(env, job, c, mem)
	case BuildHarvest:
		buildHarvest(env, job, c, mem)
	case BuildSelectTarget:
		buildSelectTarget(env, job, c, mem)
	case BuildBuildTarget:
		buildBuildTarget(env, job, c, mem)
	case BuildDepositToController:
		buildDepositToController(env, job, c, mem)
	case BuildDepositAnywhere:
		buildDepositAnywhere(env, job, c, mem)
	default:
		setState(mem, int(BuildSelectSource))
		return fmt.Errorf("unknown %s", s)
	}
	return nil
}

func buildSelectSource(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	src, ok := pickSource(env, job)
	if !ok {
		if c.Energy > 0 {
			setState(mem, int(BuildSelectTarget))
		}
		return
	}
	mem.Target = src.ID
	setState(mem, int(BuildGoToSource))
}

func buildGoToSource(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	if c.FreeCapacity() <= 0 {
		setState(mem, int(BuildSelectTarget))
		return
	}
	src, ok := env.World.Source(mem.Target)
	if !ok {
		setState(mem, int(BuildSelectSource))
		return
	}
	arrived, res := approach(env, c, src.Room, src.Pos, harvestRange)
	if arrived {
		setState(mem, int(BuildHarvest))
		buildHarvest(env, job, c, mem)
		return
	}
	if !moved(res) {
		setState(mem, int(BuildSelectSource))
	}
}

func buildHarvest(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	switch res := env.World.Harvest(c.Name, mem.Target); res {
	case world.OK:
		if after, ok := env.World.Creep(c.Name); ok && after.FreeCapacity() <= 0 {
			setState(mem, int(BuildSelectTarget))
		}
	case world.NotInRange:
		setState(mem, int(BuildGoToSource))
	case world.Full:
		setState(mem, int(BuildSelectTarget))
	case world.NotEnoughResources:
		if c.Energy > 0 {
			setState(mem, int(BuildSelectTarget))
			return
		}
		setState(mem, int(BuildSelectSource))
	default:
		setState(mem, int(BuildSelectSource))
	}
}

// buildSelectTarget picks the site with the least work left. Without sites
// the energy goes to spawners, extensions or the controller instead.
func buildSelectTarget(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	if c.Energy <= 0 {
		setState(mem, int(BuildSelectSource))
		return
	}
	if sites := sitesByRemaining(env, job.Room); len(sites) > 0 {
		mem.Target = sites[0].ID
		setState(mem, int(BuildBuildTarget))
		return
	}

	t, ok := chooseDeposit(env, c, job.Room)
	if !ok {
		job.Active = false
		return
	}
	mem.Target = t.ID
	if t.Kind == depositController {
		setState(mem, int(BuildDepositToController))
		return
	}
	setState(mem, int(BuildDepositAnywhere))
}

func buildBuildTarget(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	switch res := env.World.Build(c.Name, mem.Target); res {
	case world.OK:
	case world.NotEnoughResources:
		job.Active = false
	case world.NotInRange:
		site, ok := env.World.Site(mem.Target)
		if !ok {
			setState(mem, int(BuildSelectTarget))
			return
		}
		if _, mres := approach(env, c, site.Room, site.Pos, buildRange); !moved(mres) {
			setState(mem, int(BuildSelectTarget))
		}
	case world.InvalidTarget, world.InsufficientLevel:
		if c.Energy > 0 {
			setState(mem, int(BuildSelectTarget))
			return
		}
		job.Active = false
	default:
		setState(mem, int(BuildSelectTarget))
	}
}

func buildDepositToController(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	ctrl, ok := ownController(env, job.Room)
	if !ok {
		setState(mem, int(BuildDepositAnywhere))
		return
	}
	switch res := env.World.Transfer(c.Name, ctrl.ID); res {
	case world.OK, world.NotEnoughResources:
		job.Active = false
	case world.NotInRange:
		if _, mres := approach(env, c, job.Room, ctrl.Pos, upgradeRange); !moved(mres) {
			job.Active = false
		}
	default:
		setState(mem, int(BuildDepositAnywhere))
	}
}

func buildDepositAnywhere(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	if c.Energy <= 0 {
		job.Active = false
		return
	}
	t, ok := lookupDeposit(env, mem.Target, job.Room)
	if !ok {
		setState(mem, int(BuildSelectTarget))
		return
	}
	switch res := deliver(env, c, t); res {
	case world.OK:
		if after, ok := env.World.Creep(c.Name); ok && after.Energy <= 0 {
			job.Active = false
		}
	case world.NotInRange:
		if _, mres := approach(env, c, t.Room, t.Pos, t.actionRange()); !moved(mres) {
			setState(mem, int(BuildSelectTarget))
		}
	case world.NotEnoughResources:
		job.Active = false
	default:
		setState(mem, int(BuildSelectTarget))
	}
}
