// ============================================================================
// Colony Jobs - harvest
// ============================================================================
//
// Package: internal/jobs
// File: harvest.go
// Purpose: Keeps creeps mining sources and hauling the energy home.
//
// 狀態轉換:
//
//   SelectSource ──> GoToSource ──> Harvest ──┬──> DepositAnywhere ──────┐
//        ^                                    └──> DepositToController ──┤
//        └───────────────────────────────────────────────────────────────┘
//
// Memory owned: state, target, stalled, harvest_rate.
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
	HarvestFactory = "harvest_factory"
	HarvestJobType = "harvest_job"
)

// HarvestState is the per-creep harvest phase.
type HarvestState int

const (
	HarvestSelectSource HarvestState = iota
	HarvestGoToSource
	HarvestHarvest
	HarvestDepositAnywhere
	HarvestDepositToController
)

func (s HarvestState) String() string {
	switch s {
	case HarvestSelectSource:
		return "select_source"
	case HarvestGoToSource:
		return "go_to_source"
	case HarvestHarvest:
		return "harvest"
	case HarvestDepositAnywhere:
		return "deposit_anywhere"
	case HarvestDepositToController:
		return "deposit_to_controller"
	default:
		return fmt.Sprintf("harvest_state(%d)", int(s))
	}
}

// HarvestKind mines the sources of own rooms.
type HarvestKind struct{}

// NewHarvestFactory returns the harvest job kind.
func NewHarvestFactory() *HarvestKind {
	return &HarvestKind{}
}

// GenerateNewJobs refreshes room harvest stats and proposes one job per free
// source slot. Without source_spaces metadata each source gets one slot.
func (k *HarvestKind) GenerateNewJobs(env *Env, active []*types.Job) []*types.Job {
	aggregateHarvestRates(env)

	var out []*types.Job
	for _, room := range ownRooms(env) {
		spacesReady := env.Mem.IsMetadataReady(room, types.MetaSourceSpaces)
		for _, src := range env.World.Sources(room) {
			want := 1
			if spacesReady {
				want = max(env.Mem.Metadata(room).SourceSpaces[src.ID], 1)
			}
			have := 0
			for _, j := range active {
				if j.Room == room && j.HasPos() && geom.Same(j.Pos(), src.Pos) {
					have++
				}
			}
			for i := have; i < want; i++ {
				out = append(out, NewCreepJob(env, HarvestJobType, HarvestFactory, room, src.Pos))
			}
		}
	}
	return out
}

// Assign claims the nearest working creep in the room, preferring
// harvesters. A full creep starts by depositing.
func (k *HarvestKind) Assign(env *Env, job *types.Job) bool {
	return AssignCreep(env, job, harvestRate, func(env *Env, job *types.Job, c world.Creep) {
		mem := env.Mem.Creep(c.Name)
		if c.Energy > 0 && c.FreeCapacity() <= 0 {
			setState(mem, int(HarvestDepositAnywhere))
			return
		}
		setState(mem, int(HarvestSelectSource))
	})
}

func (k *HarvestKind) Update(env *Env, job *types.Job) {
	UpdateCreep(env, job, k.step, CleanUpHarvest)
}

// Kill releases the creep and clears its harvest fields.
func (k *HarvestKind) Kill(env *Env, job *types.Job) bool {
	return KillCreep(env, job, CleanUpHarvest)
}

// CleanUpHarvest removes harvest memory fields.
func CleanUpHarvest(mem *types.CreepMemory) {
	mem.State = nil
	mem.Target = ""
	mem.Stalled = false
	mem.HarvestRate = 0
}

// harvestRate prefers harvesters, then unassigned roles, closest first.
func harvestRate(env *Env, job *types.Job, c world.Creep) float64 {
	if !canWork(c) || c.Room != job.Room {
		return 0
	}
	role := roleOf(env, c.Name)
	if role != "" && role != RoleHarvester {
		return 0
	}
	dist := 0
	if job.HasPos() {
		dist = geom.Range(c.Pos, job.Pos())
	}
	score := 1 / float64(1+dist)
	if role == RoleHarvester {
		score++
	}
	return score
}

func (k *HarvestKind) step(env *Env, job *types.Job, c world.Creep) error {
	mem := env.Mem.Creep(c.Name)
	gained := 0

	switch s := HarvestState(state(mem, int(HarvestSelectSource))); s {
	case HarvestSelectSource:
		harvestSelectSource(env, job, c, mem)
	case HarvestGoToSource:
		gained = harvestGoToSource(env, job, c, mem)
	case HarvestHarvest:
		gained = harvestHarvest(env, job, c, mem)
	case HarvestDepositAnywhere:
		harvestDepositAnywhere(env, job, c, mem)
	case HarvestDepositToController:
		harvestDepositToController(env, job, c, mem)
	default:
		setState(mem, int(HarvestSelectSource))
		return fmt.Errorf("unknown %s", s)
	}

	period := float64(max(env.Settings.Harvester.RateMeasurePeriod, 1))
	mem.HarvestRate += (float64(gained) - mem.HarvestRate) / period
	return nil
}

func harvestSelectSource(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	src, ok := pickSource(env, job)
	if !ok {
		mem.Stalled = true
		if c.Energy > 0 {
			harvestToDeposit(env, c, job.Room, mem)
		}
		return
	}
	mem.Stalled = false
	mem.Target = src.ID
	setState(mem, int(HarvestGoToSource))
}

func harvestGoToSource(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) int {
	if c.FreeCapacity() <= 0 {
		harvestToDeposit(env, c, job.Room, mem)
		return 0
	}
	src, ok := env.World.Source(mem.Target)
	if !ok {
		setState(mem, int(HarvestSelectSource))
		return 0
	}
	arrived, res := approach(env, c, src.Room, src.Pos, harvestRange)
	if arrived {
		setState(mem, int(HarvestHarvest))
		return harvestHarvest(env, job, c, mem)
	}
	if !moved(res) {
		mem.Stalled = true
		setState(mem, int(HarvestSelectSource))
	}
	return 0
}

// harvestHarvest returns the energy gained this tick.
func harvestHarvest(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) int {
	switch res := env.World.Harvest(c.Name, mem.Target); res {
	case world.OK:
		mem.Stalled = false
		after, ok := env.World.Creep(c.Name)
		if !ok {
			return 0
		}
		if after.FreeCapacity() <= 0 {
			harvestToDeposit(env, after, job.Room, mem)
		}
		return max(after.Energy-c.Energy, 0)
	case world.NotInRange:
		setState(mem, int(HarvestGoToSource))
	case world.Full:
		harvestToDeposit(env, c, job.Room, mem)
	default:
		// NotEnoughResources, InvalidTarget and the rest reselect.
		setState(mem, int(HarvestSelectSource))
	}
	return 0
}

// harvestToDeposit picks an unload target and switches to the matching state.
func harvestToDeposit(env *Env, c world.Creep, room string, mem *types.CreepMemory) {
	t, ok := chooseDeposit(env, c, room)
	if !ok {
		mem.Target = ""
		setState(mem, int(HarvestDepositAnywhere))
		return
	}
	mem.Target = t.ID
	if t.Kind == depositController {
		setState(mem, int(HarvestDepositToController))
		return
	}
	setState(mem, int(HarvestDepositAnywhere))
}

func harvestDepositAnywhere(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	if c.Energy <= 0 {
		setState(mem, int(HarvestSelectSource))
		return
	}
	t, ok := lookupDeposit(env, mem.Target, job.Room)
	if !ok || t.Kind == depositController {
		harvestToDeposit(env, c, job.Room, mem)
		return
	}

	switch res := deliver(env, c, t); res {
	case world.OK:
		if after, ok := env.World.Creep(c.Name); ok && after.Energy <= 0 {
			setState(mem, int(HarvestSelectSource))
		}
	case world.NotInRange:
		if _, mres := approach(env, c, t.Room, t.Pos, t.actionRange()); !moved(mres) {
			mem.Target = ""
		}
	case world.NotEnoughResources:
		setState(mem, int(HarvestSelectSource))
	default:
		// Full or gone; choose again next tick.
		mem.Target = ""
	}
}

func harvestDepositToController(env *Env, job *types.Job, c world.Creep, mem *types.CreepMemory) {
	ctrl, ok := ownController(env, job.Room)
	if !ok {
		mem.Target = ""
		setState(mem, int(HarvestDepositAnywhere))
		return
	}
	switch res := env.World.Transfer(c.Name, ctrl.ID); res {
	case world.OK, world.NotEnoughResources:
		setState(mem, int(HarvestSelectSource))
	case world.NotInRange:
		if _, mres := approach(env, c, job.Room, ctrl.Pos, upgradeRange); !moved(mres) {
			mem.Stalled = true
		}
	default:
		mem.Target = ""
		setState(mem, int(HarvestDepositAnywhere))
	}
}

// aggregateHarvestRates sums per-creep harvest rates into room stats.
func aggregateHarvestRates(env *Env) {
	rates := make(map[string]float64)
	for _, name := range env.Mem.CreepNames() {
		mem, _ := env.Mem.PeekCreep(name)
		if mem.HarvestRate <= 0 {
			continue
		}
		room := mem.HomeRoom
		if room == "" {
			if c, ok := env.World.Creep(name); ok {
				room = c.Room
			}
		}
		rates[room] += mem.HarvestRate
	}
	for _, room := range env.World.Rooms() {
		env.Mem.Room(room).Stats.HarvestRate = rates[room]
	}
}
