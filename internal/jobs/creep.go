// ============================================================================
// Colony Jobs - agent-bound base
// ============================================================================
//
// Package: internal/jobs
// File: creep.go
// Purpose: Generic assign / update / kill for jobs that drive a single creep.
//          Concrete kinds supply a rating function, a per-tick step and a
//          cleanup for the memory fields they own.
//
// Binding 規則:
//   - 任務寫入 job.Creep.AssignedCreep
//   - creep 記憶體寫入 Job (反向參照，只用於清理)
//   - 兩者在同一次 assign 呼叫中同步寫入，後續 assign 立即可見
//
// ============================================================================

package jobs

import (
	"fmt"

	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/types"
)

// PickNow is the rating that stops the scan and takes the current candidate.
const PickNow = -1

// WarnSign is said by a creep whose job step failed.
const WarnSign = "⚠"

// CreepRateFunc scores a creep for job. 0 means ineligible.
type CreepRateFunc func(env *Env, job *types.Job, c world.Creep) float64

// CreepAssignedFunc initialises kind state after a creep is claimed.
type CreepAssignedFunc func(env *Env, job *types.Job, c world.Creep)

// CreepStepFunc runs one tick of kind logic for a live creep.
type CreepStepFunc func(env *Env, job *types.Job, c world.Creep) error

// CleanUpFunc removes the memory fields a kind owns. It must be safe to call
// repeatedly.
type CleanUpFunc func(mem *types.CreepMemory)

// IsIdle reports whether c can take a new job.
func IsIdle(env *Env, c world.Creep) bool {
	if !c.My || c.Spawning {
		return false
	}
	mem, ok := env.Mem.PeekCreep(c.Name)
	return !ok || mem.Job == ""
}

// IdleCreeps returns the idle creeps in name order.
func IdleCreeps(env *Env) []world.Creep {
	var out []world.Creep
	for _, c := range env.World.Creeps() {
		if IsIdle(env, c) {
			out = append(out, c)
		}
	}
	return out
}

// AssignCreep claims the best rated idle creep for job.
//
// 評分規則:
//   - PickNow 立即選中並停止掃描
//   - 0 表示不適合
//   - 其餘取最高分，同分時先掃描到的勝出
//
// A job that is already active and bound keeps its creep.
func AssignCreep(env *Env, job *types.Job, rate CreepRateFunc, onAssigned CreepAssignedFunc) bool {
	if job.Active && job.Creep.AssignedCreep != "" {
		return true
	}

	var (
		winner world.Creep
		found  bool
		best   float64
	)
	for _, c := range IdleCreeps(env) {
		score := rate(env, job, c)
		if score == PickNow {
			winner, found = c, true
			break
		}
		if score > best {
			winner, found, best = c, true, score
		}
	}
	if !found {
		return false
	}

	job.Creep.AssignedCreep = winner.Name
	env.Mem.Creep(winner.Name).Job = job.ID
	job.Active = true
	if onAssigned != nil {
		onAssigned(env, job, winner)
	}
	env.Logger("job.creep").Debug("Creep assigned", "job", job.ID, "creep", winner.Name)
	return true
}

// UpdateCreep runs step for the bound creep. A dead or missing creep
// deactivates the job before step is considered. Errors and panics from step
// are logged and the creep flags itself. When step deactivates the job the
// binding is released and cleanUp runs.
func UpdateCreep(env *Env, job *types.Job, step CreepStepFunc, cleanUp CleanUpFunc) {
	name := job.Creep.AssignedCreep
	c, ok := env.World.Creep(name)
	if !ok || c.TicksToLive <= 0 {
		job.Active = false
		if mem, ok := env.Mem.PeekCreep(name); ok && mem.Job == job.ID {
			mem.Job = ""
		}
		job.Creep.AssignedCreep = ""
		env.Logger("job.creep").Debug("Creep gone, job dropped", "job", job.ID, "creep", name)
		return
	}

	if err := runStep(env, job, c, step); err != nil {
		env.Logger("job.creep").Error("Job step failed", "job", job.ID, "creep", name, "error", err)
		env.World.Say(name, WarnSign)
	}

	if !job.Active {
		releaseCreep(env, job, name, cleanUp)
	}
}

// KillCreep notifies and releases the bound creep. It always succeeds.
func KillCreep(env *Env, job *types.Job, cleanUp CleanUpFunc) bool {
	name := job.Creep.AssignedCreep
	if _, ok := env.World.Creep(name); ok {
		env.World.Say(name, "✖")
		releaseCreep(env, job, name, cleanUp)
	}
	job.Creep.AssignedCreep = ""
	return true
}

func releaseCreep(env *Env, job *types.Job, name string, cleanUp CleanUpFunc) {
	if mem, ok := env.Mem.PeekCreep(name); ok {
		if mem.Job == job.ID {
			mem.Job = ""
		}
		if cleanUp != nil {
			cleanUp(mem)
		}
	}
	job.Creep.AssignedCreep = ""
}

// runStep converts a panic inside step into an error.
func runStep(env *Env, job *types.Job, c world.Creep, step CreepStepFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step(env, job, c)
}

// state returns the kind state stored on mem, initialising it to start.
func state(mem *types.CreepMemory, start int) int {
	if mem.State == nil {
		s := start
		mem.State = &s
	}
	return *mem.State
}

func setState(mem *types.CreepMemory, s int) {
	mem.State = &s
}
