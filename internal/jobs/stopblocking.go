package jobs

import (
	"fmt"

	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

const (
	StopBlockingFactory = "stopblocking_factory"
	StopBlockingJobType = "stopblocking_job"
)

// StopBlockingState is the phase of a creep clearing a busy cell.
type StopBlockingState int

const (
	StopBlockingUnknown StopBlockingState = iota
	StopBlockingMoving
	StopBlockingDone
	StopBlockingFailed
)

func (s StopBlockingState) String() string {
	switch s {
	case StopBlockingUnknown:
		return "unknown"
	case StopBlockingMoving:
		return "moving"
	case StopBlockingDone:
		return "done"
	case StopBlockingFailed:
		return "failed"
	default:
		return fmt.Sprintf("stopblocking_state(%d)", int(s))
	}
}

// StopBlockingKind moves idle creeps off spawn and source neighbourhoods.
// Memory owned: state, dest, stalled.
type StopBlockingKind struct{}

// NewStopBlockingFactory returns the stop-blocking job kind.
func NewStopBlockingFactory() *StopBlockingKind {
	return &StopBlockingKind{}
}

// GenerateNewJobs proposes a job at the cell of every idle creep standing
// next to a spawner or source.
func (k *StopBlockingKind) GenerateNewJobs(env *Env, active []*types.Job) []*types.Job {
	var out []*types.Job
	for _, c := range IdleCreeps(env) {
		if !blocksBusyCell(env, c.Room, c.Pos) || atPos(active, c.Room, c.Pos) {
			continue
		}
		out = append(out, NewCreepJob(env, StopBlockingJobType, StopBlockingFactory, c.Room, c.Pos))
	}
	return out
}

// Assign only accepts the creep standing on the job cell.
func (k *StopBlockingKind) Assign(env *Env, job *types.Job) bool {
	return AssignCreep(env, job, stopBlockingRate, func(env *Env, job *types.Job, c world.Creep) {
		setState(env.Mem.Creep(c.Name), int(StopBlockingUnknown))
	})
}

func (k *StopBlockingKind) Update(env *Env, job *types.Job) {
	UpdateCreep(env, job, k.step, CleanUpStopBlocking)
}

func (k *StopBlockingKind) Kill(env *Env, job *types.Job) bool {
	return KillCreep(env, job, CleanUpStopBlocking)
}

// CleanUpStopBlocking removes stop-blocking memory fields.
func CleanUpStopBlocking(mem *types.CreepMemory) {
	mem.State = nil
	mem.Dest = nil
	mem.Stalled = false
}

// stopBlockingRate only accepts the creep standing on the job cell.
func stopBlockingRate(env *Env, job *types.Job, c world.Creep) float64 {
	if c.Room == job.Room && job.HasPos() && geom.Same(c.Pos, job.Pos()) {
		return PickNow
	}
	return 0
}

func (k *StopBlockingKind) step(env *Env, job *types.Job, c world.Creep) error {
	mem := env.Mem.Creep(c.Name)
	log := env.Logger("job.stopblocking")

	switch s := StopBlockingState(state(mem, int(StopBlockingUnknown))); s {
	case StopBlockingUnknown:
		dest, ok := freeCell(env, c)
		if !ok {
			if !mem.Stalled {
				log.Warn("No free cell to move to", "job", job.ID, "creep", c.Name)
			}
			mem.Stalled = true
			return nil
		}
		mem.Stalled = false
		mem.Dest = &dest
		setState(mem, int(StopBlockingMoving))
	case StopBlockingMoving:
		if mem.Dest == nil {
			setState(mem, int(StopBlockingUnknown))
			return nil
		}
		arrived, res := approach(env, c, c.Room, *mem.Dest, 0)
		if arrived {
			setState(mem, int(StopBlockingDone))
			break
		}
		if !moved(res) {
			log.Warn("Move off busy cell failed", "job", job.ID, "creep", c.Name, "result", res.String())
			setState(mem, int(StopBlockingFailed))
		}
	case StopBlockingDone, StopBlockingFailed:
	default:
		setState(mem, int(StopBlockingUnknown))
		return fmt.Errorf("unknown %s", s)
	}

	switch StopBlockingState(*mem.State) {
	case StopBlockingDone, StopBlockingFailed:
		job.Active = false
	}
	return nil
}

// blocksBusyCell reports whether p is within range 1 of an own spawner or a
// source in room.
func blocksBusyCell(env *Env, room string, p geom.Pos) bool {
	for _, s := range env.World.Spawners() {
		if s.My && s.Room == room && geom.InRange(p, s.Pos, 1) {
			return true
		}
	}
	for _, s := range env.World.Sources(room) {
		if geom.InRange(p, s.Pos, 1) {
			return true
		}
	}
	return false
}

// freeCell picks where c should go: the nearest unoccupied rally point when
// the room has them, otherwise the closest open cell by flood search.
func freeCell(env *Env, c world.Creep) (geom.Pos, bool) {
	room := c.Room
	free := func(p geom.Pos) bool {
		return !env.World.IsWall(room, p) && !geom.IsEdge(p) &&
			!blocksBusyCell(env, room, p) && len(env.World.CreepsAt(room, p)) == 0
	}

	if env.Mem.IsMetadataReady(room, types.MetaRallyPoints) {
		var (
			best  geom.Pos
			found bool
		)
		for _, p := range env.Mem.Metadata(room).RallyPoints {
			if !free(p) {
				continue
			}
			if !found || geom.Range(c.Pos, p) < geom.Range(c.Pos, best) {
				best, found = p, true
			}
		}
		if found {
			return best, true
		}
	}

	return geom.FloodSearch(c.Pos, func(p geom.Pos) bool {
		return !env.World.IsWall(room, p)
	}, free)
}
