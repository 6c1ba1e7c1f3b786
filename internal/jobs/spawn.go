// ============================================================================
// Colony Jobs - production base
// ============================================================================
//
// Package: internal/jobs
// File: spawn.go
// Purpose: Generic assign / update / kill for jobs that produce a creep at a
//          spawner.
//
// 狀態機:
//
//   Spawning ──┬──> MovingToPosition ──┬──> Done
//              │                       └──> Failed
//              ├──> Done
//              └──> Failed
//
// Done 與 Failed 是終止狀態，在同一次 update 內解除綁定並停用任務。
//
// ============================================================================

package jobs

import (
	"github.com/google/uuid"

	"github.com/ChuLiYu/colony/internal/body"
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

// SpawnRateFunc scores a spawner for job. 0 means ineligible.
type SpawnRateFunc func(env *Env, job *types.Job, s world.Spawner) float64

// IdleSpawners returns own spawners that are neither producing nor claimed.
func IdleSpawners(env *Env) []world.Spawner {
	var out []world.Spawner
	for _, s := range env.World.Spawners() {
		if !s.My || s.Spawning != "" {
			continue
		}
		if mem, ok := env.Mem.PeekSpawner(s.Name); ok && mem.Job != "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// RoleCount counts creeps with role homed in room, including those a
// spawner is currently producing.
func RoleCount(env *Env, role, room string) int {
	n := 0
	for _, c := range env.World.Creeps() {
		mem, ok := env.Mem.PeekCreep(c.Name)
		if ok && mem.Role == role && mem.HomeRoom == room {
			n++
		}
	}
	for _, name := range env.Mem.SpawnerNames() {
		mem, _ := env.Mem.PeekSpawner(name)
		if mem.Job != "" && mem.Role == role && mem.Room == room {
			n++
		}
	}
	return n
}

// DefaultSpawnRate prefers close spawners with energy to spare.
//
//	rate = 1 / (distance × distance_cost_multiplier) + (energy − min_cost)
//
// Distance is the in-room path length, or the scaled room distance when the
// job allows an out-of-room spawner.
func DefaultSpawnRate(env *Env, job *types.Job, s world.Spawner) float64 {
	minCost := body.MinCost(&job.Spawn.Body)
	if s.Energy < minCost {
		return 0
	}

	cfg := env.Settings.Spawner
	var dist float64
	if s.Room == job.Room {
		dist = 1
		if job.HasPos() {
			n := env.World.PathLength(s.Room, s.Pos, job.Pos())
			if n < 0 {
				return 0
			}
			dist = float64(max(n, 1))
		}
	} else {
		if !job.Spawn.Flags.Has(types.SpawnFlagAllowOutOfRoom) {
			return 0
		}
		dist = float64(max(env.World.RoomDistance(s.Room, job.Room), 1)) * cfg.RoomDistanceCostMultiplier
	}

	weight := dist * cfg.DistanceCostMultiplier
	if weight <= 0 {
		weight = 1
	}
	return 1/weight + float64(s.Energy-minCost)
}

// AssignSpawn picks a spawner, generates a body from its energy and starts
// production. rate may be nil for DefaultSpawnRate. A job that is already
// active keeps its production and starts no other.
func AssignSpawn(env *Env, job *types.Job, rate SpawnRateFunc) bool {
	sj := job.Spawn
	if job.Active && (sj.AssignedSpawner != "" || sj.CreepName != "") {
		return true
	}
	log := env.Logger("job.spawn")

	if limit := env.Settings.RoleLimit(sj.Role); limit > 0 {
		if n := RoleCount(env, sj.Role, job.Room); n >= limit {
			log.Debug("Role ceiling reached", "job", job.ID, "role", sj.Role, "room", job.Room, "count", n)
			return false
		}
	}
	if rate == nil {
		rate = DefaultSpawnRate
	}

	var (
		winner world.Spawner
		found  bool
		best   float64
	)
	for _, s := range IdleSpawners(env) {
		score := rate(env, job, s)
		if score == PickNow {
			winner, found = s, true
			break
		}
		if score > best {
			winner, found, best = s, true, score
		}
	}
	if !found {
		return false
	}

	parts, ok := body.Generate(sj.Body, winner.Energy)
	if !ok {
		log.Debug("No body fits spawner energy", "job", job.ID, "spawner", winner.Name, "energy", winner.Energy)
		return false
	}
	name, res := env.World.SpawnCreep(winner.Name, parts, creepName(env, sj.Role))
	if res != world.OK {
		log.Warn("Spawn refused", "job", job.ID, "spawner", winner.Name, "result", res.String())
		return false
	}

	sj.AssignedSpawner = winner.Name
	sj.CreepName = name
	sj.State = types.SpawnSpawning
	*env.Mem.Spawner(winner.Name) = types.SpawnerMemory{Job: job.ID, Role: sj.Role, Room: job.Room}
	job.Active = true
	log.Info("Spawning creep", "job", job.ID, "spawner", winner.Name, "creep", name, "parts", len(parts))
	return true
}

// UpdateSpawn advances the production state machine.
func UpdateSpawn(env *Env, job *types.Job) {
	sj := job.Spawn
	switch sj.State {
	case types.SpawnSpawning:
		spawnSpawning(env, job)
	case types.SpawnMovingToPosition:
		spawnMoving(env, job)
	}

	switch sj.State {
	case types.SpawnDone, types.SpawnFailed:
		spawnFinish(env, job)
	}
}

// KillSpawn releases the job unless its spawner is still producing the
// job's creep, in which case the kill is deferred.
func KillSpawn(env *Env, job *types.Job) bool {
	sj := job.Spawn
	if sj.State == types.SpawnSpawning && sj.CreepName != "" {
		if s, ok := env.World.Spawner(sj.AssignedSpawner); ok && s.Spawning == sj.CreepName {
			return false
		}
	}
	releaseSpawner(env, job)
	clearCreepRef(env, job)
	return true
}

func spawnSpawning(env *Env, job *types.Job) {
	sj := job.Spawn
	log := env.Logger("job.spawn")

	s, ok := env.World.Spawner(sj.AssignedSpawner)
	if !ok {
		log.Warn("Spawner disappeared", "job", job.ID, "spawner", sj.AssignedSpawner)
		sj.State = types.SpawnFailed
		return
	}
	if s.Spawning == sj.CreepName {
		return
	}
	releaseSpawner(env, job)

	c, ok := env.World.Creep(sj.CreepName)
	if !ok || c.Spawning {
		log.Warn("Spawned creep missing", "job", job.ID, "creep", sj.CreepName)
		sj.State = types.SpawnFailed
		return
	}

	mem := env.Mem.Creep(c.Name)
	mem.Role = sj.Role
	mem.HomeRoom = job.Room
	if sj.Flags.Has(types.SpawnFlagMoveToPosition) && job.HasPos() {
		mem.Job = job.ID
		sj.State = types.SpawnMovingToPosition
		return
	}
	sj.State = types.SpawnDone
}

func spawnMoving(env *Env, job *types.Job) {
	sj := job.Spawn
	c, ok := env.World.Creep(sj.CreepName)
	if !ok {
		sj.State = types.SpawnFailed
		return
	}
	if c.Room == job.Room && geom.InRange(c.Pos, job.Pos(), env.Settings.Spawner.MoveToPositionRange) {
		sj.State = types.SpawnDone
		return
	}
	switch res := env.World.MoveTo(c.Name, job.Room, job.Pos()); res {
	case world.OK, world.Tired:
	default:
		env.Logger("job.spawn").Warn("Move to position failed", "job", job.ID, "creep", c.Name, "result", res.String())
		sj.State = types.SpawnFailed
	}
}

func spawnFinish(env *Env, job *types.Job) {
	clearCreepRef(env, job)
	releaseSpawner(env, job)
	job.Active = false
	env.Logger("job.spawn").Info("Spawn job finished", "job", job.ID, "state", job.Spawn.State.String(), "creep", job.Spawn.CreepName)
}

// releaseSpawner drops the facility binding on both sides.
func releaseSpawner(env *Env, job *types.Job) {
	sj := job.Spawn
	if sj.AssignedSpawner == "" {
		return
	}
	if mem, ok := env.Mem.PeekSpawner(sj.AssignedSpawner); ok && mem.Job == job.ID {
		*mem = types.SpawnerMemory{}
	}
	sj.AssignedSpawner = ""
}

func clearCreepRef(env *Env, job *types.Job) {
	if mem, ok := env.Mem.PeekCreep(job.Spawn.CreepName); ok && mem.Job == job.ID {
		mem.Job = ""
	}
}

func creepName(env *Env, role string) string {
	id, err := uuid.NewRandomFromReader(env.Rand)
	if err != nil {
		id = uuid.New()
	}
	if role == "" {
		role = "creep"
	}
	return role + "-" + id.String()[:8]
}
