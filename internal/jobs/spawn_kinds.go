package jobs

import (
	"github.com/ChuLiYu/colony/internal/body"
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

const (
	SpawnHarvesterFactory = "spawn_harvester_factory"
	SpawnHarvesterJobType = "spawn_harvester_job"
	SpawnBuilderFactory   = "spawn_builder_factory"
	SpawnBuilderJobType   = "spawn_builder_job"

	// sourceRegenTicks is how often a source refills to capacity.
	sourceRegenTicks = 300
)

// HarvesterBody is the harvester composition: twice as much WORK as MOVE
// and CARRY.
func HarvesterBody() types.BodySpec {
	return body.NewSpec(
		body.Part(world.Move, 1, 1, 20),
		body.Part(world.Work, 2, 1, 40),
		body.Part(world.Carry, 1, 1, 20),
	)
}

// BuilderBody is the builder composition.
func BuilderBody() types.BodySpec {
	return body.NewSpec(
		body.Part(world.Move, 1, 1, 16),
		body.Part(world.Work, 1, 1, 16),
		body.Part(world.Carry, 1, 1, 16),
	)
}

// spawnKind shares assign, update and kill between the production kinds.
type spawnKind struct{}

func (spawnKind) Assign(env *Env, job *types.Job) bool {
	return AssignSpawn(env, job, nil)
}

func (spawnKind) Update(env *Env, job *types.Job) {
	UpdateSpawn(env, job)
}

func (spawnKind) Kill(env *Env, job *types.Job) bool {
	return KillSpawn(env, job)
}

// SpawnHarvesterKind keeps each room's harvest rate up with its sources.
type SpawnHarvesterKind struct {
	spawnKind
}

// NewSpawnHarvesterFactory returns the harvester production kind.
func NewSpawnHarvesterFactory() *SpawnHarvesterKind {
	return &SpawnHarvesterKind{}
}

// GenerateNewJobs asks for a harvester when a room mines less than its
// sources regenerate, scaled by harvester_scale. Nothing is proposed while
// a job is already running for the room or any of its harvesters is stalled.
func (k *SpawnHarvesterKind) GenerateNewJobs(env *Env, active []*types.Job) []*types.Job {
	var out []*types.Job
	for _, room := range ownRooms(env) {
		if len(inRoom(active, room)) > 0 || harvesterStalled(env, room) {
			continue
		}
		if env.Mem.Room(room).Stats.HarvestRate >= HarvestTarget(env, room) {
			continue
		}
		out = append(out, NewSpawnJob(env, SpawnHarvesterJobType, SpawnHarvesterFactory, room, geom.Unset,
			RoleHarvester, HarvesterBody(), types.SpawnFlagNone))
	}
	return out
}

// HarvestTarget is the harvest rate a room should sustain.
func HarvestTarget(env *Env, room string) float64 {
	total := 0
	for _, s := range env.World.Sources(room) {
		total += s.Capacity
	}
	return float64(total) / sourceRegenTicks * env.Settings.Spawner.HarvesterScale
}

func harvesterStalled(env *Env, room string) bool {
	for _, c := range env.World.Creeps() {
		mem, ok := env.Mem.PeekCreep(c.Name)
		if ok && mem.Role == RoleHarvester && mem.HomeRoom == room && mem.Stalled {
			return true
		}
	}
	return false
}

// SpawnBuilderKind produces builders for rooms with construction sites and
// sends them towards the site closest to completion.
type SpawnBuilderKind struct {
	spawnKind
}

// NewSpawnBuilderFactory returns the builder production kind.
func NewSpawnBuilderFactory() *SpawnBuilderKind {
	return &SpawnBuilderKind{}
}

// GenerateNewJobs proposes a builder for each room with sites and no
// builder job in flight.
func (k *SpawnBuilderKind) GenerateNewJobs(env *Env, active []*types.Job) []*types.Job {
	var out []*types.Job
	for _, room := range ownRooms(env) {
		if len(inRoom(active, room)) > 0 {
			continue
		}
		sites := sitesByRemaining(env, room)
		if len(sites) == 0 {
			continue
		}
		out = append(out, NewSpawnJob(env, SpawnBuilderJobType, SpawnBuilderFactory, room, sites[0].Pos,
			RoleBuilder, BuilderBody(), types.SpawnFlagMoveToPosition))
	}
	return out
}
