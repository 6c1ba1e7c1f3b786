package jobs

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

// NewJob builds an inactive job record. Priority and TTL come from settings.
// pos may be geom.Unset for kinds that pick their own position.
func NewJob(env *Env, jobType, factory, room string, pos geom.Pos) *types.Job {
	now := env.Now()
	return &types.Job{
		Type:     jobType,
		Factory:  factory,
		ID:       newID(env, jobType, room, pos, now),
		Priority: env.Settings.Priority(jobType),
		Created:  now,
		TTL:      env.Settings.TTL(jobType),
		Room:     room,
		X:        pos.X,
		Y:        pos.Y,
	}
}

// NewCreepJob builds a job bound to an agent on assignment.
func NewCreepJob(env *Env, jobType, factory, room string, pos geom.Pos) *types.Job {
	j := NewJob(env, jobType, factory, room, pos)
	j.Creep = &types.CreepJob{}
	return j
}

// NewSpawnJob builds a production job. The body spec is copied.
func NewSpawnJob(env *Env, jobType, factory, room string, pos geom.Pos, role string, spec types.BodySpec, flags types.SpawnFlags) *types.Job {
	j := NewJob(env, jobType, factory, room, pos)
	j.Spawn = &types.SpawnJob{
		Flags: flags,
		Body:  spec.Clone(),
		Role:  role,
		State: types.SpawnSpawning,
	}
	return j
}

// NewConstructJob builds a placement request at a fixed position.
func NewConstructJob(env *Env, jobType, factory, room string, pos geom.Pos, structureType string) *types.Job {
	j := NewJob(env, jobType, factory, room, pos)
	j.Construct = &types.ConstructJob{StructureType: structureType}
	return j
}

// NewConstructAutoPos builds a placement request whose position is chosen by
// the kind when the job first runs.
func NewConstructAutoPos(env *Env, jobType, factory, room, structureType string) *types.Job {
	return NewConstructJob(env, jobType, factory, room, geom.Unset, structureType)
}

// newID 生成任務 ID: type:room:x:y:created:salt
// salt 取自 env.Rand，相同種子會產生相同的 ID
func newID(env *Env, jobType, room string, pos geom.Pos, now uint64) types.JobID {
	salt, err := uuid.NewRandomFromReader(env.Rand)
	if err != nil {
		salt = uuid.New()
	}
	return types.JobID(fmt.Sprintf("%s:%s:%d:%d:%d:%s", jobType, room, pos.X, pos.Y, now, salt.String()[:8]))
}

// inRoom returns the jobs tied to room.
func inRoom(active []*types.Job, room string) []*types.Job {
	var out []*types.Job
	for _, j := range active {
		if j.Room == room {
			out = append(out, j)
		}
	}
	return out
}

// atPos reports whether any job in list targets p in room.
func atPos(list []*types.Job, room string, p geom.Pos) bool {
	for _, j := range list {
		if j.Room == room && j.HasPos() && geom.Same(j.Pos(), p) {
			return true
		}
	}
	return false
}
