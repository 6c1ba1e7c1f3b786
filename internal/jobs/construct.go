package jobs

import (
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

// AutoPosFunc picks a placement for a construct job created without one.
type AutoPosFunc func(env *Env, job *types.Job) (geom.Pos, bool)

// AssignConstruct needs no resource; the job simply becomes active.
func AssignConstruct(env *Env, job *types.Job) bool {
	job.Active = true
	return true
}

// UpdateConstruct places the site once and deactivates the job whatever the
// outcome. Generators re-request placements that are still needed.
func UpdateConstruct(env *Env, job *types.Job, autoPos AutoPosFunc) {
	defer func() { job.Active = false }()
	log := env.Logger("job.construct")
	structure := job.Construct.StructureType

	if !job.HasPos() {
		if autoPos == nil {
			log.Warn("Construct job has no position", "job", job.ID)
			return
		}
		p, ok := autoPos(env, job)
		if !ok {
			log.Info("No placement available", "job", job.ID, "structure", structure, "room", job.Room)
			return
		}
		job.X, job.Y = p.X, p.Y
	}

	res := env.World.CreateSite(job.Room, job.Pos(), structure)
	if res != world.OK {
		log.Warn("Site placement failed", "job", job.ID, "structure", structure, "pos", job.Pos().String(), "result", res.String())
		return
	}
	log.Info("Site placed", "job", job.ID, "structure", structure, "room", job.Room, "pos", job.Pos().String())
}

// KillConstruct always succeeds.
func KillConstruct(env *Env, job *types.Job) bool {
	return true
}

// isClear reports whether p in room has no wall, structure or site.
func isClear(env *Env, room string, p geom.Pos) bool {
	if env.World.IsWall(room, p) {
		return false
	}
	for _, s := range env.World.Structures(room) {
		if geom.Same(s.Pos, p) {
			return false
		}
	}
	for _, s := range env.World.Sites(room) {
		if geom.Same(s.Pos, p) {
			return false
		}
	}
	for _, s := range env.World.Spawners() {
		if s.Room == room && geom.Same(s.Pos, p) {
			return false
		}
	}
	return true
}
