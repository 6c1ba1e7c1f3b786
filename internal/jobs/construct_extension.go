package jobs

import (
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

const (
	ConstructExtensionFactory = "construct_extension_factory"
	ConstructExtensionJobType = "construct_extension_job"
)

// ConstructExtensionKind places extensions on the planned cells until the
// controller level's allowance is used up.
type ConstructExtensionKind struct{}

// NewConstructExtensionFactory returns the extension placement kind.
func NewConstructExtensionFactory() *ConstructExtensionKind {
	return &ConstructExtensionKind{}
}

// GenerateNewJobs proposes one placement per room below its extension limit.
func (k *ConstructExtensionKind) GenerateNewJobs(env *Env, active []*types.Job) []*types.Job {
	var out []*types.Job
	for _, room := range ownRooms(env) {
		if !env.Mem.IsMetadataReady(room, types.MetaExtensions) || len(inRoom(active, room)) > 0 {
			continue
		}
		ctrl, _ := ownController(env, room)
		if countStructures(env, room, world.StructureExtension) >= world.StructureLimit(world.StructureExtension, ctrl.Level) {
			continue
		}
		out = append(out, NewConstructAutoPos(env, ConstructExtensionJobType, ConstructExtensionFactory, room, world.StructureExtension))
	}
	return out
}

func (k *ConstructExtensionKind) Assign(env *Env, job *types.Job) bool {
	return AssignConstruct(env, job)
}

func (k *ConstructExtensionKind) Update(env *Env, job *types.Job) {
	UpdateConstruct(env, job, extensionPos)
}

func (k *ConstructExtensionKind) Kill(env *Env, job *types.Job) bool {
	return KillConstruct(env, job)
}

// extensionPos returns the first planned extension cell still clear.
func extensionPos(env *Env, job *types.Job) (geom.Pos, bool) {
	if !env.Mem.IsMetadataReady(job.Room, types.MetaExtensions) {
		return geom.Unset, false
	}
	for _, p := range env.Mem.Metadata(job.Room).Extensions {
		if isClear(env, job.Room, p) {
			return p, true
		}
	}
	return geom.Unset, false
}

// countStructures counts built structures and open sites of a type.
func countStructures(env *Env, room, structureType string) int {
	n := 0
	for _, s := range env.World.Structures(room) {
		if s.Type == structureType {
			n++
		}
	}
	for _, s := range env.World.Sites(room) {
		if s.StructureType == structureType {
			n++
		}
	}
	return n
}
