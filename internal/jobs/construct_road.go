package jobs

import (
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/types"
)

const (
	ConstructRoadFactory = "construct_road_factory"
	ConstructRoadJobType = "construct_road_job"

	// roadsPerLevel caps how many road placements one level proposes per poll.
	roadsPerLevel = 10
)

// ConstructRoadKind lays the planned roads once a room has nothing else
// under construction.
type ConstructRoadKind struct{}

// NewConstructRoadFactory returns the road placement kind.
func NewConstructRoadFactory() *ConstructRoadKind {
	return &ConstructRoadKind{}
}

// GenerateNewJobs proposes up to roadsPerLevel clear road cells for every
// level the controller has reached.
func (k *ConstructRoadKind) GenerateNewJobs(env *Env, active []*types.Job) []*types.Job {
	var out []*types.Job
	for _, room := range ownRooms(env) {
		if !env.Mem.IsMetadataReady(room, types.MetaRoads) || len(env.World.Sites(room)) > 0 {
			continue
		}
		ctrl, _ := ownController(env, room)
		roads := env.Mem.Metadata(room).Roads
		for level := 1; level <= ctrl.Level; level++ {
			n := 0
			for _, p := range roads[level] {
				if n >= roadsPerLevel {
					break
				}
				if !isClear(env, room, p) || atPos(active, room, p) {
					continue
				}
				out = append(out, NewConstructJob(env, ConstructRoadJobType, ConstructRoadFactory, room, p, world.StructureRoad))
				n++
			}
		}
	}
	return out
}

func (k *ConstructRoadKind) Assign(env *Env, job *types.Job) bool {
	return AssignConstruct(env, job)
}

func (k *ConstructRoadKind) Update(env *Env, job *types.Job) {
	UpdateConstruct(env, job, nil)
}

func (k *ConstructRoadKind) Kill(env *Env, job *types.Job) bool {
	return KillConstruct(env, job)
}
