package jobs

import "github.com/ChuLiYu/colony/pkg/types"

// SweepResult counts what a stale-binding sweep repaired.
type SweepResult struct {
	Cleared   int // back-references to jobs no longer active
	Forgotten int // records of creeps or facilities that no longer exist
}

// SweepStaleBindings clears creep and facility back-references to jobs
// outside active and forgets records of things that no longer exist.
func SweepStaleBindings(env *Env, active []*types.Job) SweepResult {
	live := make(map[types.JobID]bool, len(active))
	for _, j := range active {
		live[j.ID] = true
	}

	var res SweepResult
	log := env.Logger("job.sweep")
	for _, name := range env.Mem.CreepNames() {
		if _, ok := env.World.Creep(name); !ok {
			env.Mem.ForgetCreep(name)
			res.Forgotten++
			continue
		}
		mem, _ := env.Mem.PeekCreep(name)
		if mem.Job != "" && !live[mem.Job] {
			log.Warn("Clearing stale creep binding", "creep", name, "job", mem.Job)
			mem.Job = ""
			res.Cleared++
		}
	}
	for _, name := range env.Mem.SpawnerNames() {
		if _, ok := env.World.Spawner(name); !ok {
			env.Mem.ForgetSpawner(name)
			res.Forgotten++
			continue
		}
		mem, _ := env.Mem.PeekSpawner(name)
		if mem.Job != "" && !live[mem.Job] {
			log.Warn("Clearing stale spawner binding", "spawner", name, "job", mem.Job)
			*mem = types.SpawnerMemory{}
			res.Cleared++
		}
	}
	return res
}
