package jobmanager

import (
	"sort"

	"github.com/ChuLiYu/colony/internal/memory"
	"github.com/ChuLiYu/colony/pkg/types"
)

// Summary is a read-only view of scheduler state for status output.
type Summary struct {
	Tick      uint64             `json:"tick"`
	Active    map[string]int     `json:"active"`
	Durations map[string]float64 `json:"durations"`
	Jobs      []JobInfo          `json:"jobs"`
}

// JobInfo is one job as shown by status.
type JobInfo struct {
	ID       types.JobID `json:"id"`
	Type     string      `json:"type"`
	Priority int         `json:"priority"`
	Room     string      `json:"room"`
	Age      uint64      `json:"age"`
	TTL      uint64      `json:"ttl"`
	Bound    string      `json:"bound,omitempty"`
}

// Stats 取得排程器的統計資訊
//
// 使用範例：
//
//	s := Stats(mem)
//	log.Printf("active harvest jobs: %d", s.Active["harvest_job"])
func Stats(mem *memory.Memory) Summary {
	s := Summary{
		Tick:      mem.Tick,
		Active:    CountByType(mem.Jobs),
		Durations: make(map[string]float64, len(mem.Stats)),
	}
	for k, v := range mem.Stats {
		s.Durations[k] = v
	}
	for _, job := range mem.Jobs {
		s.Jobs = append(s.Jobs, JobInfo{
			ID:       job.ID,
			Type:     job.Type,
			Priority: job.Priority,
			Room:     job.Room,
			Age:      job.Age(mem.Tick),
			TTL:      job.TTL,
			Bound:    boundTo(job),
		})
	}
	sort.SliceStable(s.Jobs, func(i, j int) bool {
		return s.Jobs[i].Priority < s.Jobs[j].Priority
	})
	return s
}

// boundTo names the agent or facility a job holds.
func boundTo(job *types.Job) string {
	switch job.Variant() {
	case types.VariantCreep:
		return job.Creep.AssignedCreep
	case types.VariantSpawn:
		if job.Spawn.AssignedSpawner != "" {
			return job.Spawn.AssignedSpawner
		}
		return job.Spawn.CreepName
	default:
		return ""
	}
}
