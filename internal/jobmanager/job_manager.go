// ============================================================================
// Colony 任務管理器 - 每 tick 的排程管線
// ============================================================================
//
// Package: internal/jobmanager
// 文件: job_manager.go
// 功能: 驅動所有任務在一個 tick 內的完整生命週期
//
// 管線 (每 tick 嚴格依序執行):
//   1. Update   - 依註冊順序，對每個 active 任務呼叫其 Factory.Update
//   2. Expire   - age > TTL 的任務呼叫 Kill，成功才變成 inactive
//   3. Stats    - 本 tick 結束的任務記錄平滑後的持續時間 (0.9 / 0.1)
//   4. Cull     - 移除所有 inactive 任務
//   5. Generate - poll interval 整除 tick 的 Factory 產生候選任務
//   6. Sort     - 依 priority 穩定排序 (數值越小越先)
//   7. Assign   - 依序呼叫 Assign，成功者加入 active 清單，失敗者丟棄
//   8. Persist  - 寫回 JobStore
//
//   另外每 cleanup_interval 個 tick 執行一次 stale binding 清理。
//
// 設計原則:
//   - 管理器不知道任何任務種類，全部經由 Registry 分派
//   - 任何 Factory 呼叫的 panic 都在這裡被攔截並記錄，不會離開 Tick
//   - 指標 (Recorder) 與事件日誌 (Journal) 皆為可選的旁路輸出
//
// ============================================================================

package jobmanager

import (
	"fmt"
	"sort"

	"github.com/ChuLiYu/colony/internal/jobs"
	"github.com/ChuLiYu/colony/internal/storage/wal"
	"github.com/ChuLiYu/colony/pkg/types"
)

// JobStore is the load/save collaborator. *memory.Memory implements it.
type JobStore interface {
	LoadJobs() []*types.Job
	SaveJobs(jobs []*types.Job)
}

// Recorder receives lifecycle counts. *metrics.Collector implements it.
type Recorder interface {
	JobGenerated(jobType string)
	JobAssigned(jobType string)
	JobAssignFailed(jobType string)
	JobExpired(jobType string)
	JobFinished(jobType string, ticks uint64, smoothed float64)
	ActiveJobs(byType map[string]int)
}

// Journal receives lifecycle events. *wal.WAL implements it.
type Journal interface {
	Append(eventType wal.EventType, job *types.Job, tick uint64) error
}

// Options configure a Manager. Only Registry is required.
type Options struct {
	Registry *jobs.Registry
	Recorder Recorder
	Journal  Journal
}

// Manager runs the tick pipeline.
type Manager struct {
	registry *jobs.Registry
	recorder Recorder
	journal  Journal
}

// TickResult summarises one pipeline pass.
type TickResult struct {
	Tick      uint64
	Updated   int
	Expired   int
	Deferred  int // expired jobs whose kill was refused
	Finished  int // jobs that ended during update
	Generated int
	Assigned  int
	Discarded int
	Active    int
	Swept     *jobs.SweepResult
}

// NewManager 建立排程管理器
//
// 使用範例：
//
//	m := NewManager(Options{Registry: jobs.DefaultRegistry()})
//	res := m.Tick(env, env.Mem)
func NewManager(opts Options) *Manager {
	if opts.Registry == nil {
		opts.Registry = jobs.NewRegistry()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Manager{
		registry: opts.Registry,
		recorder: opts.Recorder,
		journal:  opts.Journal,
	}
}

// Registry returns the factories the manager dispatches to.
func (m *Manager) Registry() *jobs.Registry {
	return m.registry
}

// Tick runs one full pipeline pass against store.
func (m *Manager) Tick(env *jobs.Env, store JobStore) TickResult {
	now := env.Now()
	log := env.Logger("manager")
	res := TickResult{Tick: now}

	loaded := m.ordered(env, store.LoadJobs())
	wasActive := make(map[types.JobID]bool, len(loaded))
	for _, e := range loaded {
		wasActive[e.job.ID] = e.job.Active
	}

	// 1. update
	for _, e := range loaded {
		if !e.job.Active {
			continue
		}
		m.call(env, e.job, "update", func() { e.factory.Update(env, e.job) })
		res.Updated++
	}

	// 2. expire
	expired := make(map[types.JobID]bool)
	for _, e := range loaded {
		job := e.job
		if !job.Active || job.Age(now) <= job.TTL {
			continue
		}
		killed := false
		if !m.call(env, job, "kill", func() { killed = e.factory.Kill(env, job) }) {
			killed = true
		}
		if !killed {
			res.Deferred++
			log.Debug("Kill deferred", "job", job.ID, "age", job.Age(now), "ttl", job.TTL)
			continue
		}
		job.Active = false
		expired[job.ID] = true
		res.Expired++
		m.recorder.JobExpired(job.Type)
		m.record(env, wal.EventExpire, job, now)
		log.Info("Job expired", "job", job.ID, "age", job.Age(now), "ttl", job.TTL)
	}

	// 3. stats
	for _, e := range loaded {
		job := e.job
		if !wasActive[job.ID] || job.Active {
			continue
		}
		ticks := job.Age(now)
		smoothed := env.Mem.RecordDuration(job.Type, ticks)
		m.recorder.JobFinished(job.Type, ticks, smoothed)
		if !expired[job.ID] {
			res.Finished++
			m.record(env, wal.EventFinish, job, now)
			log.Debug("Job finished", "job", job.ID, "ticks", ticks)
		}
	}

	// 4. cull
	active := make([]*types.Job, 0, len(loaded))
	for _, e := range loaded {
		if e.job.Active {
			active = append(active, e.job)
		}
	}

	// 5. generate
	candidates := m.generate(env, active)
	res.Generated = len(candidates)

	// 6. prioritise
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	// 7. assign
	for _, job := range candidates {
		f, err := m.registry.Lookup(job.Factory)
		if err != nil {
			log.Error("Candidate has no factory", "job", job.ID, "error", err)
			res.Discarded++
			continue
		}
		ok := false
		m.call(env, job, "assign", func() { ok = f.Assign(env, job) })
		if !ok {
			job.Active = false
			res.Discarded++
			m.recorder.JobAssignFailed(job.Type)
			continue
		}
		job.Active = true
		active = append(active, job)
		res.Assigned++
		m.recorder.JobAssigned(job.Type)
		m.record(env, wal.EventAssign, job, now)
		log.Debug("Job assigned", "job", job.ID, "priority", job.Priority)
	}

	if n := env.Settings.Jobs.CleanupInterval; n > 0 && now%n == 0 {
		swept := jobs.SweepStaleBindings(env, active)
		res.Swept = &swept
		if swept.Cleared > 0 || swept.Forgotten > 0 {
			log.Info("Swept stale bindings", "cleared", swept.Cleared, "forgotten", swept.Forgotten)
		}
	}

	// 8. persist
	store.SaveJobs(active)
	res.Active = len(active)
	m.recorder.ActiveJobs(CountByType(active))
	return res
}

// entry pairs a persisted job with its factory.
type entry struct {
	job     *types.Job
	factory jobs.Factory
}

// ordered groups persisted jobs by factory in registration order, keeping
// list order within a factory. Jobs naming an unknown factory are dropped.
func (m *Manager) ordered(env *jobs.Env, list []*types.Job) []entry {
	byFactory := make(map[string][]*types.Job)
	for _, job := range list {
		if job == nil {
			continue
		}
		if _, err := m.registry.Lookup(job.Factory); err != nil {
			env.Logger("manager").Error("Dropping job", "job", job.ID, "error", err)
			job.Active = false
			continue
		}
		byFactory[job.Factory] = append(byFactory[job.Factory], job)
	}

	out := make([]entry, 0, len(list))
	for _, name := range m.registry.Names() {
		f, _ := m.registry.Lookup(name)
		for _, job := range byFactory[name] {
			out = append(out, entry{job: job, factory: f})
		}
	}
	return out
}

// generate collects candidates from every factory due this tick and fills
// in omitted defaults.
func (m *Manager) generate(env *jobs.Env, active []*types.Job) []*types.Job {
	now := env.Now()
	var candidates []*types.Job
	for _, name := range m.registry.Names() {
		if now%env.Settings.PollInterval(name) != 0 {
			continue
		}
		f, _ := m.registry.Lookup(name)

		var own []*types.Job
		for _, job := range active {
			if job.Factory == name {
				own = append(own, job)
			}
		}

		var proposed []*types.Job
		m.guard(env, "generate", name, "", func() { proposed = f.GenerateNewJobs(env, own) })
		for _, job := range proposed {
			if job == nil {
				continue
			}
			if job.Factory == "" {
				job.Factory = name
			}
			if job.Priority == 0 {
				job.Priority = env.Settings.Priority(job.Type)
			}
			if job.TTL == 0 {
				job.TTL = env.Settings.TTL(job.Type)
			}
			m.recorder.JobGenerated(job.Type)
			candidates = append(candidates, job)
		}
	}
	return candidates
}

// call runs a factory operation for job. It reports false when fn panicked.
func (m *Manager) call(env *jobs.Env, job *types.Job, op string, fn func()) bool {
	return m.guard(env, op, job.Factory, job.ID, fn)
}

func (m *Manager) guard(env *jobs.Env, op, factory string, id types.JobID, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			env.Logger("manager").Error("Factory call panicked",
				"op", op, "factory", factory, "job", id, "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	fn()
	return true
}

func (m *Manager) record(env *jobs.Env, eventType wal.EventType, job *types.Job, tick uint64) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Append(eventType, job, tick); err != nil {
		env.Logger("manager").Warn("Journal append failed", "event", eventType, "job", job.ID, "error", err)
	}
}

// CountByType tallies jobs per type.
func CountByType(list []*types.Job) map[string]int {
	out := make(map[string]int)
	for _, job := range list {
		out[job.Type]++
	}
	return out
}

type nopRecorder struct{}

func (nopRecorder) JobGenerated(string)                 {}
func (nopRecorder) JobAssigned(string)                  {}
func (nopRecorder) JobAssignFailed(string)              {}
func (nopRecorder) JobExpired(string)                   {}
func (nopRecorder) JobFinished(string, uint64, float64) {}
func (nopRecorder) ActiveJobs(map[string]int)           {}
