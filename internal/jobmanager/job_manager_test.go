package jobmanager

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/ChuLiYu/colony/internal/jobs"
	"github.com/ChuLiYu/colony/internal/logging"
	"github.com/ChuLiYu/colony/internal/memory"
	"github.com/ChuLiYu/colony/internal/settings"
	"github.com/ChuLiYu/colony/internal/storage/wal"
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/internal/world/sim"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// fakeFactory records every call it receives.
type fakeFactory struct {
	name    string
	calls   *[]string
	propose func(env *jobs.Env, active []*types.Job) []*types.Job
	assign  func(env *jobs.Env, job *types.Job) bool
	update  func(env *jobs.Env, job *types.Job)
	kill    bool

	generated int
	killed    int
}

func (f *fakeFactory) log(op string) {
	if f.calls != nil {
		*f.calls = append(*f.calls, op+":"+f.name)
	}
}

func (f *fakeFactory) GenerateNewJobs(env *jobs.Env, active []*types.Job) []*types.Job {
	f.log("generate")
	f.generated++
	if f.propose == nil {
		return nil
	}
	return f.propose(env, active)
}

func (f *fakeFactory) Assign(env *jobs.Env, job *types.Job) bool {
	f.log("assign")
	if f.assign == nil {
		job.Active = true
		return true
	}
	return f.assign(env, job)
}

func (f *fakeFactory) Update(env *jobs.Env, job *types.Job) {
	f.log("update")
	if f.update != nil {
		f.update(env, job)
	}
}

func (f *fakeFactory) Kill(env *jobs.Env, job *types.Job) bool {
	f.log("kill")
	f.killed++
	return f.kill
}

// newTestEnv creates a one-room world at tick 1.
func newTestEnv() (*sim.World, *jobs.Env) {
	w := sim.New()
	w.AddRoom("R1", nil)
	s := settings.Defaults()
	s.Jobs.CleanupInterval = 0
	env := jobs.NewEnv(w, memory.New(), s, logging.Discard(), rand.New(rand.NewSource(1)))
	return w, env
}

func newManager(factories ...*fakeFactory) *Manager {
	r := jobs.NewRegistry()
	for _, f := range factories {
		r.MustRegister(f.name, f)
	}
	return NewManager(Options{Registry: r})
}

// activeJob creates a persisted active creep job.
func activeJob(id, factory string, created, ttl uint64) *types.Job {
	return &types.Job{
		ID:      types.JobID(id),
		Type:    factory + "_job",
		Factory: factory,
		Active:  true,
		Created: created,
		TTL:     ttl,
		Room:    "R1",
		X:       -1,
		Y:       -1,
		Creep:   &types.CreepJob{},
	}
}

// stepTo advances the world until it reaches tick.
func stepTo(w *sim.World, tick uint64) {
	for w.Time() < tick {
		w.Step()
	}
}

func assertEqual(t *testing.T, name string, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func jobIDs(list []*types.Job) []types.JobID {
	out := make([]types.JobID, 0, len(list))
	for _, j := range list {
		out = append(out, j.ID)
	}
	return out
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(Options{})
	if m.Registry() == nil {
		t.Fatal("registry not initialized")
	}
	if m.recorder == nil {
		t.Error("recorder not initialized")
	}

	_, env := newTestEnv()
	res := m.Tick(env, env.Mem)
	assertEqual(t, "active", res.Active, 0)
	assertEqual(t, "saved", len(env.Mem.Jobs), 0)
}

func TestTickRunsPhasesInOrder(t *testing.T) {
	var calls []string
	a := &fakeFactory{name: "a", calls: &calls}
	b := &fakeFactory{name: "b", calls: &calls}
	a.propose = func(env *jobs.Env, _ []*types.Job) []*types.Job {
		j := jobs.NewCreepJob(env, "a_job", "a", "R1", geom.Unset)
		j.Priority = 5
		return []*types.Job{j}
	}
	b.propose = func(env *jobs.Env, _ []*types.Job) []*types.Job {
		j := jobs.NewCreepJob(env, "b_job", "b", "R1", geom.Unset)
		j.Priority = 1
		return []*types.Job{j}
	}
	m := newManager(a, b)

	_, env := newTestEnv()
	// persisted out of registration order
	env.Mem.SaveJobs([]*types.Job{activeJob("b1", "b", 1, 100), activeJob("a1", "a", 1, 100)})

	m.Tick(env, env.Mem)

	want := []string{
		"update:a", "update:b",
		"generate:a", "generate:b",
		"assign:b", "assign:a",
	}
	assertEqual(t, "calls", calls, want)
	if len(env.Mem.Jobs) != 4 {
		t.Errorf("saved jobs: got %d, want 4", len(env.Mem.Jobs))
	}
}

func TestScarceAgentGoesToHigherPriority(t *testing.T) {
	w, env := newTestEnv()
	w.AddCreep(world.Creep{Name: "last", Room: "R1", Pos: geom.Pos{X: 20, Y: 20}, My: true,
		Body: []string{world.Work, world.Carry, world.Move}})

	var idleSeen []int
	anyone := func(*jobs.Env, *types.Job, world.Creep) float64 { return 1 }
	f := &fakeFactory{name: "f"}
	f.propose = func(env *jobs.Env, _ []*types.Job) []*types.Job {
		second := jobs.NewCreepJob(env, "f_job", "f", "R1", geom.Unset)
		second.Priority = 2
		first := jobs.NewCreepJob(env, "f_job", "f", "R1", geom.Unset)
		first.Priority = 1
		return []*types.Job{second, first}
	}
	f.assign = func(env *jobs.Env, job *types.Job) bool {
		idleSeen = append(idleSeen, len(jobs.IdleCreeps(env)))
		return jobs.AssignCreep(env, job, anyone, nil)
	}

	res := newManager(f).Tick(env, env.Mem)

	assertEqual(t, "idle agents seen per assign", idleSeen, []int{1, 0})
	assertEqual(t, "assigned", res.Assigned, 1)
	assertEqual(t, "discarded", res.Discarded, 1)
	if len(env.Mem.Jobs) != 1 {
		t.Fatalf("saved jobs: got %d, want 1", len(env.Mem.Jobs))
	}
	won := env.Mem.Jobs[0]
	assertEqual(t, "winner priority", won.Priority, 1)
	assertEqual(t, "creep back-reference", env.Mem.Creep("last").Job, won.ID)
}

func TestExpire(t *testing.T) {
	tests := []struct {
		name        string
		now         uint64
		kill        bool
		wantKilled  int
		wantActive  bool
		wantExpired int
		wantDefer   int
	}{
		{"age equals ttl", 6, true, 0, true, 0, 0},
		{"age exceeds ttl", 7, true, 1, false, 1, 0},
		{"kill deferred", 7, false, 1, true, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFactory{name: "f", kill: tt.kill}
			w, env := newTestEnv()
			stepTo(w, tt.now)
			job := activeJob("old", "f", 1, 5)
			env.Mem.SaveJobs([]*types.Job{job})

			res := newManager(f).Tick(env, env.Mem)

			assertEqual(t, "kill calls", f.killed, tt.wantKilled)
			assertEqual(t, "active", job.Active, tt.wantActive)
			assertEqual(t, "expired", res.Expired, tt.wantExpired)
			assertEqual(t, "deferred", res.Deferred, tt.wantDefer)
			if tt.wantActive {
				assertEqual(t, "saved", jobIDs(env.Mem.Jobs), []types.JobID{"old"})
			} else {
				assertEqual(t, "saved", len(env.Mem.Jobs), 0)
				assertEqual(t, "smoothed duration", env.Mem.Stats["f_job"], float64(tt.now-1))
			}
		})
	}
}

func TestFinishedJobsFeedSmoothedDuration(t *testing.T) {
	f := &fakeFactory{name: "f"}
	f.update = func(env *jobs.Env, job *types.Job) { job.Active = false }
	m := newManager(f)
	w, env := newTestEnv()

	stepTo(w, 11)
	env.Mem.SaveJobs([]*types.Job{activeJob("first", "f", 1, 100)})
	res := m.Tick(env, env.Mem)
	assertEqual(t, "finished", res.Finished, 1)
	assertEqual(t, "first sample", env.Mem.Stats["f_job"], 10.0)

	stepTo(w, 21)
	env.Mem.SaveJobs([]*types.Job{activeJob("second", "f", 1, 100)})
	m.Tick(env, env.Mem)
	if got := env.Mem.Stats["f_job"]; got < 10.999 || got > 11.001 {
		t.Errorf("smoothed duration: got %v, want 11", got)
	}
	assertEqual(t, "culled", len(env.Mem.Jobs), 0)
}

func TestPollInterval(t *testing.T) {
	fast := &fakeFactory{name: "fast"}
	slow := &fakeFactory{name: "slow"}
	m := newManager(fast, slow)
	w, env := newTestEnv()
	env.Settings.Jobs.PollIntervals["slow"] = 3

	for w.Time() <= 6 {
		m.Tick(env, env.Mem)
		w.Step()
	}

	assertEqual(t, "fast generate calls", fast.generated, 6)
	assertEqual(t, "slow generate calls", slow.generated, 2)
}

func TestGenerateReceivesOwnActiveJobs(t *testing.T) {
	var seen []types.JobID
	a := &fakeFactory{name: "a"}
	a.propose = func(_ *jobs.Env, active []*types.Job) []*types.Job {
		seen = jobIDs(active)
		return nil
	}
	b := &fakeFactory{name: "b"}
	m := newManager(a, b)
	_, env := newTestEnv()
	env.Mem.SaveJobs([]*types.Job{activeJob("a1", "a", 1, 100), activeJob("b1", "b", 1, 100), activeJob("a2", "a", 1, 100)})

	m.Tick(env, env.Mem)

	assertEqual(t, "active passed to generate", seen, []types.JobID{"a1", "a2"})
}

func TestUnknownFactoryIsDropped(t *testing.T) {
	f := &fakeFactory{name: "f"}
	_, env := newTestEnv()
	env.Mem.SaveJobs([]*types.Job{activeJob("orphan", "gone", 1, 100), activeJob("kept", "f", 1, 100)})

	newManager(f).Tick(env, env.Mem)

	assertEqual(t, "saved", jobIDs(env.Mem.Jobs), []types.JobID{"kept"})
}

func TestFactoryPanicsAreContained(t *testing.T) {
	f := &fakeFactory{name: "f"}
	f.update = func(*jobs.Env, *types.Job) { panic("update exploded") }
	f.propose = func(env *jobs.Env, _ []*types.Job) []*types.Job {
		return []*types.Job{jobs.NewCreepJob(env, "f_job", "f", "R1", geom.Unset)}
	}
	f.assign = func(*jobs.Env, *types.Job) bool { panic("assign exploded") }
	g := &fakeFactory{name: "g"}
	g.propose = func(*jobs.Env, []*types.Job) []*types.Job { panic("generate exploded") }

	_, env := newTestEnv()
	env.Mem.SaveJobs([]*types.Job{activeJob("survivor", "f", 1, 100)})

	var res TickResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped Tick: %v", r)
			}
		}()
		res = newManager(f, g).Tick(env, env.Mem)
	}()

	assertEqual(t, "saved", jobIDs(env.Mem.Jobs), []types.JobID{"survivor"})
	assertEqual(t, "discarded", res.Discarded, 1)
}

func TestCandidateDefaultsResolved(t *testing.T) {
	f := &fakeFactory{name: "f"}
	f.propose = func(*jobs.Env, []*types.Job) []*types.Job {
		return []*types.Job{{ID: "bare", Type: "mystery_job", Room: "R1", X: -1, Y: -1, Construct: &types.ConstructJob{}}}
	}
	_, env := newTestEnv()

	newManager(f).Tick(env, env.Mem)

	if len(env.Mem.Jobs) != 1 {
		t.Fatalf("saved jobs: got %d, want 1", len(env.Mem.Jobs))
	}
	job := env.Mem.Jobs[0]
	assertEqual(t, "factory", job.Factory, "f")
	assertEqual(t, "priority", job.Priority, env.Settings.Jobs.DefaultPriority)
	assertEqual(t, "ttl", job.TTL, env.Settings.Jobs.DefaultTTL)
	assertEqual(t, "active", job.Active, true)
}

func TestSweepRunsOnCleanupInterval(t *testing.T) {
	f := &fakeFactory{name: "f"}
	m := newManager(f)
	w, env := newTestEnv()
	env.Settings.Jobs.CleanupInterval = 2
	w.AddCreep(world.Creep{Name: "c", Room: "R1", Pos: geom.Pos{X: 5, Y: 5}, My: true, Body: []string{world.Move}})
	env.Mem.Creep("c").Job = "ghost"

	res := m.Tick(env, env.Mem)
	if res.Swept != nil {
		t.Errorf("sweep ran on tick %d", res.Tick)
	}
	assertEqual(t, "binding before sweep", env.Mem.Creep("c").Job, types.JobID("ghost"))

	w.Step()
	res = m.Tick(env, env.Mem)
	if res.Swept == nil {
		t.Fatal("sweep did not run on cleanup tick")
	}
	assertEqual(t, "cleared", res.Swept.Cleared, 1)
	assertEqual(t, "binding after sweep", env.Mem.Creep("c").Job, types.JobID(""))
}

// ============================================================================
// Recorder / Journal
// ============================================================================

type countingRecorder struct {
	generated, assigned, failed, expired, finished int
	active                                         map[string]int
}

func (r *countingRecorder) JobGenerated(string)                 { r.generated++ }
func (r *countingRecorder) JobAssigned(string)                  { r.assigned++ }
func (r *countingRecorder) JobAssignFailed(string)              { r.failed++ }
func (r *countingRecorder) JobExpired(string)                   { r.expired++ }
func (r *countingRecorder) JobFinished(string, uint64, float64) { r.finished++ }
func (r *countingRecorder) ActiveJobs(m map[string]int)         { r.active = m }

type memJournal struct {
	events []wal.EventType
}

func (j *memJournal) Append(eventType wal.EventType, _ *types.Job, _ uint64) error {
	j.events = append(j.events, eventType)
	return nil
}

func TestRecorderAndJournal(t *testing.T) {
	f := &fakeFactory{name: "f"}
	n := 0
	f.propose = func(env *jobs.Env, _ []*types.Job) []*types.Job {
		return []*types.Job{
			jobs.NewCreepJob(env, "f_job", "f", "R1", geom.Unset),
			jobs.NewCreepJob(env, "f_job", "f", "R1", geom.Unset),
		}
	}
	f.assign = func(_ *jobs.Env, job *types.Job) bool {
		n++
		return n == 1
	}
	f.update = func(_ *jobs.Env, job *types.Job) {
		if job.ID == "done" {
			job.Active = false
		}
	}
	f.kill = true

	rec := &countingRecorder{}
	journal := &memJournal{}
	r := jobs.NewRegistry()
	r.MustRegister("f", f)
	m := NewManager(Options{Registry: r, Recorder: rec, Journal: journal})

	w, env := newTestEnv()
	stepTo(w, 10)
	env.Mem.SaveJobs([]*types.Job{activeJob("done", "f", 1, 100), activeJob("stale", "f", 1, 2)})

	m.Tick(env, env.Mem)

	assertEqual(t, "generated", rec.generated, 2)
	assertEqual(t, "assigned", rec.assigned, 1)
	assertEqual(t, "assign failed", rec.failed, 1)
	assertEqual(t, "expired", rec.expired, 1)
	assertEqual(t, "finished", rec.finished, 2)
	assertEqual(t, "active gauge", rec.active, map[string]int{"f_job": 1})
	assertEqual(t, "journal", journal.events, []wal.EventType{wal.EventExpire, wal.EventFinish, wal.EventAssign})
}

func TestStatsSummary(t *testing.T) {
	mem := memory.New()
	mem.Tick = 50
	spawn := activeJob("s", "spawner", 10, 300)
	spawn.Type, spawn.Priority, spawn.Creep = "spawn_job", 1, nil
	spawn.Spawn = &types.SpawnJob{AssignedSpawner: "Spawn1"}
	creep := activeJob("c", "worker", 40, 100)
	creep.Priority = 2
	creep.Creep.AssignedCreep = "bob"
	mem.SaveJobs([]*types.Job{creep, spawn})
	mem.RecordDuration("spawn_job", 12)

	s := Stats(mem)

	assertEqual(t, "active", s.Active, map[string]int{"spawn_job": 1, "worker_job": 1})
	assertEqual(t, "durations", s.Durations, map[string]float64{"spawn_job": 12})
	if len(s.Jobs) != 2 {
		t.Fatalf("jobs: got %d, want 2", len(s.Jobs))
	}
	assertEqual(t, "first by priority", s.Jobs[0].ID, types.JobID("s"))
	assertEqual(t, "spawn bound", s.Jobs[0].Bound, "Spawn1")
	assertEqual(t, "creep bound", s.Jobs[1].Bound, "bob")
	assertEqual(t, "age", s.Jobs[1].Age, uint64(10))
}
