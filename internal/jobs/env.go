// ============================================================================
// Colony Jobs - per-tick context, factory contract and registry
// ============================================================================
//
// Package: internal/jobs
// File: env.go
// Purpose: Defines the capability interface every job kind implements, the
//          ordered registry the scheduler dispatches through, and the
//          explicit per-tick context passed to every call.
//
// 設計原則:
//   1. 任務種類的知識只存在於各自的 Factory 中，排程器本身不知道任何種類
//   2. 所有狀態都經由 Env 傳入，沒有全域變數
//   3. Registry 保留註冊順序，排程器依此順序迭代
//
// ============================================================================

package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/ChuLiYu/colony/internal/logging"
	"github.com/ChuLiYu/colony/internal/memory"
	"github.com/ChuLiYu/colony/internal/settings"
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/types"
)

var (
	ErrDuplicateFactory = errors.New("factory already registered")
	ErrUnknownFactory   = errors.New("factory not registered")
)

// Env is everything a job kind may touch during one tick.
type Env struct {
	World    world.World
	Mem      *memory.Memory
	Settings *settings.Settings
	Log      *slog.Logger
	Rand     *rand.Rand
}

// NewEnv builds a tick context. A nil logger discards output and a nil rng
// is seeded from the world time so replays stay deterministic.
func NewEnv(w world.World, mem *memory.Memory, s *settings.Settings, log *slog.Logger, rng *rand.Rand) *Env {
	if log == nil {
		log = logging.Discard()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(w.Time())))
	}
	if s == nil {
		s = settings.Defaults()
	}
	return &Env{World: w, Mem: mem, Settings: s, Log: log, Rand: rng}
}

// Now is the current tick.
func (e *Env) Now() uint64 {
	return e.World.Time()
}

// Logger returns a logger carrying tag.
func (e *Env) Logger(tag string) *slog.Logger {
	return logging.Tagged(e.Log, tag)
}

// Factory is implemented once per job kind.
type Factory interface {
	// GenerateNewJobs proposes candidates. active holds the currently active
	// jobs belonging to this factory.
	GenerateNewJobs(env *Env, active []*types.Job) []*types.Job

	// Assign binds the job to a resource and marks it active. Returning
	// false discards the candidate.
	Assign(env *Env, job *types.Job) bool

	// Update advances an active job by one tick.
	Update(env *Env, job *types.Job)

	// Kill tears the job down. Returning false defers the kill.
	Kill(env *Env, job *types.Job) bool
}

// Registry maps factory names to implementations in registration order.
type Registry struct {
	names     []string
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFactory, name)
	}
	r.names = append(r.names, name)
	r.factories[name] = f
	return nil
}

// MustRegister is Register for static wiring.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFactory, name)
	}
	return f, nil
}

// Names returns factory names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len is the number of registered factories.
func (r *Registry) Len() int {
	return len(r.names)
}

// DefaultRegistry wires every job kind the colony runs. The order matters:
// update and generation iterate factories in this order.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(SpawnHarvesterFactory, NewSpawnHarvesterFactory())
	r.MustRegister(HarvestFactory, NewHarvestFactory())
	r.MustRegister(StopBlockingFactory, NewStopBlockingFactory())
	r.MustRegister(SpawnBuilderFactory, NewSpawnBuilderFactory())
	r.MustRegister(BuildFactory, NewBuildFactory())
	r.MustRegister(ConstructExtensionFactory, NewConstructExtensionFactory())
	r.MustRegister(ConstructRoadFactory, NewConstructRoadFactory())
	return r
}
