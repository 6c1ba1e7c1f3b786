// Package types 定義了 colony 排程器中使用的核心領域模型
package types

import "github.com/ChuLiYu/colony/pkg/geom"

// JobID 任務唯一識別碼
type JobID string

// Variant names which job-kind payload a Job carries.
type Variant int

const (
	VariantNone Variant = iota
	VariantCreep
	VariantSpawn
	VariantConstruct
)

func (v Variant) String() string {
	switch v {
	case VariantCreep:
		return "creep"
	case VariantSpawn:
		return "spawn"
	case VariantConstruct:
		return "construct"
	default:
		return "none"
	}
}

// Job is the persisted unit of work.
//
// Exactly one of Creep, Spawn or Construct is set. X and Y are -1 while the
// position is still to be chosen by the job kind.
type Job struct {
	// 識別
	Type    string `json:"type"`
	Factory string `json:"factory"`
	ID      JobID  `json:"id"`

	// 排程
	Priority int    `json:"priority"`
	Active   bool   `json:"active"`
	Created  uint64 `json:"created"`
	TTL      uint64 `json:"ttl"`

	// 位置
	Room string `json:"room"`
	X    int    `json:"x"`
	Y    int    `json:"y"`

	Creep     *CreepJob     `json:"creep,omitempty"`
	Spawn     *SpawnJob     `json:"spawn,omitempty"`
	Construct *ConstructJob `json:"construct,omitempty"`
}

// Variant returns the payload tag.
func (j *Job) Variant() Variant {
	switch {
	case j.Creep != nil:
		return VariantCreep
	case j.Spawn != nil:
		return VariantSpawn
	case j.Construct != nil:
		return VariantConstruct
	default:
		return VariantNone
	}
}

// HasPos reports whether the job already carries a concrete position.
func (j *Job) HasPos() bool {
	return j.X >= 0 && j.Y >= 0
}

// Pos returns the job position. Only meaningful when HasPos is true.
func (j *Job) Pos() geom.Pos {
	return geom.Pos{X: j.X, Y: j.Y}
}

// Age is the number of ticks since creation.
func (j *Job) Age(now uint64) uint64 {
	if now < j.Created {
		return 0
	}
	return now - j.Created
}

// CreepJob binds a job to a single agent.
type CreepJob struct {
	AssignedCreep string `json:"assigned_creep,omitempty"`
}

// SpawnState is the production lifecycle of a spawn job.
type SpawnState int

const (
	SpawnSpawning SpawnState = iota
	SpawnMovingToPosition
	SpawnDone
	SpawnFailed
)

func (s SpawnState) String() string {
	switch s {
	case SpawnSpawning:
		return "spawning"
	case SpawnMovingToPosition:
		return "moving_to_position"
	case SpawnDone:
		return "done"
	case SpawnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SpawnFlags modify how a spawn job picks and uses its facility.
type SpawnFlags uint8

const (
	SpawnFlagNone           SpawnFlags = 0
	SpawnFlagMoveToPosition SpawnFlags = 1 << 1
	SpawnFlagAllowOutOfRoom SpawnFlags = 1 << 2
)

// Has reports whether every bit of f is set.
func (s SpawnFlags) Has(f SpawnFlags) bool {
	return s&f == f
}

// SpawnJob binds a job to a production facility.
type SpawnJob struct {
	AssignedSpawner string     `json:"assigned_spawner,omitempty"`
	CreepName       string     `json:"creep_name,omitempty"`
	Flags           SpawnFlags `json:"flags"`
	Body            BodySpec   `json:"body_spec"`
	Role            string     `json:"role"`
	State           SpawnState `json:"state"`
}

// ConstructJob asks for a structure to be placed.
type ConstructJob struct {
	StructureType string `json:"structure_type"`
}

// BodyPartSpec describes how one part type scales with available energy.
type BodyPartSpec struct {
	Part  string  `json:"part"`
	Ratio float64 `json:"ratio"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
}

// BodySpec is an ordered list of part specs. MinCost caches the cost of
// the minimum body once computed.
type BodySpec struct {
	Parts   []BodyPartSpec `json:"parts"`
	MinCost int            `json:"min_cost,omitempty"`
}

// Clone returns a deep copy so specs are never shared between jobs.
func (b BodySpec) Clone() BodySpec {
	parts := make([]BodyPartSpec, len(b.Parts))
	copy(parts, b.Parts)
	return BodySpec{Parts: parts, MinCost: b.MinCost}
}
