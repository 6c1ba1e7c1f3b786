// ============================================================================
// Colony World - host view and action primitives
// ============================================================================
//
// Package: internal/world
// File: world.go
// Purpose: The read-only view of the simulation host plus the action
//          primitives jobs use to change it.
//
// Every action returns a Result. State machines branch on these codes
// verbatim, so the set is closed.
//
// ============================================================================

package world

import (
	"time"

	"github.com/ChuLiYu/colony/pkg/geom"
)

// Result is the outcome code of a world action.
type Result int

const (
	OK Result = iota
	NotInRange
	NotEnoughResources
	Full
	InvalidTarget
	InsufficientLevel
	Tired
	OtherFailure
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case NotInRange:
		return "not_in_range"
	case NotEnoughResources:
		return "not_enough_resources"
	case Full:
		return "full"
	case InvalidTarget:
		return "invalid_target"
	case InsufficientLevel:
		return "insufficient_level"
	case Tired:
		return "tired"
	default:
		return "other_failure"
	}
}

// Body part names.
const (
	Move         = "move"
	Work         = "work"
	Carry        = "carry"
	Attack       = "attack"
	RangedAttack = "ranged_attack"
	Heal         = "heal"
	Claim        = "claim"
	Tough        = "tough"
)

// Structure type names.
const (
	StructureSpawn     = "spawn"
	StructureExtension = "extension"
	StructureRoad      = "road"
	StructureContainer = "container"
)

// Creep is a mobile agent.
type Creep struct {
	Name        string
	Room        string
	Pos         geom.Pos
	My          bool
	Spawning    bool
	TicksToLive int
	Body        []string
	Energy      int
	Capacity    int
}

// FreeCapacity is the energy the creep can still carry.
func (c Creep) FreeCapacity() int {
	return c.Capacity - c.Energy
}

// Spawner is a production facility.
type Spawner struct {
	Name     string
	Room     string
	Pos      geom.Pos
	My       bool
	Energy   int
	Capacity int
	// Spawning is the name of the creep in production, empty when idle.
	Spawning string
}

// Source is a regenerating energy deposit.
type Source struct {
	ID       string
	Room     string
	Pos      geom.Pos
	Energy   int
	Capacity int
}

// Site is a construction site.
type Site struct {
	ID            string
	Room          string
	Pos           geom.Pos
	StructureType string
	Progress      int
	ProgressTotal int
}

// Remaining is the build progress still needed.
func (s Site) Remaining() int {
	return s.ProgressTotal - s.Progress
}

// Structure is a finished structure. Energy and Capacity are zero for
// structures that do not store energy.
type Structure struct {
	ID       string
	Room     string
	Pos      geom.Pos
	Type     string
	My       bool
	Energy   int
	Capacity int
}

// Controller is the room controller.
type Controller struct {
	ID               string
	Room             string
	Pos              geom.Pos
	My               bool
	Level            int
	Progress         int
	TicksToDowngrade int
}

// CPU reports time spent in the current tick against the platform limit.
type CPU struct {
	Used  time.Duration
	Limit time.Duration
}

// View is the read-only host state. List methods return entries sorted by
// name or id so iteration is deterministic.
type View interface {
	Time() uint64
	Rooms() []string
	IsWall(room string, p geom.Pos) bool

	Creeps() []Creep
	Creep(name string) (Creep, bool)
	CreepsAt(room string, p geom.Pos) []Creep
	Spawners() []Spawner
	Spawner(name string) (Spawner, bool)
	Sources(room string) []Source
	Source(id string) (Source, bool)
	Sites(room string) []Site
	Site(id string) (Site, bool)
	Structures(room string) []Structure
	Structure(id string) (Structure, bool)
	Controller(room string) (Controller, bool)

	// PathLength is the walking distance inside one room, -1 if unreachable.
	PathLength(room string, from, to geom.Pos) int
	// RoomDistance is the linear distance between two rooms.
	RoomDistance(a, b string) int
	CPU() CPU
}

// Actions are the side-effecting primitives.
type Actions interface {
	MoveTo(creep, room string, to geom.Pos) Result
	Harvest(creep, sourceID string) Result
	// Transfer moves carried energy into a structure, spawner or controller.
	Transfer(creep, targetID string) Result
	Build(creep, siteID string) Result
	CreateSite(room string, p geom.Pos, structureType string) Result
	// SpawnCreep starts production. An empty name lets the spawner pick one.
	SpawnCreep(spawner string, body []string, name string) (string, Result)
	Say(creep, msg string)
}

// World is a full host.
type World interface {
	View
	Actions
}

// PartCost returns the energy cost of a body part, 0 for unknown parts.
func PartCost(part string) int {
	switch part {
	case Move, Carry:
		return 50
	case Work:
		return 100
	case Attack:
		return 80
	case RangedAttack:
		return 150
	case Heal:
		return 250
	case Claim:
		return 600
	case Tough:
		return 10
	default:
		return 0
	}
}

// StructureLimit is the number of structures of a type allowed at a
// controller level.
func StructureLimit(structureType string, level int) int {
	if level < 0 || level > 8 {
		return 0
	}
	switch structureType {
	case StructureExtension:
		return [...]int{0, 0, 5, 10, 20, 30, 40, 50, 60}[level]
	case StructureSpawn:
		return [...]int{0, 1, 1, 1, 1, 1, 1, 2, 3}[level]
	case StructureRoad, StructureContainer:
		if level == 0 {
			return 0
		}
		if structureType == StructureContainer {
			return 5
		}
		return 2500
	default:
		return 0
	}
}
