package jobs

import (
	"sort"

	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

// Action ranges.
const (
	harvestRange  = 1
	transferRange = 1
	buildRange    = 3
	upgradeRange  = 3
)

// Role names shared by generators and rating functions.
const (
	RoleHarvester = "harvester"
	RoleBuilder   = "builder"
)

type depositKind int

const (
	depositTransfer depositKind = iota
	depositBuild
	depositController
)

// depositTarget is anything a creep can unload energy into.
type depositTarget struct {
	ID   string
	Room string
	Pos  geom.Pos
	Kind depositKind
}

func (t depositTarget) actionRange() int {
	switch t.Kind {
	case depositBuild:
		return buildRange
	case depositController:
		return upgradeRange
	default:
		return transferRange
	}
}

// pickSource chooses the source at the job position when there is one,
// otherwise a random source in the job room with enough energy.
func pickSource(env *Env, job *types.Job) (world.Source, bool) {
	sources := env.World.Sources(job.Room)
	if job.HasPos() {
		for _, s := range sources {
			if geom.Same(s.Pos, job.Pos()) {
				return s, true
			}
		}
	}
	var candidates []world.Source
	for _, s := range sources {
		if s.Energy >= env.Settings.Harvester.MinSourceEnergy {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return world.Source{}, false
	}
	return candidates[env.Rand.Intn(len(candidates))], true
}

// approach reports whether c is already within r of p. If not it takes one
// step and returns the move result.
func approach(env *Env, c world.Creep, room string, p geom.Pos, r int) (bool, world.Result) {
	if c.Room == room && geom.InRange(c.Pos, p, r) {
		return true, world.OK
	}
	return false, env.World.MoveTo(c.Name, room, p)
}

// moved reports whether a move result leaves the creep on course.
func moved(res world.Result) bool {
	return res == world.OK || res == world.Tired
}

// ownController returns the room controller when it is ours.
func ownController(env *Env, room string) (world.Controller, bool) {
	ctrl, ok := env.World.Controller(room)
	if !ok || !ctrl.My {
		return world.Controller{}, false
	}
	return ctrl, true
}

// chooseDeposit picks where a loaded creep should unload.
//
// 優先順序:
//  1. 控制器即將降級時先升級控制器
//  2. 最近的、還有空間的 spawner 或 extension
//  3. 最近的未完成工地
//  4. 控制器
func chooseDeposit(env *Env, c world.Creep, room string) (depositTarget, bool) {
	ctrl, hasCtrl := ownController(env, room)
	if hasCtrl && ctrl.TicksToDowngrade < env.Settings.Harvester.DowngradeThreshold {
		return depositTarget{ID: ctrl.ID, Room: room, Pos: ctrl.Pos, Kind: depositController}, true
	}

	var best depositTarget
	found := false
	bestRange := 0
	consider := func(t depositTarget) {
		r := geom.Range(c.Pos, t.Pos)
		if !found || r < bestRange {
			best, bestRange, found = t, r, true
		}
	}
	for _, s := range env.World.Spawners() {
		if s.Room == room && s.My && s.Energy < s.Capacity {
			consider(depositTarget{ID: s.Name, Room: room, Pos: s.Pos, Kind: depositTransfer})
		}
	}
	for _, s := range env.World.Structures(room) {
		if s.My && s.Type == world.StructureExtension && s.Energy < s.Capacity {
			consider(depositTarget{ID: s.ID, Room: room, Pos: s.Pos, Kind: depositTransfer})
		}
	}
	if found {
		return best, true
	}

	for _, s := range env.World.Sites(room) {
		consider(depositTarget{ID: s.ID, Room: room, Pos: s.Pos, Kind: depositBuild})
	}
	if found {
		return best, true
	}

	if hasCtrl {
		return depositTarget{ID: ctrl.ID, Room: room, Pos: ctrl.Pos, Kind: depositController}, true
	}
	return depositTarget{}, false
}

// lookupDeposit resolves a stored target id.
func lookupDeposit(env *Env, id, room string) (depositTarget, bool) {
	if id == "" {
		return depositTarget{}, false
	}
	if s, ok := env.World.Spawner(id); ok {
		return depositTarget{ID: id, Room: s.Room, Pos: s.Pos, Kind: depositTransfer}, true
	}
	if s, ok := env.World.Structure(id); ok {
		return depositTarget{ID: id, Room: s.Room, Pos: s.Pos, Kind: depositTransfer}, true
	}
	if s, ok := env.World.Site(id); ok {
		return depositTarget{ID: id, Room: s.Room, Pos: s.Pos, Kind: depositBuild}, true
	}
	if ctrl, ok := ownController(env, room); ok && ctrl.ID == id {
		return depositTarget{ID: id, Room: room, Pos: ctrl.Pos, Kind: depositController}, true
	}
	return depositTarget{}, false
}

// deliver performs the unload action for t.
func deliver(env *Env, c world.Creep, t depositTarget) world.Result {
	if t.Kind == depositBuild {
		return env.World.Build(c.Name, t.ID)
	}
	return env.World.Transfer(c.Name, t.ID)
}

// sitesByRemaining returns the room's sites, least work left first. Ties
// keep the host's order.
func sitesByRemaining(env *Env, room string) []world.Site {
	sites := env.World.Sites(room)
	sort.SliceStable(sites, func(a, b int) bool {
		return sites[a].Remaining() < sites[b].Remaining()
	})
	return sites
}

func countParts(parts []string, part string) int {
	n := 0
	for _, p := range parts {
		if p == part {
			n++
		}
	}
	return n
}

// canWork reports whether c can both harvest and carry.
func canWork(c world.Creep) bool {
	return countParts(c.Body, world.Work) > 0 && countParts(c.Body, world.Carry) > 0
}

// roleOf returns the creep's recorded role, empty when unknown.
func roleOf(env *Env, name string) string {
	if mem, ok := env.Mem.PeekCreep(name); ok {
		return mem.Role
	}
	return ""
}

// ownRooms lists rooms whose controller is ours.
func ownRooms(env *Env) []string {
	var out []string
	for _, room := range env.World.Rooms() {
		if _, ok := ownController(env, room); ok {
			out = append(out, room)
		}
	}
	return out
}
