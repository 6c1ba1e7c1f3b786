// ============================================================================
// Colony Sim - deterministic in-memory host
// ============================================================================
//
// Package: internal/world/sim
// File: sim.go
// Purpose: A small rules engine implementing world.World. It backs the CLI
//          and the tests. Terrain comes from OpenSimplex noise so every seed
//          yields the same rooms.
//
// Rules (deliberately simplified):
//   - a creep moves at most one cell per tick
//   - harvesting yields 2 energy per work part, building uses 5
//   - sources refill every 300 ticks
//   - spawning takes 3 ticks per body part
//
// ============================================================================

package sim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
)

const (
	SourceRegenTicks  = 300
	CreepLifetime     = 1500
	SpawnTicksPerPart = 3
	DowngradeTicks    = 20000
	HarvestPerWork    = 2
	BuildPerWork      = 5
	CarryPerPart      = 50

	noiseScale      = 0.09
	wallThreshold   = 0.68
	exitGapMin      = 20
	exitGapMax      = 29
	defaultCPULimit = 20 * time.Millisecond
)

type room struct {
	name       string
	coord      geom.Pos
	walls      [geom.RoomSize * geom.RoomSize]bool
	controller *world.Controller
}

type spawner struct {
	world.Spawner
	remaining int
}

// World implements world.World.
type World struct {
	time       uint64
	rooms      map[string]*room
	roomOrder  []string
	creeps     map[string]*world.Creep
	spawners   map[string]*spawner
	sources    map[string]*world.Source
	sites      map[string]*world.Site
	structures map[string]*world.Structure
	said       map[string]string
	moved      map[string]bool
	nextID     int

	tickStart time.Time
	cpuLimit  time.Duration
}

// New returns an empty world at tick 1.
func New() *World {
	return &World{
		time:       1,
		rooms:      make(map[string]*room),
		creeps:     make(map[string]*world.Creep),
		spawners:   make(map[string]*spawner),
		sources:    make(map[string]*world.Source),
		sites:      make(map[string]*world.Site),
		structures: make(map[string]*world.Structure),
		said:       make(map[string]string),
		moved:      make(map[string]bool),
		tickStart:  time.Now(),
		cpuLimit:   defaultCPULimit,
	}
}

// ============================================================================
// Construction helpers
// ============================================================================

// AddRoom adds a room. isWall may be nil for a room without walls.
func (w *World) AddRoom(name string, isWall func(geom.Pos) bool) {
	r := &room{name: name, coord: geom.Pos{X: len(w.roomOrder), Y: 0}}
	if isWall != nil {
		for i := range r.walls {
			r.walls[i] = isWall(geom.FromIndex(i))
		}
	}
	w.rooms[name] = r
	w.roomOrder = append(w.roomOrder, name)
}

// AddNoiseRoom adds a room whose walls come from OpenSimplex noise. The
// border is walled except for an exit gap in the middle of every side.
func (w *World) AddNoiseRoom(name string, seed int64) {
	noise := opensimplex.NewNormalized(seed)
	w.AddRoom(name, func(p geom.Pos) bool {
		if geom.IsEdge(p) {
			along := p.X
			if p.X == 0 || p.X == geom.RoomSize-1 {
				along = p.Y
			}
			return along < exitGapMin || along > exitGapMax
		}
		return noise.Eval2(float64(p.X)*noiseScale, float64(p.Y)*noiseScale) > wallThreshold
	})
}

// Clear removes walls within r of center.
func (w *World) Clear(roomName string, center geom.Pos, r int) {
	rm, ok := w.rooms[roomName]
	if !ok {
		return
	}
	for _, p := range geom.Area(center, r) {
		if !geom.IsEdge(p) {
			rm.walls[geom.Index(p)] = false
		}
	}
}

// SetController places an owned controller.
func (w *World) SetController(roomName string, p geom.Pos, level int) {
	rm, ok := w.rooms[roomName]
	if !ok {
		return
	}
	rm.controller = &world.Controller{
		ID:               "controller-" + roomName,
		Room:             roomName,
		Pos:              p,
		My:               true,
		Level:            level,
		TicksToDowngrade: DowngradeTicks,
	}
}

// AddSpawner places an idle spawner.
func (w *World) AddSpawner(name, roomName string, p geom.Pos, energy, capacity int) {
	w.spawners[name] = &spawner{Spawner: world.Spawner{
		Name: name, Room: roomName, Pos: p, My: true, Energy: energy, Capacity: capacity,
	}}
}

// AddSource places a full source.
func (w *World) AddSource(id, roomName string, p geom.Pos, capacity int) {
	w.sources[id] = &world.Source{ID: id, Room: roomName, Pos: p, Energy: capacity, Capacity: capacity}
}

// AddCreep places a creep. Capacity is derived from carry parts when zero.
func (w *World) AddCreep(c world.Creep) {
	if c.Capacity == 0 {
		c.Capacity = countParts(c.Body, world.Carry) * CarryPerPart
	}
	if c.TicksToLive == 0 && !c.Spawning {
		c.TicksToLive = CreepLifetime
	}
	cp := c
	w.creeps[c.Name] = &cp
}

// AddSite places a construction site and returns its id.
func (w *World) AddSite(roomName string, p geom.Pos, structureType string, total int) string {
	id := w.newID("site")
	w.sites[id] = &world.Site{ID: id, Room: roomName, Pos: p, StructureType: structureType, ProgressTotal: total}
	return id
}

// AddStructure places a finished structure and returns its id.
func (w *World) AddStructure(roomName string, p geom.Pos, structureType string, energy, capacity int) string {
	id := w.newID(structureType)
	w.structures[id] = &world.Structure{
		ID: id, Room: roomName, Pos: p, Type: structureType, My: true, Energy: energy, Capacity: capacity,
	}
	return id
}

// RemoveCreep deletes a creep as if it died.
func (w *World) RemoveCreep(name string) {
	delete(w.creeps, name)
}

// RemoveSpawner deletes a spawner as if it was destroyed.
func (w *World) RemoveSpawner(name string) {
	delete(w.spawners, name)
}

// UpdateCreep applies fn to a live creep.
func (w *World) UpdateCreep(name string, fn func(c *world.Creep)) {
	if c, ok := w.creeps[name]; ok {
		fn(c)
	}
}

// UpdateSource applies fn to a source.
func (w *World) UpdateSource(id string, fn func(s *world.Source)) {
	if s, ok := w.sources[id]; ok {
		fn(s)
	}
}

// UpdateController applies fn to the controller of a room.
func (w *World) UpdateController(roomName string, fn func(c *world.Controller)) {
	if rm, ok := w.rooms[roomName]; ok && rm.controller != nil {
		fn(rm.controller)
	}
}

// SetCPULimit changes the per-tick budget reported by CPU.
func (w *World) SetCPULimit(limit time.Duration) {
	w.cpuLimit = limit
}

// Said returns the last annotation a creep made.
func (w *World) Said(creep string) string {
	return w.said[creep]
}

// ============================================================================
// Tick
// ============================================================================

// Step advances the world by one tick.
func (w *World) Step() {
	w.time++
	w.tickStart = time.Now()
	w.moved = make(map[string]bool)
	w.said = make(map[string]string)

	for _, name := range w.spawnerNames() {
		s := w.spawners[name]
		if s.Spawning != "" {
			s.remaining--
			if s.remaining <= 0 {
				w.finishSpawn(s)
			}
		}
		if s.Energy < s.Capacity {
			s.Energy++
		}
	}

	for _, name := range w.creepNames() {
		c := w.creeps[name]
		if c.Spawning {
			continue
		}
		c.TicksToLive--
		if c.TicksToLive <= 0 {
			delete(w.creeps, name)
		}
	}

	if w.time%SourceRegenTicks == 0 {
		for _, s := range w.sources {
			s.Energy = s.Capacity
		}
	}

	for _, rm := range w.rooms {
		if rm.controller != nil && rm.controller.TicksToDowngrade > 0 {
			rm.controller.TicksToDowngrade--
		}
	}
}

func (w *World) finishSpawn(s *spawner) {
	c, ok := w.creeps[s.Spawning]
	s.Spawning = ""
	s.remaining = 0
	if !ok {
		return
	}
	c.Spawning = false
	c.TicksToLive = CreepLifetime
	for _, n := range geom.Neighbors8(s.Pos) {
		if !w.IsWall(s.Room, n) && len(w.CreepsAt(s.Room, n)) == 0 {
			c.Pos = n
			return
		}
	}
	c.Pos = s.Pos
}

// ============================================================================
// world.View
// ============================================================================

func (w *World) Time() uint64 { return w.time }

func (w *World) Rooms() []string {
	out := make([]string, len(w.roomOrder))
	copy(out, w.roomOrder)
	sort.Strings(out)
	return out
}

func (w *World) IsWall(roomName string, p geom.Pos) bool {
	rm, ok := w.rooms[roomName]
	if !ok || !geom.InBounds(p) {
		return true
	}
	return rm.walls[geom.Index(p)]
}

func (w *World) Creeps() []world.Creep {
	out := make([]world.Creep, 0, len(w.creeps))
	for _, name := range w.creepNames() {
		out = append(out, *w.creeps[name])
	}
	return out
}

func (w *World) Creep(name string) (world.Creep, bool) {
	c, ok := w.creeps[name]
	if !ok {
		return world.Creep{}, false
	}
	return *c, true
}

func (w *World) CreepsAt(roomName string, p geom.Pos) []world.Creep {
	var out []world.Creep
	for _, name := range w.creepNames() {
		c := w.creeps[name]
		if c.Room == roomName && geom.Same(c.Pos, p) && !c.Spawning {
			out = append(out, *c)
		}
	}
	return out
}

func (w *World) Spawners() []world.Spawner {
	out := make([]world.Spawner, 0, len(w.spawners))
	for _, name := range w.spawnerNames() {
		out = append(out, w.spawners[name].Spawner)
	}
	return out
}

func (w *World) Spawner(name string) (world.Spawner, bool) {
	s, ok := w.spawners[name]
	if !ok {
		return world.Spawner{}, false
	}
	return s.Spawner, true
}

func (w *World) Sources(roomName string) []world.Source {
	var out []world.Source
	for _, s := range w.sources {
		if s.Room == roomName {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) Source(id string) (world.Source, bool) {
	s, ok := w.sources[id]
	if !ok {
		return world.Source{}, false
	}
	return *s, true
}

// Sites are returned in creation order.
func (w *World) Sites(roomName string) []world.Site {
	var out []world.Site
	for _, s := range w.sites {
		if s.Room == roomName {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

func (w *World) Site(id string) (world.Site, bool) {
	s, ok := w.sites[id]
	if !ok {
		return world.Site{}, false
	}
	return *s, true
}

func (w *World) Structures(roomName string) []world.Structure {
	var out []world.Structure
	for _, s := range w.structures {
		if s.Room == roomName {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

func (w *World) Structure(id string) (world.Structure, bool) {
	s, ok := w.structures[id]
	if !ok {
		return world.Structure{}, false
	}
	return *s, true
}

func (w *World) Controller(roomName string) (world.Controller, bool) {
	rm, ok := w.rooms[roomName]
	if !ok || rm.controller == nil {
		return world.Controller{}, false
	}
	return *rm.controller, true
}

func (w *World) PathLength(roomName string, from, to geom.Pos) int {
	path := geom.Path(from, to, func(p geom.Pos) bool { return !w.IsWall(roomName, p) })
	if path == nil {
		return -1
	}
	return len(path)
}

func (w *World) RoomDistance(a, b string) int {
	ra, okA := w.rooms[a]
	rb, okB := w.rooms[b]
	if !okA || !okB {
		return 0
	}
	return geom.Range(ra.coord, rb.coord)
}

func (w *World) CPU() world.CPU {
	return world.CPU{Used: time.Since(w.tickStart), Limit: w.cpuLimit}
}

// ============================================================================
// world.Actions
// ============================================================================

func (w *World) MoveTo(name, roomName string, to geom.Pos) world.Result {
	c, ok := w.creeps[name]
	if !ok || c.Spawning {
		return world.InvalidTarget
	}
	if _, ok := w.rooms[roomName]; !ok || !geom.InBounds(to) {
		return world.InvalidTarget
	}
	if w.moved[name] {
		return world.Tired
	}
	if countParts(c.Body, world.Move) == 0 && len(c.Body) > 0 {
		return world.Tired
	}
	if c.Room != roomName {
		// Crossing rooms lands on the nearest open cell to the target.
		dest, found := geom.FloodSearch(to, func(geom.Pos) bool { return true },
			func(p geom.Pos) bool { return !w.IsWall(roomName, p) })
		if !found {
			return world.OtherFailure
		}
		c.Room = roomName
		c.Pos = dest
		w.moved[name] = true
		return world.OK
	}
	if geom.Same(c.Pos, to) {
		return world.OK
	}
	path := geom.Path(c.Pos, to, func(p geom.Pos) bool { return !w.IsWall(roomName, p) })
	if path == nil {
		return world.OtherFailure
	}
	next := path[0]
	if len(w.CreepsAt(roomName, next)) > 0 {
		return world.Tired
	}
	if w.IsWall(roomName, next) {
		return world.OtherFailure
	}
	c.Pos = next
	w.moved[name] = true
	return world.OK
}

func (w *World) Harvest(name, sourceID string) world.Result {
	c, ok := w.creeps[name]
	if !ok || c.Spawning {
		return world.InvalidTarget
	}
	s, ok := w.sources[sourceID]
	if !ok || s.Room != c.Room {
		return world.InvalidTarget
	}
	if !geom.InRange(c.Pos, s.Pos, 1) {
		return world.NotInRange
	}
	works := countParts(c.Body, world.Work)
	if works == 0 {
		return world.OtherFailure
	}
	if s.Energy <= 0 {
		return world.NotEnoughResources
	}
	if c.FreeCapacity() <= 0 {
		return world.Full
	}
	amount := min(works*HarvestPerWork, s.Energy, c.FreeCapacity())
	s.Energy -= amount
	c.Energy += amount
	return world.OK
}

func (w *World) Transfer(name, targetID string) world.Result {
	c, ok := w.creeps[name]
	if !ok || c.Spawning {
		return world.InvalidTarget
	}
	if c.Energy <= 0 {
		return world.NotEnoughResources
	}

	if rm, ok := w.rooms[c.Room]; ok && rm.controller != nil && rm.controller.ID == targetID {
		ctrl := rm.controller
		if !ctrl.My {
			return world.InvalidTarget
		}
		if !geom.InRange(c.Pos, ctrl.Pos, 3) {
			return world.NotInRange
		}
		ctrl.Progress += c.Energy
		c.Energy = 0
		ctrl.TicksToDowngrade = DowngradeTicks
		for ctrl.Level < 8 && ctrl.Progress >= levelProgress(ctrl.Level) {
			ctrl.Progress -= levelProgress(ctrl.Level)
			ctrl.Level++
		}
		return world.OK
	}

	var pos geom.Pos
	var energy, capacity *int
	if s, ok := w.spawners[targetID]; ok {
		pos, energy, capacity = s.Pos, &s.Energy, &s.Capacity
	} else if st, ok := w.structures[targetID]; ok && st.Capacity > 0 {
		pos, energy, capacity = st.Pos, &st.Energy, &st.Capacity
	} else {
		return world.InvalidTarget
	}
	if !geom.InRange(c.Pos, pos, 1) {
		return world.NotInRange
	}
	free := *capacity - *energy
	if free <= 0 {
		return world.Full
	}
	amount := min(free, c.Energy)
	*energy += amount
	c.Energy -= amount
	return world.OK
}

func (w *World) Build(name, siteID string) world.Result {
	c, ok := w.creeps[name]
	if !ok || c.Spawning {
		return world.InvalidTarget
	}
	s, ok := w.sites[siteID]
	if !ok {
		return world.InvalidTarget
	}
	if s.Room != c.Room || !geom.InRange(c.Pos, s.Pos, 3) {
		return world.NotInRange
	}
	if c.Energy <= 0 {
		return world.NotEnoughResources
	}
	works := countParts(c.Body, world.Work)
	if works == 0 {
		return world.OtherFailure
	}
	amount := min(works*BuildPerWork, c.Energy, s.Remaining())
	c.Energy -= amount
	s.Progress += amount
	if s.Remaining() <= 0 {
		delete(w.sites, siteID)
		capacity := 0
		if s.StructureType == world.StructureExtension {
			capacity = 50
		}
		w.AddStructure(s.Room, s.Pos, s.StructureType, 0, capacity)
	}
	return world.OK
}

func (w *World) CreateSite(roomName string, p geom.Pos, structureType string) world.Result {
	rm, ok := w.rooms[roomName]
	if !ok || !geom.InBounds(p) || w.IsWall(roomName, p) {
		return world.InvalidTarget
	}
	for _, s := range w.sites {
		if s.Room == roomName && geom.Same(s.Pos, p) {
			return world.InvalidTarget
		}
	}
	count := 0
	for _, s := range w.structures {
		if s.Room == roomName && geom.Same(s.Pos, p) {
			return world.InvalidTarget
		}
		if s.Room == roomName && s.Type == structureType {
			count++
		}
	}
	for _, s := range w.sites {
		if s.Room == roomName && s.StructureType == structureType {
			count++
		}
	}
	level := 0
	if rm.controller != nil && rm.controller.My {
		level = rm.controller.Level
	}
	if count >= world.StructureLimit(structureType, level) {
		return world.InsufficientLevel
	}
	w.AddSite(roomName, p, structureType, siteCost(structureType))
	return world.OK
}

func (w *World) SpawnCreep(name string, body []string, creepName string) (string, world.Result) {
	s, ok := w.spawners[name]
	if !ok || !s.My {
		return "", world.InvalidTarget
	}
	if s.Spawning != "" {
		return "", world.OtherFailure
	}
	if len(body) == 0 || len(body) > 50 {
		return "", world.InvalidTarget
	}
	cost := 0
	for _, part := range body {
		cost += world.PartCost(part)
	}
	if cost > s.Energy {
		return "", world.NotEnoughResources
	}
	if creepName == "" {
		creepName = "creep-" + uuid.NewString()[:8]
	}
	if _, exists := w.creeps[creepName]; exists {
		return "", world.InvalidTarget
	}

	s.Energy -= cost
	s.Spawning = creepName
	s.remaining = len(body) * SpawnTicksPerPart
	w.AddCreep(world.Creep{
		Name:     creepName,
		Room:     s.Room,
		Pos:      s.Pos,
		My:       true,
		Spawning: true,
		Body:     append([]string(nil), body...),
	})
	return creepName, world.OK
}

func (w *World) Say(name, msg string) {
	if _, ok := w.creeps[name]; ok {
		w.said[name] = msg
	}
}

// ============================================================================
// internals
// ============================================================================

func (w *World) newID(prefix string) string {
	w.nextID++
	return fmt.Sprintf("%s-%06d", prefix, w.nextID)
}

func (w *World) creepNames() []string {
	names := make([]string, 0, len(w.creeps))
	for name := range w.creeps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *World) spawnerNames() []string {
	names := make([]string, 0, len(w.spawners))
	for name := range w.spawners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// idLess orders generated ids by their numeric suffix so creation order wins.
func idLess(a, b string) bool {
	na, nb := idSeq(a), idSeq(b)
	if na != nb {
		return na < nb
	}
	return a < b
}

func idSeq(id string) int {
	n, err := strconv.Atoi(id[strings.LastIndex(id, "-")+1:])
	if err != nil {
		return 0
	}
	return n
}

func countParts(body []string, part string) int {
	n := 0
	for _, p := range body {
		if p == part {
			n++
		}
	}
	return n
}

func levelProgress(level int) int {
	return 200 * (level + 1) * (level + 1)
}

func siteCost(structureType string) int {
	switch structureType {
	case world.StructureRoad:
		return 300
	case world.StructureExtension:
		return 3000
	case world.StructureContainer:
		return 5000
	case world.StructureSpawn:
		return 15000
	default:
		return 1000
	}
}
