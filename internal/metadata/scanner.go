// ============================================================================
// Colony Metadata - incremental room scanner
// ============================================================================
//
// Package: internal/metadata
// File: scanner.go
// Purpose: Computes per-room spatial facts a little at a time under a CPU
//          budget, checkpointing progress in the room's metadata record.
//
// Categories (computed in this order, one per step unless noted):
//   walls          wall cells
//   exits          open edge cells
//   source_spaces  open cells around each source
//   spawns         own spawner positions
//   distance_field chebyshev distance to nearest wall, ROWS_PER_STEP rows
//                  per step over two passes, cursor persisted in md.Scan
//   open_spaces    centres of wall-free squares per half size
//   rally_points   spread-out open cells away from busy spots
//   extensions     checkerboard cells around the first spawn
//   roads          spawn to sources (level 1), controller (2), exits (3)
//
// A category's flag bit is set only after all of its fields are written, so
// readers never observe a half computed category.
//
// ============================================================================

package metadata

import (
	"log/slog"
	"sort"

	"github.com/ChuLiYu/colony/internal/memory"
	"github.com/ChuLiYu/colony/internal/settings"
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
	"github.com/ChuLiYu/colony/pkg/types"
)

const (
	rowsPerStep  = 5
	maxDistance  = 255
	cells        = geom.RoomSize * geom.RoomSize
	rallySpacing = 4
)

// order is the computation sequence.
var order = []types.MetadataFlags{
	types.MetaWalls,
	types.MetaExits,
	types.MetaSourceSpaces,
	types.MetaSpawns,
	types.MetaDistanceField,
	types.MetaOpenSpaces,
	types.MetaRallyPoints,
	types.MetaExtensions,
	types.MetaRoads,
}

// Recorder observes completed categories.
type Recorder interface {
	MetadataComputed(room, category string)
}

// Scanner advances room metadata.
type Scanner struct {
	cfg      settings.MetadataSettings
	log      *slog.Logger
	recorder Recorder
}

// NewScanner returns a scanner. recorder may be nil.
func NewScanner(cfg settings.MetadataSettings, log *slog.Logger, recorder Recorder) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{cfg: cfg, log: log, recorder: recorder}
}

// Scan works through every room until all are complete or budget runs out.
// It returns true when every room's metadata is complete.
func (s *Scanner) Scan(view world.View, mem *memory.Memory, budget Budget) bool {
	for _, room := range view.Rooms() {
		md := mem.Metadata(room)
		for Pending(md) != 0 {
			if budget.Exhausted() {
				return false
			}
			s.step(view, room, md)
		}
	}
	return true
}

// Pending returns the next category to compute for room, 0 when complete.
func Pending(md *types.RoomMetadata) types.MetadataFlags {
	for _, f := range order {
		if !md.Flags.Has(f) {
			return f
		}
	}
	return 0
}

func (s *Scanner) step(view world.View, room string, md *types.RoomMetadata) {
	next := Pending(md)
	switch next {
	case types.MetaWalls:
		md.Walls = scanWalls(view, room)
	case types.MetaExits:
		md.Exits = scanExits(view, room)
	case types.MetaSourceSpaces:
		md.SourceSpaces = scanSourceSpaces(view, room)
	case types.MetaSpawns:
		md.Spawns = scanSpawns(view, room)
	case types.MetaDistanceField:
		if !stepDistanceField(view, room, md) {
			return
		}
	case types.MetaOpenSpaces:
		md.OpenSpaces = openSpaces(md.DistanceField, s.cfg.MaxOpenSpace)
	case types.MetaRallyPoints:
		md.RallyPoints = s.rallyPoints(view, room, md)
	case types.MetaExtensions:
		md.Extensions = s.extensions(view, room, md)
	case types.MetaRoads:
		md.Roads = roads(view, room, md)
	default:
		return
	}
	md.Flags |= next
	s.log.Debug("Metadata category computed", "room", room, "category", next.String())
	if s.recorder != nil {
		s.recorder.MetadataComputed(room, next.String())
	}
}

// ============================================================================
// simple categories
// ============================================================================

func scanWalls(view world.View, room string) []geom.Pos {
	walls := []geom.Pos{}
	for i := 0; i < cells; i++ {
		p := geom.FromIndex(i)
		if view.IsWall(room, p) {
			walls = append(walls, p)
		}
	}
	return walls
}

func scanExits(view world.View, room string) []geom.Pos {
	exits := []geom.Pos{}
	for i := 0; i < cells; i++ {
		p := geom.FromIndex(i)
		if geom.IsEdge(p) && !view.IsWall(room, p) {
			exits = append(exits, p)
		}
	}
	return exits
}

func scanSourceSpaces(view world.View, room string) map[string]int {
	spaces := make(map[string]int)
	for _, src := range view.Sources(room) {
		n := 0
		for _, p := range geom.Neighbors8(src.Pos) {
			if !view.IsWall(room, p) {
				n++
			}
		}
		spaces[src.ID] = n
	}
	return spaces
}

func scanSpawns(view world.View, room string) []geom.Pos {
	spawns := []geom.Pos{}
	for _, sp := range view.Spawners() {
		if sp.Room == room && sp.My {
			spawns = append(spawns, sp.Pos)
		}
	}
	return spawns
}

// ============================================================================
// distance field
// ============================================================================

// stepDistanceField advances the two pass transform by a few rows. It
// returns true once the field is complete and stored in md.DistanceField.
func stepDistanceField(view world.View, room string, md *types.RoomMetadata) bool {
	cur := &md.Scan
	if len(cur.Field) != cells {
		cur.Field = make([]uint8, cells)
		cur.Index = 0
		cur.Pass = 0
	}
	field := cur.Field

	end := cur.Index + rowsPerStep*geom.RoomSize
	if end > cells {
		end = cells
	}
	for ; cur.Index < end; cur.Index++ {
		if cur.Pass == 0 {
			forward(view, room, field, geom.FromIndex(cur.Index))
		} else {
			backward(field, geom.FromIndex(cells-1-cur.Index))
		}
	}
	if cur.Index < cells {
		return false
	}
	if cur.Pass == 0 {
		cur.Pass = 1
		cur.Index = 0
		return false
	}

	md.DistanceField = append([]uint8(nil), field...)
	md.Scan = types.ScanCursor{}
	return true
}

var forwardDirs = [4]geom.Pos{{X: -1, Y: -1}, {X: 0, Y: -1}, {X: 1, Y: -1}, {X: -1, Y: 0}}
var backwardDirs = [4]geom.Pos{{X: 1, Y: 0}, {X: -1, Y: 1}, {X: 0, Y: 1}, {X: 1, Y: 1}}

func forward(view world.View, room string, field []uint8, p geom.Pos) {
	if view.IsWall(room, p) {
		field[geom.Index(p)] = 0
		return
	}
	best := maxDistance
	for _, d := range forwardDirs {
		best = min(best, fieldAt(field, geom.Add(p, d))+1)
	}
	field[geom.Index(p)] = uint8(min(best, maxDistance))
}

func backward(field []uint8, p geom.Pos) {
	cur := int(field[geom.Index(p)])
	if cur == 0 {
		return
	}
	for _, d := range backwardDirs {
		cur = min(cur, fieldAt(field, geom.Add(p, d))+1)
	}
	field[geom.Index(p)] = uint8(cur)
}

// fieldAt treats cells outside the room as walls.
func fieldAt(field []uint8, p geom.Pos) int {
	if !geom.InBounds(p) {
		return 0
	}
	return int(field[geom.Index(p)])
}

// ============================================================================
// derived categories
// ============================================================================

// openSpaces lists, for each half size s, the centres whose (2s+1) square is
// free of walls and clear of the room edge, nearest to the room centre first.
func openSpaces(field []uint8, maxHalf int) [][]geom.Pos {
	center := geom.Center()
	out := make([][]geom.Pos, maxHalf+1)
	for s := 0; s <= maxHalf; s++ {
		list := []geom.Pos{}
		for i := 0; i < cells; i++ {
			p := geom.FromIndex(i)
			if p.X-s < 1 || p.Y-s < 1 || p.X+s > geom.RoomSize-2 || p.Y+s > geom.RoomSize-2 {
				continue
			}
			if int(field[i]) > s {
				list = append(list, p)
			}
		}
		sort.SliceStable(list, func(a, b int) bool {
			return geom.Dist2(list[a], center) < geom.Dist2(list[b], center)
		})
		out[s] = list
	}
	return out
}

// busy returns positions agents should not idle near.
func busy(view world.View, room string, md *types.RoomMetadata) []geom.Pos {
	var out []geom.Pos
	out = append(out, md.Spawns...)
	for _, src := range view.Sources(room) {
		out = append(out, src.Pos)
	}
	if ctrl, ok := view.Controller(room); ok {
		out = append(out, ctrl.Pos)
	}
	return out
}

func (s *Scanner) rallyPoints(view world.View, room string, md *types.RoomMetadata) []geom.Pos {
	candidates := []geom.Pos{}
	if len(md.OpenSpaces) > 1 && len(md.OpenSpaces[1]) > 0 {
		candidates = md.OpenSpaces[1]
	} else if len(md.OpenSpaces) > 0 {
		candidates = md.OpenSpaces[0]
	}
	avoid := busy(view, room, md)

	points := []geom.Pos{}
	for _, c := range candidates {
		if len(points) >= s.cfg.RallyPointCount {
			break
		}
		if nearAny(c, avoid, 3) || nearAny(c, points, rallySpacing) {
			continue
		}
		points = append(points, c)
	}
	return points
}

func (s *Scanner) extensions(view world.View, room string, md *types.RoomMetadata) []geom.Pos {
	if len(md.Spawns) == 0 {
		return []geom.Pos{}
	}
	spawn := md.Spawns[0]
	var avoid []geom.Pos
	for _, src := range view.Sources(room) {
		avoid = append(avoid, src.Pos)
	}
	if ctrl, ok := view.Controller(room); ok {
		avoid = append(avoid, ctrl.Pos)
	}

	candidates := []geom.Pos{}
	for i := 0; i < cells; i++ {
		p := geom.FromIndex(i)
		if (p.X+p.Y)%2 != 0 || md.DistanceField[i] == 0 {
			continue
		}
		if p.X < 2 || p.Y < 2 || p.X > geom.RoomSize-3 || p.Y > geom.RoomSize-3 {
			continue
		}
		if geom.Range(p, spawn) < 2 || nearAny(p, md.Spawns, 1) || nearAny(p, avoid, 2) {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		ra, rb := geom.Range(candidates[a], spawn), geom.Range(candidates[b], spawn)
		if ra != rb {
			return ra < rb
		}
		return geom.Dist2(candidates[a], spawn) < geom.Dist2(candidates[b], spawn)
	})
	if len(candidates) > s.cfg.ExtensionCount {
		candidates = candidates[:s.cfg.ExtensionCount]
	}
	return candidates
}

// roads plans road cells by controller level. Each cell appears at most
// once, under the lowest level that needs it.
func roads(view world.View, room string, md *types.RoomMetadata) map[int][]geom.Pos {
	out := map[int][]geom.Pos{1: {}, 2: {}, 3: {}}
	if len(md.Spawns) == 0 {
		return out
	}
	spawn := md.Spawns[0]

	blocked := make(map[geom.Pos]bool)
	for _, p := range md.Extensions {
		blocked[p] = true
	}
	for _, p := range md.Spawns {
		blocked[p] = true
	}
	passable := func(p geom.Pos) bool {
		return !view.IsWall(room, p) && !blocked[p]
	}
	seen := make(map[geom.Pos]bool)
	add := func(level int, to geom.Pos) {
		path := geom.Path(spawn, to, passable)
		if len(path) == 0 {
			return
		}
		for _, p := range path[:len(path)-1] {
			if !seen[p] && !geom.IsEdge(p) {
				seen[p] = true
				out[level] = append(out[level], p)
			}
		}
	}

	for _, src := range view.Sources(room) {
		add(1, src.Pos)
	}
	if ctrl, ok := view.Controller(room); ok {
		add(2, ctrl.Pos)
	}
	for _, exit := range nearestExits(md.Exits, spawn) {
		add(3, exit)
	}
	return out
}

// nearestExits picks the exit cell closest to from on each room side.
func nearestExits(exits []geom.Pos, from geom.Pos) []geom.Pos {
	best := make(map[int]geom.Pos)
	side := func(p geom.Pos) int {
		switch {
		case p.Y == 0:
			return 0
		case p.X == geom.RoomSize-1:
			return 1
		case p.Y == geom.RoomSize-1:
			return 2
		default:
			return 3
		}
	}
	for _, e := range exits {
		k := side(e)
		if cur, ok := best[k]; !ok || geom.Dist2(e, from) < geom.Dist2(cur, from) {
			best[k] = e
		}
	}
	out := []geom.Pos{}
	for k := 0; k < 4; k++ {
		if p, ok := best[k]; ok {
			out = append(out, p)
		}
	}
	return out
}

func nearAny(p geom.Pos, others []geom.Pos, r int) bool {
	for _, o := range others {
		if geom.InRange(p, o, r) {
			return true
		}
	}
	return false
}
