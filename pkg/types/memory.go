package types

import "github.com/ChuLiYu/colony/pkg/geom"

// CreepMemory is the per-agent persisted record.
//
// Job is a weak back-reference used for cleanup only. State, Target and the
// destination fields belong to whichever job kind is running and are removed
// by that kind's cleanup.
type CreepMemory struct {
	Job         JobID     `json:"job,omitempty"`
	Role        string    `json:"role,omitempty"`
	HomeRoom    string    `json:"home_room,omitempty"`
	Stalled     bool      `json:"stalled,omitempty"`
	HarvestRate float64   `json:"harvest_rate,omitempty"`
	Target      string    `json:"target,omitempty"`
	State       *int      `json:"state,omitempty"`
	Dest        *geom.Pos `json:"dest,omitempty"`
}

// SpawnerMemory is the per-facility persisted record. Role and Room describe
// the agent in production so role ceilings count it before it exists.
type SpawnerMemory struct {
	Job  JobID  `json:"job,omitempty"`
	Role string `json:"role,omitempty"`
	Room string `json:"room,omitempty"`
}

// RoomStats aggregates per-room observations.
type RoomStats struct {
	HarvestRate float64 `json:"harvest_rate"`
}

// RoomMemory is the per-room persisted record.
type RoomMemory struct {
	Metadata *RoomMetadata `json:"metadata,omitempty"`
	Stats    RoomStats     `json:"stats"`
}

// MetadataFlags is a bitmask of completed metadata categories.
type MetadataFlags uint32

const (
	MetaWalls MetadataFlags = 1 << iota
	MetaExits
	MetaSourceSpaces
	MetaSpawns
	MetaDistanceField
	MetaOpenSpaces
	MetaRallyPoints
	MetaExtensions
	MetaRoads
)

// MetaAll is every category the scanner computes.
const MetaAll = MetaWalls | MetaExits | MetaSourceSpaces | MetaSpawns | MetaDistanceField |
	MetaOpenSpaces | MetaRallyPoints | MetaExtensions | MetaRoads

var metaNames = []struct {
	flag MetadataFlags
	name string
}{
	{MetaWalls, "walls"},
	{MetaExits, "exits"},
	{MetaSourceSpaces, "source_spaces"},
	{MetaSpawns, "spawns"},
	{MetaDistanceField, "distance_field"},
	{MetaOpenSpaces, "open_spaces"},
	{MetaRallyPoints, "rally_points"},
	{MetaExtensions, "extensions"},
	{MetaRoads, "roads"},
}

// Has reports whether every bit of f is set.
func (m MetadataFlags) Has(f MetadataFlags) bool {
	return m&f == f
}

func (m MetadataFlags) String() string {
	out := ""
	for _, n := range metaNames {
		if m.Has(n.flag) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// ScanCursor is the resumable position of the scanner.
type ScanCursor struct {
	Index int     `json:"index"`
	Field []uint8 `json:"field,omitempty"`
	Pass  int     `json:"pass"`
}

// RoomMetadata holds the spatial facts computed by the scanner. A field is
// authoritative only once its bit is set in Flags.
type RoomMetadata struct {
	Version       int                `json:"version"`
	Flags         MetadataFlags      `json:"flags"`
	Walls         []geom.Pos         `json:"walls,omitempty"`
	Exits         []geom.Pos         `json:"exits,omitempty"`
	SourceSpaces  map[string]int     `json:"source_spaces,omitempty"`
	Spawns        []geom.Pos         `json:"spawns,omitempty"`
	DistanceField []uint8            `json:"distance_field,omitempty"`
	OpenSpaces    [][]geom.Pos       `json:"open_spaces,omitempty"`
	RallyPoints   []geom.Pos         `json:"rally_points,omitempty"`
	Extensions    []geom.Pos         `json:"extensions,omitempty"`
	Roads         map[int][]geom.Pos `json:"roads,omitempty"`
	Scan          ScanCursor         `json:"scan"`
}
