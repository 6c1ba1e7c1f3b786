package memory

import "github.com/ChuLiYu/colony/pkg/types"

// MetadataVersion is the room metadata schema. Records with another version
// are discarded and recomputed.
const MetadataVersion = 3

// Metadata returns the room's metadata record, replacing it with an empty
// one when missing or stale.
func (m *Memory) Metadata(room string) *types.RoomMetadata {
	rm := m.Room(room)
	if rm.Metadata == nil || rm.Metadata.Version != MetadataVersion {
		rm.Metadata = &types.RoomMetadata{Version: MetadataVersion}
	}
	return rm.Metadata
}

// IsMetadataReady reports whether every bit of category is computed for room.
func (m *Memory) IsMetadataReady(room string, category types.MetadataFlags) bool {
	rm, ok := m.Rooms[room]
	if !ok || rm.Metadata == nil || rm.Metadata.Version != MetadataVersion {
		return false
	}
	return rm.Metadata.Flags.Has(category)
}
