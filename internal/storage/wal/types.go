package wal

import "github.com/ChuLiYu/colony/pkg/types"

// ============================================================================
// WAL Type Definitions
// Responsibility: Define the job lifecycle events recorded by the journal
// ============================================================================

// EventType defines WAL event types
type EventType string

const (
	EventAssign EventType = "ASSIGN" // Candidate bound to an agent or facility
	EventExpire EventType = "EXPIRE" // Job killed after exceeding its TTL
	EventFinish EventType = "FINISH" // Job deactivated itself during update
)

// Event represents a WAL event record
type Event struct {
	Seq       uint64      `json:"seq"`       // Event sequence number (monotonically increasing)
	Type      EventType   `json:"type"`      // Event type
	JobID     types.JobID `json:"job_id"`    // Job ID
	JobType   string      `json:"job_type"`  // Job type, for per-type statistics
	Room      string      `json:"room"`      // Room the job targets
	Tick      uint64      `json:"tick"`      // Simulation tick the event happened on
	Timestamp int64       `json:"timestamp"` // Unix millisecond timestamp
	Checksum  uint32      `json:"checksum"`  // CRC32 checksum
}

// EventHandler is the function type for processing WAL events
// Used during Replay to apply events to an external view
type EventHandler func(event Event) error
