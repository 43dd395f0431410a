package heartbeat

import "time"

// State is the engine's view of liveness and worker progress.
type State struct {
	HasBeenOnline bool          // monotonic: never reset once true
	LastBlock     uint64        // worker block observed at the last advance
	LastBlockAt   time.Time     // when LastBlock was first observed
	Stale         time.Duration // time since the worker last advanced
	LastStatus    int           // HTTP status of the last keepalive, 0 if none was sent
	LastMessage   string
	LastOnline    bool
	LastTickAt    time.Time
	Ticks         uint64
}

// Outcome is the result of one tick, as written to the status file.
type Outcome struct {
	Status    int    `json:"status"`
	Timestamp int64  `json:"timestamp"` // unix ms
	Message   string `json:"message,omitempty"`
	Block     uint64 `json:"block"`
	Online    bool   `json:"online"`
}

// observe updates staleness for a tick at now seeing block.
// It reports whether a downtime record is due.
func (s *State) observe(now time.Time, block uint64, threshold time.Duration) bool {
	if s.LastBlockAt.IsZero() || block != s.LastBlock {
		s.LastBlock = block
		s.LastBlockAt = now
		s.Stale = 0
		return false
	}
	if !s.HasBeenOnline {
		return false
	}
	s.Stale = now.Sub(s.LastBlockAt)
	return s.Stale > threshold
}
