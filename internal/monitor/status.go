package monitor

import (
	"sync"
	"time"
)

// Channel identifies one of the two monitored microphone channels.
type Channel int

const (
	ChannelLeft Channel = iota
	ChannelRight

	// NumChannels is the fixed channel count.
	NumChannels = 2
)

// String returns the channel name used in logs, history records and
// telemetry tags.
func (c Channel) String() string {
	switch c {
	case ChannelLeft:
		return "left"
	case ChannelRight:
		return "right"
	default:
		return "unknown"
	}
}

// ChannelStatus is the per-channel view exposed to the renderer.
type ChannelStatus struct {
	// Level is the most recent amplitude reading.
	Level float64

	// Active is the instantaneous threshold comparison result.
	Active bool

	// LastPublished is the state as of the last publish attempt, which is
	// what edge detection compares against.
	LastPublished bool
}

// Snapshot is the aggregate externally visible state: connection fields,
// publish bookkeeping, the last recorded error, and both channels.
type Snapshot struct {
	Connected         bool
	Reconnecting      bool
	ReconnectAttempts uint
	MessagesSent      uint64
	LastMessage       string
	LastMessageTime   time.Time

	LastError          string
	LastErrorComponent string

	Channels [NumChannels]ChannelStatus
}

// Tracker holds the shared status consumed by the renderer.
//
// The monitor loop is the only writer; the renderer and tests read through
// Snapshot, which returns a value copy under the read lock so no reader ever
// observes a torn update.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update applies fn to the shared snapshot under the write lock.
func (t *Tracker) Update(fn func(*Snapshot)) {
	t.mu.Lock()
	fn(&t.snap)
	t.mu.Unlock()
}

// SetError records an error with its originating component.
func (t *Tracker) SetError(component, msg string) {
	t.mu.Lock()
	t.snap.LastError = msg
	t.snap.LastErrorComponent = component
	t.mu.Unlock()
}

// Snapshot returns a consistent copy of the shared status.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
