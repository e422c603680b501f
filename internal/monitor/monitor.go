package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/micmon/internal/infrastructure/mqtt"
)

// defaultErrorCooldown is the pause after a tick that hit a capture error,
// preventing a busy error loop when the audio source is gone.
const defaultErrorCooldown = 1 * time.Second

// LevelReader produces the current amplitude level for a channel.
// A read failure is mapped to level zero for that tick.
type LevelReader interface {
	ReadLevel(ch Channel) (float64, error)
}

// Connection is the surface the monitor loop needs from the connection
// manager: publish attempts and a status snapshot for the tracker.
type Connection interface {
	Publish(topic string, payload []byte) error
	Status() mqtt.Snapshot
}

// Recorder persists channel state transitions. Optional.
type Recorder interface {
	Record(ctx context.Context, channel string, active bool, level float64, at time.Time) error
}

// TelemetrySink receives per-tick level readings. Optional; writes must not
// block the tick.
type TelemetrySink interface {
	WriteLevel(channel string, level float64, active bool)
}

// Logger is the logging interface used by the monitor loop.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChannelMessage is the wire payload published on a channel topic.
type ChannelMessage struct {
	State     int     `json:"state"`
	Level     float64 `json:"level"`
	Timestamp float64 `json:"timestamp"`
}

// Options configures a Monitor.
type Options struct {
	// Topics maps each channel to its publish topic.
	Topics [NumChannels]string

	// Threshold is the level above which a channel is active.
	Threshold float64

	// Interval is the sampling cadence.
	Interval time.Duration

	// ErrorCooldown overrides the pause after a capture failure. Zero
	// means the default of one second.
	ErrorCooldown time.Duration

	Reader  LevelReader
	Conn    Connection
	Tracker *Tracker

	// History and Telemetry are optional sinks.
	History   Recorder
	Telemetry TelemetrySink

	Logger Logger
}

// Monitor is the periodic driver: it samples both channels, runs edge
// detection, publishes state messages, and maintains the shared status.
//
// One goroutine runs the loop; nothing else touches the edge triggers or the
// previous-tick state.
type Monitor struct {
	topics    [NumChannels]string
	threshold float64
	interval  time.Duration
	cooldown  time.Duration

	reader    LevelReader
	conn      Connection
	tracker   *Tracker
	history   Recorder
	telemetry TelemetrySink
	logger    Logger

	edges      [NumChannels]EdgeTrigger
	prevActive [NumChannels]bool

	// lastTS enforces non-decreasing message timestamps across wall-clock
	// steps.
	lastTS float64
}

// New creates a monitor. Reader, Conn, Tracker and both topics are required.
func New(opts Options) (*Monitor, error) {
	if opts.Reader == nil {
		return nil, fmt.Errorf("level reader is required")
	}
	if opts.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("status tracker is required")
	}
	for ch, topic := range opts.Topics {
		if topic == "" {
			return nil, fmt.Errorf("topic for channel %s is required", Channel(ch))
		}
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	cooldown := opts.ErrorCooldown
	if cooldown <= 0 {
		cooldown = defaultErrorCooldown
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Monitor{
		topics:    opts.Topics,
		threshold: opts.Threshold,
		interval:  opts.Interval,
		cooldown:  cooldown,
		reader:    opts.Reader,
		conn:      opts.Conn,
		tracker:   opts.Tracker,
		history:   opts.History,
		telemetry: opts.Telemetry,
		logger:    logger,
	}, nil
}

// Run drives sampling ticks until the context is cancelled.
// Call in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if captureFailed := m.Tick(ctx); captureFailed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cooldown):
			}
		}
	}
}

// Tick performs one sampling cycle and reports whether a capture error
// occurred (the caller applies the cooldown). Exported so tests can drive
// the loop deterministically.
func (m *Monitor) Tick(ctx context.Context) bool {
	var (
		captureFailed bool
		captureErr    error
		channels      [NumChannels]ChannelStatus
	)

	for ch := Channel(0); ch < NumChannels; ch++ {
		level, err := m.reader.ReadLevel(ch)
		if err != nil {
			// Treat as silence for this tick; the loop continues.
			level = 0
			captureFailed = true
			captureErr = fmt.Errorf("reading %s channel: %w", ch, err)
			m.logger.Warn("capture read failed", "channel", ch.String(), "error", err)
		}

		active := level > m.threshold

		if m.edges[ch].ShouldPublish(active) {
			m.publish(ch, active, level)
		}

		if active != m.prevActive[ch] {
			m.recordTransition(ctx, ch, active, level)
		}
		m.prevActive[ch] = active

		if m.telemetry != nil {
			m.telemetry.WriteLevel(ch.String(), level, active)
		}

		channels[ch] = ChannelStatus{
			Level:         level,
			Active:        active,
			LastPublished: m.edges[ch].LastPublished(),
		}
	}

	connSnap := m.conn.Status()
	m.tracker.Update(func(s *Snapshot) {
		s.Channels = channels
		s.Connected = connSnap.Connected
		s.Reconnecting = connSnap.Reconnecting
		s.ReconnectAttempts = connSnap.ReconnectAttempts
		s.MessagesSent = connSnap.MessagesSent
		if connSnap.LastMessage.Topic != "" {
			s.LastMessage = connSnap.LastMessage.Topic + ": " + connSnap.LastMessage.Payload
			s.LastMessageTime = connSnap.LastMessage.Time
		}
		if connSnap.LastError != "" {
			s.LastError = connSnap.LastError
			s.LastErrorComponent = "mqtt"
		}
		if captureErr != nil {
			s.LastError = captureErr.Error()
			s.LastErrorComponent = "capture"
		}
	})

	return captureFailed
}

// publish attempts one channel-state publish. The edge trigger is updated on
// every attempt: a failed publish is not retried this tick.
func (m *Monitor) publish(ch Channel, active bool, level float64) {
	msg := ChannelMessage{
		Level:     level,
		Timestamp: m.timestamp(time.Now()),
	}
	if active {
		msg.State = 1
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("encoding channel message", "channel", ch.String(), "error", err)
		return
	}

	if err := m.conn.Publish(m.topics[ch], payload); err != nil {
		m.logger.Debug("publish rejected", "channel", ch.String(), "error", err)
	}
	m.edges[ch].MarkPublished(active)
}

// recordTransition persists a state change to the optional history store.
func (m *Monitor) recordTransition(ctx context.Context, ch Channel, active bool, level float64) {
	if m.history == nil {
		return
	}
	if err := m.history.Record(ctx, ch.String(), active, level, time.Now()); err != nil {
		m.logger.Warn("recording transition", "channel", ch.String(), "error", err)
	}
}

// timestamp returns the message timestamp in unix epoch seconds,
// non-decreasing across calls even if the wall clock steps backwards.
func (m *Monitor) timestamp(now time.Time) float64 {
	ts := float64(now.UnixNano()) / float64(time.Second)
	if ts < m.lastTS {
		ts = m.lastTS
	}
	m.lastTS = ts
	return ts
}
