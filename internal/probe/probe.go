package probe

import (
	"context"
	"fmt"
	"time"
)

// Probe timing and policy constants.
const (
	// DefaultInterval is the probe cadence. Fixed: the probe must notice a
	// dead connection well inside the transport's 60s keepalive window.
	DefaultInterval = 2 * time.Second

	// markOfflineThreshold is the number of consecutive failures after
	// which the externally visible status flips to disconnected. Debounces
	// against transient blips.
	markOfflineThreshold = 3

	// forceReconnectAt is the failure count at which the connection is
	// torn down and rebuilt. Checked for equality, not >=: the forced
	// reconnection resets the counter, and requiring an exact match means
	// a second teardown cannot fire while the first is still establishing.
	forceReconnectAt = 5
)

// Connection is the surface the probe needs from the connection manager.
type Connection interface {
	// TransportConnected reports the transport's self-reported flag.
	TransportConnected() bool

	// Ping attempts a zero-importance publish to verify real liveness.
	Ping() error

	// MarkHealthy records a verified-alive observation.
	MarkHealthy()

	// MarkOffline flips the externally visible status to disconnected.
	MarkOffline(reason string)

	// RecordProbeFailure increments the consecutive failure counter and
	// returns the new value.
	RecordProbeFailure() uint

	// ResetProbeFailures clears the consecutive failure counter.
	ResetProbeFailures()

	// ForceReconnect tears down and rebuilds the transport. Implementations
	// reset the probe failure counter as part of the procedure.
	ForceReconnect() error
}

// Logger is the logging interface used by the probe.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Probe actively verifies broker liveness on a fixed cadence.
//
// The transport's self-reported connectivity flag can lag or lie: a TCP
// half-open socket keeps IsConnected() true while nothing is deliverable.
// Each tick the probe cross-checks the flag with an actual QoS 0 publish and
// applies the escalation policy: three consecutive failures flip the visible
// status to disconnected, five trigger a forced reconnection.
//
// The probe never blocks the monitor loop; it runs as its own periodic task
// and communicates only through the Connection interface.
type Probe struct {
	conn     Connection
	interval time.Duration
	logger   Logger
}

// New creates a probe for the given connection. A zero interval uses
// DefaultInterval; a nil logger discards output.
func New(conn Connection, interval time.Duration, logger Logger) *Probe {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Probe{
		conn:     conn,
		interval: interval,
		logger:   logger,
	}
}

// Run executes probe ticks until the context is cancelled.
// Call in its own goroutine.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick performs a single probe cycle. Exported so a cycle can be driven
// deterministically in tests.
func (p *Probe) Tick() {
	if p.conn.TransportConnected() {
		if err := p.conn.Ping(); err == nil {
			p.conn.ResetProbeFailures()
			p.conn.MarkHealthy()
			return
		}
		p.logger.Debug("probe publish rejected while transport claims connected")
	}

	failures := p.conn.RecordProbeFailure()

	if failures >= markOfflineThreshold {
		p.conn.MarkOffline(fmt.Sprintf("broker unreachable: %d consecutive probe failures", failures))
	}

	if failures == forceReconnectAt {
		p.logger.Warn("probe failure threshold reached, forcing reconnection",
			"consecutive_failures", failures,
		)
		if err := p.conn.ForceReconnect(); err != nil {
			p.logger.Error("forced reconnection failed", "error", err)
		}
		p.conn.ResetProbeFailures()
	}
}
