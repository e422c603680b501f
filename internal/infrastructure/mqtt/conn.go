package mqtt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/micmon/internal/infrastructure/config"
)

// State represents the connection lifecycle stage.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// forcedReconnectPause is how long to let sockets of a torn-down transport
// close before building its replacement.
const forcedReconnectPause = 1 * time.Second

// Logger is the logging interface used by the connection manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Message records the last message handed to the broker.
type Message struct {
	Topic   string
	Payload string
	Time    time.Time
}

// Snapshot is a consistent copy of the connection's externally visible state.
type Snapshot struct {
	State             State
	Connected         bool
	Reconnecting      bool
	ClientID          string
	ReconnectAttempts uint
	ProbeFailures     uint
	MessagesSent      uint64
	LastMessage       Message
	LastError         string
}

// Conn maintains exactly one logical connection to the MQTT broker.
//
// It owns the broker transport, announces presence through the retained
// status topic, and publishes channel-state messages on behalf of the
// monitor loop. Connection events arrive from the transport's network loop;
// the probe drives recovery when the transport's own view of connectivity
// cannot be trusted.
//
// Thread Safety:
//   - All methods are safe for concurrent use. The monitor loop and the
//     status probe call into the same Conn from independent goroutines.
type Conn struct {
	cfg    config.MQTTConfig
	logger Logger

	mu            sync.RWMutex
	state         State
	transport     transport
	gen           uint64 // transport generation; stale callbacks are dropped
	baseClientID  string
	clientID      string
	everConnected bool
	probeFailures uint
	reconnects    uint
	messagesSent  uint64
	lastMessage   Message
	lastError     string
	closed        bool

	offlineOnce sync.Once

	// newTransport builds transports; replaced in tests.
	newTransport transportFactory
}

// NewConn creates a connection manager. Call Connect to establish the
// connection; the zero state is Disconnected.
//
// An empty configured client identity gets a generated one so that two
// monitors pointed at the same broker never clash sessions.
func NewConn(cfg config.MQTTConfig, logger Logger) *Conn {
	if logger == nil {
		logger = noopLogger{}
	}

	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = "micmon-" + strings.Split(uuid.NewString(), "-")[0]
	}

	return &Conn{
		cfg:          cfg,
		logger:       logger,
		state:        StateDisconnected,
		baseClientID: clientID,
		clientID:     clientID,
		newTransport: newPahoTransport,
	}
}

// Connect initiates an asynchronous connection to the broker.
//
// The transport is built with the last-will offline announcement registered,
// a 60s keepalive, and auto-reconnect bounded by the configured backoff
// window. The state moves to Connecting immediately; Connected is entered
// from the transport's on-connect event, which also publishes the retained
// online status (exactly once per successful (re)connection). A failed
// attempt settles back in Disconnected with lastError recorded; recovery
// from there is the probe's job.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection closed", ErrConnectionFailed)
	}
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}

	c.gen++
	gen := c.gen
	t := c.newTransport(c.transportOptions(gen, time.Duration(c.cfg.Reconnect.MaxDelay)*time.Second))
	c.transport = t
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Info("connecting to broker",
		"host", c.cfg.Broker.Host,
		"port", c.cfg.Broker.Port,
		"client_id", c.ClientID(),
	)

	wait := t.Connect()
	go c.watchConnect(gen, wait)

	return nil
}

// transportOptions builds the options for a new transport generation.
func (c *Conn) transportOptions(gen uint64, maxDelay time.Duration) transportOptions {
	return transportOptions{
		brokerHost:   c.cfg.Broker.Host,
		brokerPort:   c.cfg.Broker.Port,
		useTLS:       c.cfg.Broker.TLS,
		clientID:     c.clientID,
		username:     c.cfg.Auth.Username,
		password:     c.cfg.Auth.Password,
		initialDelay: time.Duration(c.cfg.Reconnect.InitialDelay) * time.Second,
		maxDelay:     maxDelay,
		onConnect:    func() { c.handleConnect(gen) },
		onLost:       func(err error) { c.handleConnectionLost(gen, err) },
	}
}

// watchConnect records the outcome of an asynchronous connection attempt.
// Success is handled by the on-connect event; only failure matters here.
func (c *Conn) watchConnect(gen uint64, wait waitFunc) {
	err := wait(defaultConnectTimeout)
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != StateConnecting {
		return
	}
	c.state = StateDisconnected
	c.lastError = fmt.Sprintf("failed to connect to broker: %v", err)
	c.logger.Warn("connection attempt failed", "error", err)
}

// handleConnect runs on every successful (re)connection.
func (c *Conn) handleConnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.everConnected = true
	c.probeFailures = 0
	c.reconnects = 0
	c.lastError = ""
	t := c.transport
	c.mu.Unlock()

	c.logger.Info("connected to broker", "client_id", c.ClientID())

	// Announce presence. Retained so late subscribers see current status.
	wait := t.Publish(TopicStatus, 1, true, []byte(statusOnlinePayload))
	go func() {
		if err := wait(defaultPublishTimeout); err != nil {
			c.setLastError(fmt.Sprintf("failed to publish online status: %v", err))
		}
	}()
}

// handleConnectionLost runs when the transport reports an unexpected
// disconnect. The transport's own auto-reconnect takes over from here.
func (c *Conn) handleConnectionLost(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	c.lastError = fmt.Sprintf("disconnected from broker: %v", err)
	c.mu.Unlock()

	c.logger.Warn("connection lost, transport reconnecting", "error", err)
}

// Publish sends a channel-state message at the configured QoS.
//
// It fails without touching the transport when the connection is not in the
// Connected state. Otherwise the message is handed to the transport's network
// loop and Publish returns without waiting for broker acknowledgment, so the
// monitor tick is never held up by a slow broker. A delivery failure does not
// change the connection state; it is recorded as lastError and left for the
// probe cycle to interpret.
func (c *Conn) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.mu.RLock()
	state := c.state
	t := c.transport
	c.mu.RUnlock()

	if state != StateConnected || t == nil {
		return ErrNotConnected
	}

	wait := t.Publish(topic, byte(c.cfg.QoS), false, payload)

	c.mu.Lock()
	c.messagesSent++
	c.lastMessage = Message{
		Topic:   topic,
		Payload: string(payload),
		Time:    time.Now(),
	}
	c.mu.Unlock()

	go func() {
		if err := wait(defaultPublishTimeout); err != nil {
			c.setLastError(fmt.Sprintf("%v: publish to %s: %v", ErrPublishFailed, topic, err))
		}
	}()

	return nil
}

// Ping attempts a zero-importance publish to verify the connection is
// genuinely usable. QoS 0: the probe cares about transport acceptance, not
// delivery.
func (c *Conn) Ping() error {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()

	if t == nil {
		return fmt.Errorf("%w: no transport", ErrPingFailed)
	}

	wait := t.Publish(TopicPing, 0, false, []byte(pingPayload))
	if err := wait(pingTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPingFailed, err)
	}
	return nil
}

// TransportConnected reports the transport's own connectivity flag.
// This is the self-reported view the probe cross-checks with Ping.
func (c *Conn) TransportConnected() bool {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()
	return t != nil && t.IsConnected()
}

// RecordProbeFailure increments the consecutive probe failure counter and
// returns the new value.
func (c *Conn) RecordProbeFailure() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeFailures++
	return c.probeFailures
}

// ResetProbeFailures clears the consecutive probe failure counter.
func (c *Conn) ResetProbeFailures() {
	c.mu.Lock()
	c.probeFailures = 0
	c.mu.Unlock()
}

// MarkHealthy records a verified-alive observation: the externally visible
// state returns to Connected and the reconnecting flag clears.
func (c *Conn) MarkHealthy() {
	c.mu.Lock()
	if !c.closed {
		c.state = StateConnected
	}
	c.mu.Unlock()
}

// MarkOffline flips the externally visible state to disconnected and records
// the reason, regardless of what the transport claims. Used by the probe to
// debounce against transient blips before any recovery is attempted.
func (c *Conn) MarkOffline(reason string) {
	c.mu.Lock()
	if !c.closed {
		c.state = StateDisconnected
		c.lastError = reason
	}
	c.mu.Unlock()
}

// ForceReconnect tears down the transport entirely and replaces it with a
// fresh one. This recovers from situations the transport's own reconnect
// logic cannot detect, such as the broker believing the session is alive
// while the local socket is not.
//
// The replacement uses a new client identity suffixed with the current time:
// the old identity may still be registered broker-side and reusing it would
// cause a silent session conflict. The reconnect backoff window is widened,
// and the probe failure counter resets so the next ticks do not re-trigger
// while the new connection is still establishing.
func (c *Conn) ForceReconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection closed", ErrConnectionFailed)
	}

	old := c.transport
	c.transport = nil
	c.gen++
	gen := c.gen
	c.state = StateDisconnected
	c.reconnects++
	attempt := c.reconnects
	c.probeFailures = 0
	c.clientID = fmt.Sprintf("%s_%d", c.baseClientID, time.Now().Unix())
	c.lastError = fmt.Sprintf("forcing reconnection (attempt %d)", attempt)
	clientID := c.clientID
	c.mu.Unlock()

	c.logger.Warn("forcing reconnection",
		"attempt", attempt,
		"new_client_id", clientID,
	)

	if old != nil {
		old.Disconnect(0)
	}

	// Give the old transport's sockets time to close before the new
	// identity appears at the broker.
	time.Sleep(forcedReconnectPause)

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return nil
	}
	forcedMax := time.Duration(c.cfg.Reconnect.ForcedMaxDelay) * time.Second
	if forcedMax <= 0 {
		forcedMax = time.Duration(c.cfg.Reconnect.MaxDelay) * time.Second
	}
	t := c.newTransport(c.transportOptions(gen, forcedMax))
	c.transport = t
	c.state = StateConnecting
	c.mu.Unlock()

	wait := t.Connect()
	go c.watchConnect(gen, wait)

	return nil
}

// Disconnect shuts the connection down.
//
// It publishes the retained offline status exactly once across all calls,
// then stops the network loop and closes the transport. Safe to call from
// any state, any number of times; never panics.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.closed = true
	t := c.transport
	c.transport = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.offlineOnce.Do(func() {
		if t == nil {
			return
		}
		wait := t.Publish(TopicStatus, 1, true, []byte(statusOfflinePayload))
		if err := wait(defaultPublishTimeout); err != nil {
			c.logger.Warn("failed to publish offline status", "error", err)
		}
	})

	if t != nil {
		t.Disconnect(disconnectQuiesce)
	}

	c.logger.Info("disconnected from broker")
}

// ClientID returns the current client identity. It changes across forced
// reconnections.
func (c *Conn) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a consistent snapshot of the externally visible state.
func (c *Conn) Status() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	// The first connect renders as plain "connecting"; only Connecting
	// after a session has existed counts as reconnecting.
	reconnecting := c.state == StateReconnecting ||
		(c.state == StateConnecting && c.everConnected)
	return Snapshot{
		State:             c.state,
		Connected:         c.state == StateConnected,
		Reconnecting:      reconnecting,
		ClientID:          c.clientID,
		ReconnectAttempts: c.reconnects,
		ProbeFailures:     c.probeFailures,
		MessagesSent:      c.messagesSent,
		LastMessage:       c.lastMessage,
		LastError:         c.lastError,
	}
}

// setLastError records an error string for the status snapshot.
func (c *Conn) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}
