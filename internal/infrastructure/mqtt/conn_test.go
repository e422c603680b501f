package mqtt

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/micmon/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "micmon-test",
		},
		QoS: 0,
		Topics: config.MQTTTopicsConfig{
			Left:  "microphones/left",
			Right: "microphones/right",
		},
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay:   1,
			MaxDelay:       10,
			ForcedMaxDelay: 30,
		},
	}
}

// fakeMessage records one publish handed to the fake transport.
type fakeMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeTransport implements transport for tests. Connect succeeds and fires
// the on-connect event synchronously unless connectErr or pending is set;
// pending leaves the attempt unresolved in the Connecting state.
type fakeTransport struct {
	opts       transportOptions
	connectErr error
	publishErr error
	pending    bool

	// publishGate, when set, holds publish acknowledgments until closed.
	publishGate chan struct{}

	mu          sync.Mutex
	connected   bool
	published   []fakeMessage
	disconnects int
}

func (f *fakeTransport) Connect() waitFunc {
	if f.pending {
		return func(time.Duration) error { return nil }
	}
	if f.connectErr != nil {
		return func(time.Duration) error { return f.connectErr }
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	if f.opts.onConnect != nil {
		f.opts.onConnect()
	}
	return func(time.Duration) error { return nil }
}

func (f *fakeTransport) Publish(topic string, qos byte, retained bool, payload []byte) waitFunc {
	err := f.publishErr
	if err == nil {
		f.mu.Lock()
		f.published = append(f.published, fakeMessage{
			topic:    topic,
			qos:      qos,
			retained: retained,
			payload:  string(payload),
		})
		f.mu.Unlock()
	}
	gate := f.publishGate
	return func(time.Duration) error {
		if gate != nil {
			<-gate
		}
		return err
	}
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Disconnect(_ uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeTransport) messages() []fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeMessage, len(f.published))
	copy(out, f.published)
	return out
}

// lostConnection simulates the transport reporting an unexpected disconnect.
func (f *fakeTransport) lostConnection(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	if f.opts.onLost != nil {
		f.opts.onLost(err)
	}
}

// newTestConn wires a Conn to fake transports. Each transport generation is
// appended to the returned slice pointer. mutate customises each new fake
// before use (may be nil).
func newTestConn(t *testing.T, mutate func(*fakeTransport)) (*Conn, *[]*fakeTransport) {
	t.Helper()
	conn := NewConn(testConfig(), nil)

	fakes := &[]*fakeTransport{}
	var mu sync.Mutex
	conn.newTransport = func(opts transportOptions) transport {
		f := &fakeTransport{opts: opts}
		if mutate != nil {
			mutate(f)
		}
		mu.Lock()
		*fakes = append(*fakes, f)
		mu.Unlock()
		return f
	}
	return conn, fakes
}

// waitForState polls until the connection reaches the wanted state.
func waitForState(t *testing.T, conn *Conn, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", conn.State(), want)
}

// waitForError polls until lastError contains the wanted substring.
func waitForError(t *testing.T, conn *Conn, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(conn.Status().LastError, want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("LastError = %q, want substring %q", conn.Status().LastError, want)
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Success(t *testing.T) {
	conn, fakes := newTestConn(t, nil)

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	snap := conn.Status()
	if !snap.Connected {
		t.Error("Status().Connected = false, want true")
	}
	if snap.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", snap.ReconnectAttempts)
	}
	if snap.LastError != "" {
		t.Errorf("LastError = %q, want empty", snap.LastError)
	}

	// The online announcement must be retained at QoS 1.
	msgs := (*fakes)[0].messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	online := msgs[0]
	if online.topic != TopicStatus || !online.retained || online.qos != 1 {
		t.Errorf("online status = %+v, want retained QoS 1 on %s", online, TopicStatus)
	}
	if online.payload != `{"status": "online"}` {
		t.Errorf("online payload = %q, want %q", online.payload, `{"status": "online"}`)
	}
}

func TestConnect_Failure(t *testing.T) {
	connectErr := errors.New("connection refused")
	conn, _ := newTestConn(t, func(f *fakeTransport) { f.connectErr = connectErr })

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v (failure must be asynchronous)", err)
	}
	waitForState(t, conn, StateDisconnected)

	snap := conn.Status()
	if !strings.Contains(snap.LastError, "connection refused") {
		t.Errorf("LastError = %q, want connection failure recorded", snap.LastError)
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	conn, fakes := newTestConn(t, nil)

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	if err := conn.Connect(); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if len(*fakes) != 1 {
		t.Errorf("transports built = %d, want 1 (no reconnect while connected)", len(*fakes))
	}
}

func TestConnectionLost_ThenRecovered(t *testing.T) {
	conn, fakes := newTestConn(t, nil)

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	f := (*fakes)[0]
	f.lostConnection(errors.New("broken pipe"))

	snap := conn.Status()
	if snap.State != StateReconnecting {
		t.Errorf("state after lost connection = %q, want %q", snap.State, StateReconnecting)
	}
	if !snap.Reconnecting {
		t.Error("Status().Reconnecting = false, want true")
	}
	if !strings.Contains(snap.LastError, "broken pipe") {
		t.Errorf("LastError = %q, want disconnect reason", snap.LastError)
	}

	// Auto-reconnect succeeds: the transport fires on-connect again.
	f.opts.onConnect()
	waitForState(t, conn, StateConnected)

	snap = conn.Status()
	if snap.LastError != "" {
		t.Errorf("LastError after recovery = %q, want cleared", snap.LastError)
	}
}

func TestStatus_FirstConnectIsNotReconnecting(t *testing.T) {
	conn, _ := newTestConn(t, func(f *fakeTransport) { f.pending = true })

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	snap := conn.Status()
	if snap.State != StateConnecting {
		t.Fatalf("state = %q, want %q", snap.State, StateConnecting)
	}
	if snap.Reconnecting {
		t.Error("Status().Reconnecting = true during initial connect, want false")
	}
}

func TestStatus_ConnectingAfterSessionIsReconnecting(t *testing.T) {
	builds := 0
	conn, _ := newTestConn(t, func(f *fakeTransport) {
		builds++
		if builds > 1 {
			f.pending = true
		}
	})

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	if err := conn.ForceReconnect(); err != nil {
		t.Fatalf("ForceReconnect() error = %v", err)
	}
	waitForState(t, conn, StateConnecting)

	if !conn.Status().Reconnecting {
		t.Error("Status().Reconnecting = false while re-establishing, want true")
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish_NotConnected(t *testing.T) {
	conn, _ := newTestConn(t, nil)

	err := conn.Publish("microphones/left", []byte(`{"state":1}`))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}

	if conn.Status().MessagesSent != 0 {
		t.Error("MessagesSent changed on rejected publish")
	}
}

func TestPublish_EmptyTopic(t *testing.T) {
	conn, _ := newTestConn(t, nil)

	if err := conn.Publish("", []byte("x")); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublish_Success(t *testing.T) {
	conn, _ := newTestConn(t, nil)

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	payload := []byte(`{"state": 1, "level": 612.4}`)
	if err := conn.Publish("microphones/left", payload); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	snap := conn.Status()
	if snap.MessagesSent != 1 {
		t.Errorf("MessagesSent = %d, want 1", snap.MessagesSent)
	}
	if snap.LastMessage.Topic != "microphones/left" {
		t.Errorf("LastMessage.Topic = %q, want %q", snap.LastMessage.Topic, "microphones/left")
	}
	if snap.LastMessage.Payload != string(payload) {
		t.Errorf("LastMessage.Payload = %q, want %q", snap.LastMessage.Payload, payload)
	}
	if snap.LastMessage.Time.IsZero() {
		t.Error("LastMessage.Time is zero, want publish time")
	}
}

func TestPublish_DeliveryFailureKeepsState(t *testing.T) {
	conn, fakes := newTestConn(t, nil)

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	(*fakes)[0].publishErr = errors.New("queue full")

	// Hand-off succeeds; the broker's rejection surfaces asynchronously.
	if err := conn.Publish("microphones/left", []byte("x")); err != nil {
		t.Fatalf("Publish() error = %v, want nil on hand-off", err)
	}
	waitForError(t, conn, "queue full")

	snap := conn.Status()
	if snap.State != StateConnected {
		t.Errorf("state after failed publish = %q, want Connected (probe owns recovery)", snap.State)
	}
}

func TestPublish_DoesNotWaitForAcknowledgment(t *testing.T) {
	conn, fakes := newTestConn(t, nil)

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	gate := make(chan struct{})
	(*fakes)[0].publishGate = gate
	defer close(gate)

	done := make(chan error, 1)
	go func() { done <- conn.Publish("microphones/left", []byte("x")) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish() blocked on broker acknowledgment")
	}

	if got := conn.Status().MessagesSent; got != 1 {
		t.Errorf("MessagesSent = %d, want 1 counted at hand-off", got)
	}
}

// =============================================================================
// Probe API Tests
// =============================================================================

func TestPing(t *testing.T) {
	conn, fakes := newTestConn(t, nil)

	if err := conn.Ping(); !errors.Is(err, ErrPingFailed) {
		t.Errorf("Ping() without transport error = %v, want ErrPingFailed", err)
	}

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	if err := conn.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	msgs := (*fakes)[0].messages()
	ping := msgs[len(msgs)-1]
	if ping.topic != TopicPing || ping.qos != 0 || ping.retained {
		t.Errorf("ping message = %+v, want QoS 0 unretained on %s", ping, TopicPing)
	}
	if ping.payload != "ping" {
		t.Errorf("ping payload = %q, want %q", ping.payload, "ping")
	}

	(*fakes)[0].publishErr = errors.New("rejected")
	if err := conn.Ping(); !errors.Is(err, ErrPingFailed) {
		t.Errorf("Ping() error = %v, want ErrPingFailed", err)
	}
}

func TestProbeFailureCounter(t *testing.T) {
	conn, _ := newTestConn(t, nil)

	for i := uint(1); i <= 3; i++ {
		if got := conn.RecordProbeFailure(); got != i {
			t.Errorf("RecordProbeFailure() = %d, want %d", got, i)
		}
	}

	conn.ResetProbeFailures()
	if got := conn.Status().ProbeFailures; got != 0 {
		t.Errorf("ProbeFailures after reset = %d, want 0", got)
	}
}

func TestMarkOfflineAndHealthy(t *testing.T) {
	conn, _ := newTestConn(t, nil)

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	conn.MarkOffline("broker unreachable: 3 consecutive probe failures")

	snap := conn.Status()
	if snap.Connected {
		t.Error("Connected = true after MarkOffline, want false")
	}
	if snap.LastError == "" {
		t.Error("LastError empty after MarkOffline, want reason")
	}

	conn.MarkHealthy()
	if !conn.Status().Connected {
		t.Error("Connected = false after MarkHealthy, want true")
	}
}

// =============================================================================
// Forced Reconnection Tests
// =============================================================================

func TestForceReconnect_ReplacesIdentityAndTransport(t *testing.T) {
	conn, fakes := newTestConn(t, nil)

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	before := conn.ClientID()
	conn.RecordProbeFailure()
	conn.RecordProbeFailure()

	if err := conn.ForceReconnect(); err != nil {
		t.Fatalf("ForceReconnect() error = %v", err)
	}

	after := conn.ClientID()
	if after == before {
		t.Errorf("client identity unchanged across forced reconnection: %q", after)
	}
	if !strings.HasPrefix(after, before+"_") {
		t.Errorf("new identity = %q, want time-suffixed %q", after, before)
	}

	if len(*fakes) != 2 {
		t.Fatalf("transports built = %d, want 2 (old torn down, new created)", len(*fakes))
	}
	if (*fakes)[0].disconnects == 0 {
		t.Error("old transport was not disconnected")
	}

	// The fake reconnects immediately; counters reset on success.
	waitForState(t, conn, StateConnected)
	snap := conn.Status()
	if snap.ProbeFailures != 0 {
		t.Errorf("ProbeFailures = %d, want 0 after forced reconnection", snap.ProbeFailures)
	}
	if snap.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0 after successful reconnection", snap.ReconnectAttempts)
	}
}

func TestForceReconnect_AttemptCountedWhilePending(t *testing.T) {
	first := true
	conn, _ := newTestConn(t, func(f *fakeTransport) {
		if !first {
			f.connectErr = errors.New("still down")
		}
		first = false
	})

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	if err := conn.ForceReconnect(); err != nil {
		t.Fatalf("ForceReconnect() error = %v", err)
	}
	waitForState(t, conn, StateDisconnected)

	snap := conn.Status()
	if snap.ReconnectAttempts != 1 {
		t.Errorf("ReconnectAttempts = %d, want 1 while reconnection unresolved", snap.ReconnectAttempts)
	}
}

// =============================================================================
// Disconnect Tests
// =============================================================================

func TestDisconnect_Idempotent(t *testing.T) {
	conn, fakes := newTestConn(t, nil)

	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	conn.Disconnect()
	conn.Disconnect()
	conn.Disconnect()

	offline := 0
	for _, f := range *fakes {
		for _, m := range f.messages() {
			if m.topic == TopicStatus && m.payload == `{"status": "offline"}` {
				offline++
				if !m.retained || m.qos != 1 {
					t.Errorf("offline status = %+v, want retained QoS 1", m)
				}
			}
		}
	}
	if offline != 1 {
		t.Errorf("offline status published %d times, want exactly 1", offline)
	}

	if conn.State() != StateDisconnected {
		t.Errorf("state = %q, want %q", conn.State(), StateDisconnected)
	}
}

func TestDisconnect_BeforeConnect(t *testing.T) {
	conn, _ := newTestConn(t, nil)

	// Must not panic from any starting state.
	conn.Disconnect()

	if err := conn.Connect(); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() after Disconnect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNewConn_GeneratesClientID(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = ""

	conn := NewConn(cfg, nil)
	if conn.ClientID() == "" {
		t.Error("ClientID() empty, want generated identity")
	}
	if !strings.HasPrefix(conn.ClientID(), "micmon-") {
		t.Errorf("ClientID() = %q, want micmon- prefix", conn.ClientID())
	}
}
