package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection and probe timing constants.
const (
	// defaultKeepAlive is the keepalive interval for the connection.
	// The broker uses missed keepalives to fire the last-will message.
	defaultKeepAlive = 60 * time.Second

	// defaultConnectTimeout bounds how long a connection attempt may take
	// before it is recorded as failed.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds how long a publish waits for the
	// transport to accept the message.
	defaultPublishTimeout = 5 * time.Second

	// pingTimeout bounds the liveness-probe publish. Kept short so the
	// probe cadence (2s) is never overrun by a single hung attempt.
	pingTimeout = 1 * time.Second

	// disconnectQuiesce is the time in milliseconds to let pending
	// operations drain on disconnect.
	disconnectQuiesce = 1000

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// waitFunc blocks until an asynchronous transport operation resolves or the
// timeout elapses. It returns nil on success.
type waitFunc func(timeout time.Duration) error

// transport is the narrow surface the connection state machine needs from the
// underlying MQTT library. Production code uses the paho implementation; unit
// tests substitute a fake via the Conn's transport factory.
type transport interface {
	// Connect starts an asynchronous connection attempt and returns a
	// wait function for its outcome. The transport's own network loop
	// starts with the attempt.
	Connect() waitFunc

	// Publish hands a message to the transport's network loop and returns
	// a wait function for its acceptance.
	Publish(topic string, qos byte, retained bool, payload []byte) waitFunc

	// IsConnected reports the transport's own view of connectivity.
	// This can lag or lie (half-open sockets); see the probe package.
	IsConnected() bool

	// Disconnect stops the network loop after quiesce milliseconds.
	Disconnect(quiesce uint)
}

// transportOptions carries everything needed to build a transport instance.
// A forced reconnection builds a fresh instance with a new client identity
// and a widened backoff window.
type transportOptions struct {
	brokerHost string
	brokerPort int
	useTLS     bool
	clientID   string
	username   string
	password   string

	// Backoff window for the transport's built-in auto-reconnect.
	initialDelay time.Duration
	maxDelay     time.Duration

	// Called from the transport's network loop on connection events.
	onConnect func()
	onLost    func(err error)
}

// transportFactory builds a transport from options. Swapped out in tests.
type transportFactory func(opts transportOptions) transport

// pahoTransport implements transport on paho.mqtt.golang.
type pahoTransport struct {
	client pahomqtt.Client
}

// newPahoTransport builds a paho client configured for the monitor:
//   - last will on the status topic (retained, QoS 1) for unclean disconnects
//   - clean session, 60s keepalive
//   - built-in auto-reconnect with bounded exponential backoff
//   - no automatic retry of the initial connect: a failed attempt settles in
//     Disconnected and recovery is driven by the status probe
func newPahoTransport(opts transportOptions) transport {
	pahoOpts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if opts.useTLS {
		scheme = "ssl"
		pahoOpts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	pahoOpts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, opts.brokerHost, opts.brokerPort))

	pahoOpts.SetClientID(opts.clientID)
	if opts.username != "" {
		pahoOpts.SetUsername(opts.username)
		pahoOpts.SetPassword(opts.password)
	}

	pahoOpts.SetCleanSession(true)
	pahoOpts.SetKeepAlive(defaultKeepAlive)
	pahoOpts.SetConnectTimeout(defaultConnectTimeout)

	pahoOpts.SetAutoReconnect(true)
	pahoOpts.SetConnectRetry(false)
	pahoOpts.SetMaxReconnectInterval(opts.maxDelay)
	pahoOpts.SetConnectRetryInterval(opts.initialDelay)

	pahoOpts.SetWill(TopicStatus, statusOfflinePayload, 1, true)

	pahoOpts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if opts.onConnect != nil {
			opts.onConnect()
		}
	})
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if opts.onLost != nil {
			opts.onLost(err)
		}
	})

	return &pahoTransport{client: pahomqtt.NewClient(pahoOpts)}
}

func (t *pahoTransport) Connect() waitFunc {
	token := t.client.Connect()
	return tokenWait(token)
}

func (t *pahoTransport) Publish(topic string, qos byte, retained bool, payload []byte) waitFunc {
	token := t.client.Publish(topic, qos, retained, payload)
	return tokenWait(token)
}

func (t *pahoTransport) IsConnected() bool {
	return t.client.IsConnected()
}

func (t *pahoTransport) Disconnect(quiesce uint) {
	t.client.Disconnect(quiesce)
}

// tokenWait adapts a paho token to a waitFunc.
func tokenWait(token pahomqtt.Token) waitFunc {
	return func(timeout time.Duration) error {
		if !token.WaitTimeout(timeout) {
			return fmt.Errorf("timeout after %v", timeout)
		}
		return token.Error()
	}
}
