package mqtt

// Fixed topics and payloads of the microphone monitor's wire contract.
//
// The per-channel state topics are configurable (mqtt.topics in the config);
// status and ping topics are part of the published contract and fixed so that
// downstream automation can rely on them.
const (
	// TopicStatus carries the retained presence announcement. The broker
	// also publishes the last-will offline payload here on an unclean
	// disconnect.
	TopicStatus = "microphones/status"

	// TopicPing is the liveness-probe topic. Payloads on it are not
	// intended for consumers.
	TopicPing = "microphones/ping"
)

// Status payloads, published retained at QoS 1.
const (
	statusOnlinePayload  = `{"status": "online"}`
	statusOfflinePayload = `{"status": "offline"}`
)

// pingPayload is the literal probe payload, published at QoS 0.
const pingPayload = "ping"
