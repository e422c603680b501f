// Package mqtt manages the monitor's connection to the MQTT broker.
//
// This package owns:
//   - The connection lifecycle state machine (disconnected, connecting,
//     connected, reconnecting)
//   - Last Will and Testament (LWT) registration so the broker announces an
//     unclean disconnect on the retained status topic
//   - Publishing of channel-state and presence messages
//   - Forced reconnection with a fresh client identity when the transport's
//     own recovery logic is stuck
//
// # Architecture
//
// The monitor loop and the status probe both call into one Conn from
// independent goroutines; all externally visible state (counters, last
// message, last error) is guarded by a single mutex and read through
// consistent snapshots.
//
//	MonitorLoop ──publish──▶ Conn ◀──ping/verdicts── StatusProbe
//	                          │
//	                          ▼
//	                  broker transport (paho)
//
// The underlying library is wrapped behind a narrow transport interface so
// the state machine is testable without a broker. The transport's network
// I/O runs on its own background loop; publishes hand work to that loop and
// return immediately, with delivery outcomes resolved on bounded waits off
// the caller's path.
//
// # Recovery model
//
// Three recovery paths, in escalating order:
//  1. A failed publish only records lastError; nothing else changes.
//  2. An unexpected disconnect is retried by the transport's built-in
//     auto-reconnect (exponential backoff within the configured window).
//  3. The status probe detects a transport that claims to be connected but
//     cannot deliver (half-open socket, stale broker session) and calls
//     ForceReconnect, which rebuilds the transport with a time-suffixed
//     client identity and a widened backoff window.
//
// # Wire contract
//
//   - microphones/status (retained, QoS 1): {"status": "online"} or
//     {"status": "offline"}; the offline payload doubles as the last will
//   - configured channel topics: {"state": 0|1, "level": float,
//     "timestamp": unix-epoch-seconds}
//   - microphones/ping (QoS 0): literal "ping", probe traffic only
package mqtt
