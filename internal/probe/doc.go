// Package probe actively verifies that the MQTT connection is usable.
//
// The broker transport's own connectivity flag is necessary but not
// sufficient: half-open TCP sockets and stale broker-side sessions leave the
// flag true while every publish silently goes nowhere. This package
// cross-checks the flag every two seconds with a real QoS 0 publish and
// escalates when the checks keep failing:
//
//	failures >= 3  → externally visible status flips to disconnected
//	failures == 5  → the connection is torn down and rebuilt with a fresh
//	                 client identity, and the counter resets
//
// The two thresholds are deliberately distinct. Flipping the visible status
// early keeps downstream consumers honest during a blip; the forced
// reconnection is reserved for failures the transport demonstrably cannot
// recover from on its own.
package probe
