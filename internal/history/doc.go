// Package history keeps a local log of microphone state transitions.
//
// The log is an append-only SQLite table written by the monitor loop on each
// state change. It answers "when did the right mic go quiet" without trawling
// broker logs, and survives restarts of the monitor. WAL mode keeps reads
// from the UI or ad-hoc queries from blocking the writer.
package history
