// Package ui renders the live terminal display for the monitor.
//
// The display polls the shared status snapshot at the configured refresh rate
// and never blocks the sampling loop: it is a pure reader. Logs go to stderr
// so the alternate screen stays clean.
package ui
