// Package monitor implements the sampling loop that turns raw microphone
// levels into published channel-state messages.
//
// # Edge-Triggered Publishing
//
// A channel message goes out when the active state changes, and on every tick
// while the channel stays active. Silence is published once per transition;
// an active channel keeps re-asserting itself so a subscriber that missed the
// rising edge still converges. The trigger is advanced on every publish
// attempt, successful or not, so a flaky broker cannot cause a burst of
// duplicate edges once it recovers.
//
// # Ticks and Failures
//
// The loop samples both channels at a fixed cadence (200ms by default). A
// capture read failure maps to level zero for that tick, is surfaced through
// the shared status, and is followed by a short cooldown before the next tick
// so a dead audio source does not spin the loop.
//
// # Shared Status
//
// The Tracker holds the snapshot consumed by the terminal UI. All access goes
// through the mutex; readers get value copies and never observe a partially
// updated state.
package monitor
