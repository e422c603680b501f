package monitor

// EdgeTrigger decides, for one channel on one sampling tick, whether the
// current reading is worth publishing.
//
// The policy is edge-triggered with active re-announcement: a state change is
// always published, a sustained active state is re-published every tick so a
// consumer that missed a message still converges, and a sustained inactive
// state stays silent to avoid flooding the broker with no-ops.
//
// Not safe for concurrent use; each channel owns its own trigger and only the
// monitor loop touches them.
type EdgeTrigger struct {
	lastPublished bool
}

// ShouldPublish reports whether the current reading warrants a publish.
func (e *EdgeTrigger) ShouldPublish(active bool) bool {
	return active != e.lastPublished || active
}

// MarkPublished records a publish attempt for the given state. Called on
// every attempt regardless of outcome: a failed publish is not retried this
// tick, and the next tick's comparison naturally re-triggers when the state
// still differs.
func (e *EdgeTrigger) MarkPublished(active bool) {
	e.lastPublished = active
}

// LastPublished returns the state as of the last publish attempt.
func (e *EdgeTrigger) LastPublished() bool {
	return e.lastPublished
}
