// Package audio provides amplitude levels from ALSA capture devices.
//
// Each microphone is served by a Capture, which supervises an arecord
// subprocess streaming raw S16_LE mono samples. Fixed-size chunks are folded
// into a mean absolute amplitude, the same figure the activity threshold in
// the monitor loop is calibrated against.
//
// The supervisor restarts arecord whenever it exits, so a device that is
// unplugged and replugged recovers without operator action. While the stream
// is down, Level reports an error and the monitor treats the channel as
// silent.
//
// ListDevices shells out to `arecord -l` for interactive device selection,
// and Simulator supplies synthetic levels for running without hardware.
package audio
