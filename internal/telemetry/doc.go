// Package telemetry streams microphone levels to InfluxDB.
//
// It is optional and off by default. When enabled, every sampled level and
// every state transition becomes a point in the configured bucket, batched
// and written asynchronously so the sampling cadence is never blocked by a
// slow or absent timeseries server. Write failures surface through the
// SetOnError callback rather than the hot path.
package telemetry
