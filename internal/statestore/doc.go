// Package statestore persists the states reported by serial devices.
//
// Two tables back the store. serial_device_state holds the latest state per
// (handler, device) pair and is what the bridge republishes as retained MQTT
// messages after a restart. serial_state_history is an append-only log that
// PruneHistory trims to the configured retention.
//
// Timestamps are stored as fixed-width UTC strings so they sort lexically.
package statestore
