// Package influxdb records serial bus telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - serial_exchange: one point per handled request with its outcome,
//     the number of attempts and the wall-clock duration
//   - device_metrics: numeric device states, e.g. temperatures or inverter power
//
// InfluxDB is optional. Connect returns ErrDisabled when it is switched off and
// the bridge then skips telemetry entirely.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    client = nil
//	}
//
// Writes are non-blocking and batched (batch_size, flush_interval). Errors
// from batches are delivered to the SetOnError callback.
package influxdb
