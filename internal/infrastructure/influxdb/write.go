package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementExchange = "serial_exchange"
	MeasurementDevice   = "device_metrics"
)

// ExchangeMetric describes one handled request.
type ExchangeMetric struct {
	Handler   string
	DeviceID  string
	Operation string
	// Outcome is the handler trace outcome (state, device_error, off-line, ...).
	Outcome  string
	Attempts int
	Duration time.Duration
}

// WriteExchange records a handled request in the serial_exchange measurement.
// Handler, device, operation and outcome are tags; attempts and duration_ms
// are fields.
//
// Example:
//
//	client.WriteExchange(influxdb.ExchangeMetric{
//	    Handler: "relays", DeviceID: "42", Operation: "get",
//	    Outcome: "state", Attempts: 1, Duration: 38 * time.Millisecond,
//	})
func (c *Client) WriteExchange(m ExchangeMetric) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"handler":   m.Handler,
		"operation": m.Operation,
		"outcome":   m.Outcome,
	}
	if m.DeviceID != "" {
		tags["device_id"] = m.DeviceID
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementExchange,
		tags,
		map[string]interface{}{
			"attempts":    m.Attempts,
			"duration_ms": float64(m.Duration) / float64(time.Millisecond),
		},
		c.now(),
	))
}

// WriteDeviceMetric records a numeric device reading such as a temperature
// or an inverter's power output.
//
// Parameters:
//   - handlerID: Handler the device belongs to
//   - deviceID: Device identity on the bus
//   - measurement: Metric name, normally the operation that produced it
//   - value: The reading
func (c *Client) WriteDeviceMetric(handlerID, deviceID, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementDevice,
		map[string]string{
			"handler":     handlerID,
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		c.now(),
	))
}
