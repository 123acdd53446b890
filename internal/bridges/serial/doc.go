// Package serial bridges MQTT requests to serial command-bus handlers.
//
// Each configured handler (one device profile on one set of endpoints) is
// addressed by its ID in the request topic:
//
//	graylogic/request/serial/{handler}/{request_id}    → Bridge
//	graylogic/response/serial/{handler}/{request_id}   ← Bridge (QoS 1)
//	graylogic/query/serial/{handler}/{request_id}      → Bridge (answered from the store)
//	graylogic/state/serial/{handler}/{device}          ← Bridge (retained)
//	graylogic/availability/serial/{handler}/{device}   ← Bridge (retained, on-line/off-line)
//	graylogic/discovery/serial/{handler}               ← Bridge (retained)
//	graylogic/health/serial                            ← Bridge (retained, every 30s)
//
// Requests for one handler are executed one at a time since they share the
// serial endpoints; different handlers run concurrently. Every value a device
// returns from an exchange is recorded in the state store and republished as
// a retained message; status answers and absent devices only update the
// availability topic. The last known states are republished when the bridge
// starts, and an off-line response carries the device's last known state.
//
// The store and telemetry sinks are optional. Without them the bridge only
// translates requests.
package serial
