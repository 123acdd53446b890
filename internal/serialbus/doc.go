// Package serialbus implements the serial command-bus protocol shared by the
// Gray Logic serial device handlers (UK1104 relay board, Kostal PIKO inverter).
//
// The protocol is half-duplex and line oriented:
//
//	host  → device:  "GET 1\r\n"
//	device → host:   "GET 1\n" (echo) "ON\n" (payload) "::" (prompt)
//
// Devices are attached as serial endpoints whose OS paths change across
// reconnects, so every request starts by scanning the bus and asking each
// endpoint for its firmware identity.
//
// # Components
//
//   - FrameReader: reads one framed reply, bounded by a deadline
//   - Prober: identity handshake on a single endpoint
//   - Scanner: enumerates endpoints and maps identities to endpoints
//   - Profile: per-device command table and classification
//   - Executor: sends a command, verifies the echo and retries
//   - Handler: the request entry point used by the dispatch layer
//
// # Thread Safety
//
// A Handler holds no per-request state and may be shared, but each Endpoint
// must be owned by exactly one goroutine while it is open. Two concurrent
// requests against the same physical bus may race during discovery; callers
// that need ordering serialise requests themselves.
package serialbus
