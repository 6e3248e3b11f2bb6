// Package bridge hosts the exposed PDU outlets for Gray Logic.
//
// The Bridge implements accessory.Host and accessory.TelemetrySink. It
// keeps the accessory cache in SQLite so restarts restore every outlet
// before the controller answers, and it exposes the outlets on MQTT using
// the same topic scheme as the other protocol bridges.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐          ┌────────────┐
//	│   Gray Logic    │   MQTT   │   PDU Bridge    │  HTTPS   │   UniFi    │
//	│      Core       │◄────────►│   (this pkg)    │◄────────►│ Controller │
//	└─────────────────┘          └─────────────────┘          └────────────┘
//	                                     │
//	                                     ▼
//	                          SQLite cache, InfluxDB
//
// # Topics
//
//   - graylogic/state/pdu/{id}: relay state, retained
//   - graylogic/telemetry/pdu/{id}: metered readings
//   - graylogic/command/pdu/{id}: "on", "off" or "cycle"
//   - graylogic/ack/pdu/{id}: command acknowledgements
//   - graylogic/request/pdu/{request_id}: read_state, read_all, discover
//   - graylogic/response/pdu/{request_id}: request results
//   - graylogic/discovery/pdu: every exposed outlet, retained
//   - graylogic/health/pdu: bridge health, retained
//
// The controller only offers a power-cycle action, so every command cycles
// the outlet. The resulting state is published once the confirmation read
// completes.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package bridge
