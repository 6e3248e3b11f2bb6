// Gray Logic PDU Bridge
//
// This is the main entry point for the PDU bridge. It exposes the outlets of
// UniFi power-distribution units as switchable accessories:
//   - Outlet discovery and reconciliation against a persistent cache
//   - Power cycling through the UniFi Network controller
//   - Telemetry polling for metered outlets
//   - MQTT, HTTP and InfluxDB integration with Gray Logic Core
package main

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	Execute()
}
