// Package api implements the HTTP REST API for the PDU bridge.
//
// This package provides:
//   - Outlet listing with cached state and telemetry
//   - Live state reads and power-cycle requests per outlet
//   - On-demand discovery and the audit trail
//   - Bearer-token auth with viewer, operator and admin roles
//   - A WebSocket event stream filtered by channel and outlet
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/ws?ticket=...
//	POST /api/v1/ws-ticket
//	GET  /api/v1/metrics
//	POST /api/v1/discovery
//	GET  /api/v1/audit?action=&entity_id=&source=&limit=&offset=
//	GET  /api/v1/outlets
//	GET  /api/v1/outlets/{id}
//	GET  /api/v1/outlets/{id}/state
//	PUT  /api/v1/outlets/{id}/state      {"on": true}
//	GET  /api/v1/outlets/{id}/telemetry
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
