// Package api implements the HTTP REST API and WebSocket server for Shade Core.
//
// This package provides:
//   - REST endpoints for the shade state, commands, presets and history
//   - WebSocket hub pushing state changes and connection notices
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The server sits between user interfaces and the shade reconciler. It never
// owns the messaging session: commands are forwarded to the reconciler, and
// the hub is registered as a reconciler observer so every visible change is
// pushed to subscribed WebSocket clients on "shade.state_changed" and
// "shade.notice".
//
// # Errors
//
// Commands issued while the controller is unreachable return 409 with code
// "not_connected" and a hint pointing at POST /api/v1/shade/reconnect.
//
// # Graceful Degradation
//
// Reads keep working while the broker is down; history returns 503 when no
// store is configured.
package api
