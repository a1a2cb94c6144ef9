// Package api implements the HTTP REST API and WebSocket feed for the console bridge.
//
// This package provides:
//   - REST endpoints to list consoles, read state and stored history, power
//     consoles on and off, send channel commands and trigger special actions
//   - WebSocket hub broadcasting session events as they happen
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Audit trail queries
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between user interfaces and the console manager.
// Commands are executed synchronously against the console session; session
// events reach WebSocket clients because the Hub is registered as a sink
// on the manager.
//
// # Security
//
// When security.jwt.secret is set, every route except health and login
// requires a bearer token, and each route checks the caller's role
// permissions. WebSocket connections use single-use tickets so tokens never
// appear in URLs. With no secret configured the API is open, which is only
// meant for isolated development setups.
package api
