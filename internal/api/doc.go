// Package api implements the HTTP REST API and WebSocket server of the
// enrollment station.
//
// This package provides:
//   - REST endpoints for bus control, target selection and run control
//   - Read access to the run journal
//   - A WebSocket hub broadcasting progress events and run snapshots
//   - Optional JWT authentication (HS256, operator login)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server is a thin presentation layer over enroll.Controller and the
// transport manager. It never touches the bus directly: every operation
// goes through the same controller the console and the MQTT bridge use,
// so the one-run-at-a-time rule holds for all of them.
//
// # Security
//
// Without security.jwt.secret every route is open. With a secret, all
// routes except health and token issue require "Authorization: Bearer".
// Browsers cannot set headers on WebSocket upgrades, so /ws also accepts
// the token as ?token= query parameter.
package api
