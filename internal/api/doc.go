// Package api implements the read-only HTTP endpoints for talkhouse-server.
//
// New(store, clients) returns an http.Handler that serves:
//
//	GET /api/channels — configured channels with total stored message counts
//	GET /api/health   — liveness plus channel and connected-client counts
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. All chat traffic goes over the WebSocket endpoint;
// nothing here mutates state.
package api
