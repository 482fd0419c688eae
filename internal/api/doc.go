// Package api exposes the management REST surface and the WebSocket
// event stream.
//
// The REST API lives under /api/v1. Admin endpoints require a signed
// access token; the pairing verify endpoint is deliberately public (the
// PIN is the proof) and rate limited per source address. The WebSocket
// hub fans device events out to connections filtered by each
// connection's area scope and drops connections the moment their
// credential is revoked.
package api
