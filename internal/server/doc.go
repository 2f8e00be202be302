// Package server exposes the messaging core over HTTP. REST endpoints
// cover conversation setup, message history, sending, and read state;
// WebSocket endpoints stream live snapshots. Identity comes exclusively
// from the verified token, never from request bodies.
package server
