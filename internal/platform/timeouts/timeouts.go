// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Introspection caps a single token-introspection round trip to the auth
// service.
const Introspection = 3 * time.Second

// Fanout caps a single outbound notification delivery attempt.
const Fanout = 5 * time.Second
