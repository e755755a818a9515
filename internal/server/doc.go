// Package server implements the recorder's HTTP API: health, the current
// session snapshot, source statistics, the active configuration and
// Prometheus metrics. Every route except /metrics is instrumented.
package server
