// Package sinks implements progress consumers: structured logging, Prometheus
// collectors and run-store counters. Each sink satisfies progress.Sink and is
// safe for repeated Consume/Close cycles.
package sinks
