/*
Package monitoring provides Prometheus metrics for the realtime core.

# Overview

Each Metrics value owns its own registry, so several sessions (and tests)
can coexist in one process without duplicate registration. A nil *Metrics
is accepted everywhere and records nothing.

# Metrics

- Connections: open gauge, subscriber gauge, state transitions, reconnect
  attempts, exhausted reconnects, heartbeats
- Frames: inbound and outbound by type, decode fallbacks, listener panics
- Conversations: started, ended by status, duration, swept
- Outbox: pending gauge, retries, expiries

# Usage

	metrics := monitoring.NewMetrics("agentlink")
	http.Handle("/metrics", metrics.Handler())
*/
package monitoring
