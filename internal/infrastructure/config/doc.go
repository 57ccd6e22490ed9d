// Package config provides 12-factor configuration for the realtime core.
//
// Configuration is loaded from environment variables with defaults. The
// CLI may additionally point at a TOML profile; keys present in the
// profile win over the environment.
//
// Configuration Sections:
//   - Endpoint: gateway origin and per-kind path templates
//   - Connection: transport driver, backoff, heartbeat, grace window
//   - Conversation: reply timeout, sweep interval, retention, snapshot path
//   - Outbox: retry cap, max age, flush rate
//   - Credential: token source
//   - Logging, Metrics
//
// Example Usage:
//
//	cfg, err := config.LoadFile("agentlink.toml")
//	if err != nil {
//		return err
//	}
//	fmt.Println(cfg.Connection.HeartbeatInterval)
//
// Environment Variables:
//   - WS_ORIGIN, WS_CHAT_PATH, WS_AGENT_LOG_PATH, WS_NONE_PATH, WS_CLIENT_NAME
//   - WS_DRIVER, WS_BACKOFF_BASE, WS_BACKOFF_CAP, WS_MAX_ATTEMPTS
//   - WS_HEARTBEAT_INTERVAL, WS_GRACE_WINDOW, WS_HANDSHAKE_TIMEOUT, WS_WRITE_TIMEOUT
//   - CONVERSATION_TIMEOUT, CONVERSATION_SWEEP_INTERVAL, CONVERSATION_RETENTION
//   - CONVERSATION_SNAPSHOT_PATH, CONVERSATION_FAIL_ON_RECONNECT
//   - OUTBOX_MAX_RETRIES, OUTBOX_MAX_AGE, OUTBOX_FLUSH_RATE, OUTBOX_FLUSH_BURST
//   - TOKEN_ENV, TOKEN_FILE, TOKEN_REQUIRE_JWT
//   - LOG_LEVEL, LOG_DEV, METRICS_ENABLED, METRICS_NAMESPACE
package config
