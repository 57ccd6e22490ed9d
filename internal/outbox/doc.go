// Package outbox tracks outbound messages until the server acknowledges
// them by temporary id. Unacknowledged messages are re-sent with a capped
// retry count and dropped once they age out.
package outbox
