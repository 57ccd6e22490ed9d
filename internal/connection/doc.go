// Package connection owns one transport socket per connection key.
//
// The Manager combines the lifecycle manager and the subscriber registry:
// callers Acquire a key with a subscriber id and Release it when done.
// Equal keys share one record and one socket. When the last subscriber
// leaves, teardown is deferred by a grace window so quick re-acquires
// reuse the socket.
//
// Record states:
//
//	connecting -> open            transport opened
//	connecting -> closed          dial failed, retry scheduled
//	open -> closing -> closed     transport closed, retry scheduled
//	closed -> connecting          retry timer fired or new Acquire
//	closed -> failed              retries exhausted
//
// A record leaves the manager only through Disconnect, DisposeAll or the
// grace teardown. Inbound frames are decoded and dispatched on the read
// goroutine of their socket, which keeps per-key arrival order.
package connection
