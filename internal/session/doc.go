// Package session is the explicitly constructed entry point of the
// realtime core. New wires configuration, logging, metrics, credentials,
// transport, router, connection manager, conversation tracker and outbox;
// Close disposes every connection and persists the conversation snapshot.
//
// A host creates one Session at start-up (or after sign-in) and closes it
// at sign-out. All UI surfaces share it; equal connection keys always
// share one socket.
package session
