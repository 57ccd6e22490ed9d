// Package gateway is a loopback implementation of the server side of the
// realtime protocol, for local development and end-to-end tests.
//
// It serves the three endpoint kinds:
//   - chat rooms broadcast every message to their members, echoing the
//     sender's tempId and acknowledging it with message_ack
//   - agent endpoints stream a thinking chunk per word of an echo reply,
//     run raw commands by echoing them, and keep a per-agent log that
//     followers receive as log_append
//   - namespace endpoints answer ping and nothing else
//
// Upgrade requests must carry a token query parameter accepted by the
// configured credential.Validator.
//
// Example Usage:
//
//	srv, _ := gateway.NewServer(gateway.DefaultSettings())
//	_ = srv.Run(ctx, ":8000")
package gateway
