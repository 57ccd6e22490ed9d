// Package protocol defines the wire envelope exchanged with the agent
// gateway and the identity of a logical connection.
//
// Every frame, in both directions, is a JSON text message:
//
//	{ "type": string, "data": any, "timestamp": ISO8601, "from": string, "messageId"?: string }
//
// The type drives routing. Frames without data are legal for control
// messages such as ping.
//
// Inbound types:
//   - chat_message, user_join, user_leave, typing: chat room traffic
//   - log_initial, log_append, log_history: agent log streaming
//   - raw_command_result: result of a fire-and-forget raw command
//   - agent_thinking_stream, agent_reply, conversation_status_update: agent exchanges
//   - message_ack: server acknowledgement of an outbound chat message
//   - pong: heartbeat reply, never surfaced to listeners
//
// Outbound types:
//   - ping, send_message, raw_command, raw_command_cancel
//   - load_history, toggle_follow, refresh
//
// A ConnectionKey selects one logical duplex channel; Endpoints turns a key
// and a bearer token into the URL the transport dials.
package protocol
