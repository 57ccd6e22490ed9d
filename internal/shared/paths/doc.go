// Package paths resolves where the client keeps its files.
//
//	<config>/agentlink/profiles/<name>.toml  named profiles
//	<config>/agentlink/token                 token file
//	<cache>/agentlink/conversations.snap     conversation snapshot
package paths
