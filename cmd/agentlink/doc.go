// Command agentlink is a terminal client for the agent gateway. It joins
// chat rooms, tails agent logs, asks agents questions and runs raw
// commands over the shared realtime connection layer.
package main
