// Package credential supplies the bearer token consumed by the connection
// layer. The core never issues, refreshes or persists tokens; it asks a
// Provider for the current one before every acquire and fails fast when
// it is missing or malformed.
package credential
