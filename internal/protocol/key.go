package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// TargetKind selects the family of endpoint a connection talks to.
type TargetKind string

const (
	TargetNone     TargetKind = "none"
	TargetAgentLog TargetKind = "agent_log"
	TargetChat     TargetKind = "chat"
)

// Valid reports whether k is one of the known kinds.
func (k TargetKind) Valid() bool {
	switch k {
	case TargetNone, TargetAgentLog, TargetChat:
		return true
	}
	return false
}

var (
	ErrInvalidKey      = errors.New("invalid connection key")
	ErrUnknownEndpoint = errors.New("no endpoint configured for target kind")
)

// ConnectionKey is the identity of one shared connection. It is a
// comparable value and is used directly as a map key.
type ConnectionKey struct {
	Namespace string     `json:"namespace"`
	Kind      TargetKind `json:"kind"`
	Name      string     `json:"name"`
}

// ChatKey builds the key of a chat room.
func ChatKey(namespace, room string) ConnectionKey {
	return ConnectionKey{Namespace: namespace, Kind: TargetChat, Name: room}
}

// AgentLogKey builds the key of an agent's log stream.
func AgentLogKey(namespace, agent string) ConnectionKey {
	return ConnectionKey{Namespace: namespace, Kind: TargetAgentLog, Name: agent}
}

// String renders the key as namespace/kind/name.
func (k ConnectionKey) String() string {
	return k.Namespace + "/" + string(k.Kind) + "/" + k.Name
}

// Validate checks that the key can be turned into an endpoint.
func (k ConnectionKey) Validate() error {
	if strings.TrimSpace(k.Namespace) == "" {
		return fmt.Errorf("%w: empty namespace", ErrInvalidKey)
	}
	if !k.Kind.Valid() {
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidKey, k.Kind)
	}
	if k.Kind != TargetNone && strings.TrimSpace(k.Name) == "" {
		return fmt.Errorf("%w: empty target name for kind %s", ErrInvalidKey, k.Kind)
	}
	return nil
}

// Endpoints derives WebSocket URLs from connection keys. Paths may contain
// the placeholders {namespace} and {name}.
type Endpoints struct {
	Origin       string
	ChatPath     string
	AgentLogPath string
	NonePath     string
}

// DefaultEndpoints returns the gateway's standard path layout.
func DefaultEndpoints(origin string) Endpoints {
	return Endpoints{
		Origin:       origin,
		ChatPath:     "/ws/chat/{namespace}/{name}",
		AgentLogPath: "/ws/agents/{namespace}/{name}/logs",
		NonePath:     "/ws/{namespace}",
	}
}

// URL builds the endpoint for key with token appended as a query parameter.
// The result is opaque to callers and must not be logged.
func (e Endpoints) URL(key ConnectionKey, token string) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}

	var tmpl string
	switch key.Kind {
	case TargetChat:
		tmpl = e.ChatPath
	case TargetAgentLog:
		tmpl = e.AgentLogPath
	case TargetNone:
		tmpl = e.NonePath
	}
	if tmpl == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownEndpoint, key.Kind)
	}

	base, err := url.Parse(strings.TrimRight(e.Origin, "/"))
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	switch base.Scheme {
	case "ws", "wss":
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", base.Scheme)
	}

	path := strings.NewReplacer(
		"{namespace}", url.PathEscape(key.Namespace),
		"{name}", url.PathEscape(key.Name),
	).Replace(tmpl)

	u, err := base.Parse(base.Path + path)
	if err != nil {
		return "", fmt.Errorf("build endpoint path: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
