package credential

import (
	"errors"
	"os"
	"strings"
	"sync"
)

var (
	ErrCredentialMissing = errors.New("credential missing")
	ErrCredentialInvalid = errors.New("credential invalid")
)

// Provider is the external credential collaborator.
type Provider interface {
	// Token returns the current token and whether one is available.
	Token() (string, bool)
	// WellFormed reports whether token is structurally acceptable.
	WellFormed(token string) bool
}

// Resolve asks p for a token and checks it. It returns ErrCredentialMissing
// or ErrCredentialInvalid instead of a token that would be rejected by the
// remote end.
func Resolve(p Provider) (string, error) {
	if p == nil {
		return "", ErrCredentialMissing
	}
	token, ok := p.Token()
	if !ok || token == "" {
		return "", ErrCredentialMissing
	}
	if !p.WellFormed(token) {
		return "", ErrCredentialInvalid
	}
	return token, nil
}

// Static holds a token set by the host application, e.g. after login.
type Static struct {
	mu        sync.RWMutex
	token     string
	validator Validator
}

// NewStatic creates a provider holding token. A nil validator accepts any
// non-blank token without whitespace.
func NewStatic(token string, validator Validator) *Static {
	if validator == nil {
		validator = Opaque{}
	}
	return &Static{token: token, validator: validator}
}

// Set replaces the token; an empty string clears it (sign-out).
func (s *Static) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Static) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

func (s *Static) WellFormed(token string) bool {
	return s.validator.Validate(token) == nil
}

// Env reads the token from an environment variable on every call.
type Env struct {
	Name      string
	Validator Validator
}

func (e Env) Token() (string, bool) {
	v, ok := os.LookupEnv(e.Name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e Env) WellFormed(token string) bool {
	if e.Validator == nil {
		return Opaque{}.Validate(token) == nil
	}
	return e.Validator.Validate(token) == nil
}
