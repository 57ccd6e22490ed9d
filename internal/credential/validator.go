package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validator checks the shape of a token without contacting anyone.
type Validator interface {
	Validate(token string) error
}

// Opaque accepts any non-blank token that contains no whitespace, which
// would corrupt the endpoint query string.
type Opaque struct{}

func (Opaque) Validate(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrCredentialMissing
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return fmt.Errorf("%w: contains whitespace", ErrCredentialInvalid)
	}
	return nil
}

// JWTValidator accepts structurally valid JWTs that have not expired. The
// signature is not verified here; the gateway does that on connect.
type JWTValidator struct {
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
	// Now is used for expiry checks; nil means time.Now.
	Now func() time.Time
}

func (v JWTValidator) Validate(token string) error {
	if err := (Opaque{}).Validate(token); err != nil {
		return err
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	if exp != nil && now().After(exp.Add(v.Leeway)) {
		return fmt.Errorf("%w: %v", ErrCredentialInvalid, jwt.ErrTokenExpired)
	}
	nbf, err := claims.GetNotBefore()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	if nbf != nil && now().Add(v.Leeway).Before(nbf.Time) {
		return fmt.Errorf("%w: %v", ErrCredentialInvalid, jwt.ErrTokenNotValidYet)
	}
	return nil
}

// IsCredentialError reports whether err is one of the credential errors.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrCredentialMissing) || errors.Is(err, ErrCredentialInvalid)
}
