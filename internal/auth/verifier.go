// Package auth verifies bearer tokens issued by the identity service and
// attaches the caller to the request context.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/storefront-core/internal/common"
)

// Claims carried next to the subject.
const (
	ClaimEmail = "email"
	ClaimRole  = "role"
	ClaimRoles = "roles"
)

// Verifier checks HS256 access tokens and maps them to a Principal.
type Verifier struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
	Now       func() time.Time
}

// Config configures NewVerifier.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// NewVerifier returns an HS256 verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Verifier{
		Secret:    []byte(cfg.Secret),
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		ClockSkew: cfg.ClockSkew,
		Algorithm: jwa.HS256,
	}, nil
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func invalid(err error) error {
	return common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, err)
}

// Verify validates token and returns the caller it identifies.
func (v *Verifier) Verify(token string) (common.Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return common.Principal{}, common.Unauthorized("missing token")
	}
	algorithm, err := tokenAlgorithm(trimmed)
	if err != nil {
		return common.Principal{}, invalid(err)
	}
	if v.Algorithm != "" && algorithm != v.Algorithm {
		return common.Principal{}, invalid(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.Secret), jwt.WithValidate(false))
	if err != nil {
		return common.Principal{}, invalid(err)
	}
	if err := v.validate(parsed); err != nil {
		return common.Principal{}, invalid(err)
	}
	if parsed.Subject() == "" {
		return common.Principal{}, invalid(errors.New("token has no subject"))
	}
	return common.Principal{
		UserID: parsed.Subject(),
		Email:  stringClaim(parsed, ClaimEmail),
		Role:   role(parsed),
	}, nil
}

func (v *Verifier) validate(tok jwt.Token) error {
	now := v.now()
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	return jwt.Validate(tok, options...)
}

func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", fmt.Errorf("auth: expected one signature, got %d", len(signatures))
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	switch alg {
	case "":
		return "", errors.New("auth: token missing algorithm")
	case jwa.NoSignature:
		return "", errors.New("auth: token uses none algorithm")
	}
	return alg, nil
}

func stringClaim(tok jwt.Token, name string) string {
	raw, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

// role prefers the single role claim; identity services that issue a roles
// list grant admin when the list contains it.
func role(tok jwt.Token) string {
	if r := stringClaim(tok, ClaimRole); r != "" {
		return strings.ToLower(r)
	}
	raw, ok := tok.Get(ClaimRoles)
	if !ok {
		return ""
	}
	list, _ := raw.([]any)
	for _, item := range list {
		if s, ok := item.(string); ok && strings.EqualFold(s, common.RoleAdmin) {
			return common.RoleAdmin
		}
	}
	if len(list) > 0 {
		if s, ok := list[0].(string); ok {
			return strings.ToLower(s)
		}
	}
	return ""
}
