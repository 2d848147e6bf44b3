package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// TokenVerifier maps a bearer token to the caller.
type TokenVerifier interface {
	Verify(token string) (common.Principal, error)
}

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Verifier     TokenVerifier
	AccessCookie string
}

// Authenticate attaches the caller to the request context when a valid token
// is present. Requests without a token, or with an invalid one, continue
// anonymously.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.authenticate(r)
		if err != nil {
			if !errors.Is(err, errNoToken) {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("ignoring invalid bearer token")
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, withPrincipal(r, p))
	})
}

// withPrincipal attaches p to the request and tags the request logger so the
// access line carries the caller.
func withPrincipal(r *http.Request, p common.Principal) *http.Request {
	zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("user_id", p.UserID)
	})
	return r.WithContext(common.WithPrincipal(r.Context(), p))
}

// RequireAuth enforces that a valid token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := common.PrincipalFrom(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		p, err := m.authenticate(r)
		if err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				common.WriteError(w, appErr)
				return
			}
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, withPrincipal(r, p))
	})
}

// RequireRole allows only authenticated callers holding role.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := common.PrincipalFrom(r.Context())
			if p.Role != role {
				common.WriteError(w, common.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func (m Middleware) authenticate(r *http.Request) (common.Principal, error) {
	if m.Verifier == nil {
		return common.Principal{}, errors.New("auth: verifier not configured")
	}
	token := m.extractToken(r)
	if token == "" {
		return common.Principal{}, errNoToken
	}
	return m.Verifier.Verify(token)
}

func (m Middleware) extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if m.AccessCookie != "" {
		if cookie, err := r.Cookie(m.AccessCookie); err == nil {
			if value := strings.TrimSpace(cookie.Value); value != "" {
				return value
			}
		}
	}
	return ""
}
