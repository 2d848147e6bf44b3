package security

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

// HeaderPolicy is the static set of response hardening headers. API bodies
// carry carts and orders, so responses are marked uncacheable.
type HeaderPolicy struct {
	// HSTS is only emitted on TLS requests.
	HSTS              bool
	HSTSMaxAge        time.Duration
	IncludeSubdomains bool
}

var baseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

func (p HeaderPolicy) hstsValue() string {
	age := p.HSTSMaxAge
	if age <= 0 {
		age = 365 * 24 * time.Hour
	}
	v := fmt.Sprintf("max-age=%d", int64(age/time.Second))
	if p.IncludeSubdomains {
		v += "; includeSubDomains"
	}
	return v
}

func (p HeaderPolicy) Middleware(next http.Handler) http.Handler {
	hsts := ""
	if p.HSTS {
		hsts = p.hstsValue()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range baseHeaders {
			h.Set(kv[0], kv[1])
		}
		if hsts != "" && r.TLS != nil {
			h.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

// CORS admits browser clients from origins. With no origins configured any
// origin is allowed, but credentials are not.
func CORS(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Cart-Session", "X-Request-ID"},
		ExposedHeaders:   []string{"Idempotent-Replayed", "X-Request-ID", "X-Cart-Session", "X-Total-Count"},
		AllowCredentials: len(origins) > 0,
		MaxAge:           300,
	}
	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.Handler(opts)
}
