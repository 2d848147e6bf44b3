package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/storefront-core/internal/common"
)

// LogConfig selects the log encoding and threshold.
type LogConfig struct {
	Format  string
	Level   string
	Service string
	Env     string
	Out     io.Writer
}

// NewLogger configures a zerolog logger. Format "console" or "text" selects the
// human readable writer; anything else emits JSON.
func NewLogger(cfg LogConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.Out != nil {
		out = cfg.Out
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	lc := zerolog.New(out).Level(lvl).With().Timestamp()
	if cfg.Service != "" {
		lc = lc.Str("service", cfg.Service)
	}
	if cfg.Env != "" {
		lc = lc.Str("env", cfg.Env)
	}
	return lc.Logger()
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// RequestLogger puts a request-scoped logger on the context and emits one
// access line when the handler returns. Fields added to that logger downstream,
// such as user_id from the auth middleware, show up on the access line.
type RequestLogger struct {
	Logger zerolog.Logger
}

func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lc := l.Logger.With().Str("request_id", middleware.GetReqID(r.Context()))
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			lc = lc.Str("trace_id", sc.TraceID().String())
		}
		if sid := strings.TrimSpace(r.Header.Get("X-Cart-Session")); sid != "" {
			lc = lc.Str("cart_session", sid)
		}
		base := lc.Logger()
		r = r.WithContext(base.WithContext(r.Context()))
		// WithContext stores a copy; log through that copy so downstream
		// UpdateContext calls are reflected here.
		reqLogger := zerolog.Ctx(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)

		status := statusOf(ww)
		lvl := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			lvl = zerolog.ErrorLevel
		} else if status >= http.StatusBadRequest {
			lvl = zerolog.WarnLevel
		}
		reqLogger.WithLevel(lvl).Str("method", r.Method).
			Str("route", routeLabel(r)).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(began)).
			Int("bytes", ww.BytesWritten()).
			Str("client_ip", common.ClientIP(r)).
			Msg("http_request")
	})
}
