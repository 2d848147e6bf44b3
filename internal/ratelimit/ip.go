package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/storefront-core/internal/common"
)

// NewRedisStore backs the per-IP limiter with Redis so limits hold across replicas.
func NewRedisStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// PerIP returns a fixed-window limiter keyed by client IP. rate uses the
// "<limit>-<period>" form, for example "300-M". Store errors let the request
// through.
func PerIP(store limiter.Store, rate string, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	lim := limiter.New(store, parsed)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := common.ClientIP(r)
			lc, err := lim.Get(r.Context(), ip)
			if err != nil {
				logger.Warn().Err(err).Str("client_ip", ip).Msg("ip rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			d := Decision{
				Allowed:   !lc.Reached,
				Limit:     int(lc.Limit),
				Remaining: int(lc.Remaining),
				ResetAt:   time.Unix(lc.Reset, 0),
			}
			writeHeaders(w, d)
			if !d.Allowed {
				reject(w, d.ResetAt)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
