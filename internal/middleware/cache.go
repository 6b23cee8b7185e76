package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/apikit-go/apikit/internal/auth"
	"github.com/apikit-go/apikit/internal/config"
)

// cachedResponse is the envelope stored in Redis for a cache hit replay.
type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// responseRecorder tees the response body up to a size limit while the
// original writer keeps serving the client.
type responseRecorder struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	overflow bool
	limit    int
}

func (w *responseRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if !w.overflow {
		if w.limit > 0 && w.buf.Len()+len(b) > w.limit {
			w.overflow = true
		} else {
			w.buf.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

// ResponseCache replays successful responses for idempotent routes out of
// Redis. Only configured methods are considered, only 200 responses are
// stored, and bodies over the configured limit are never cached. A nil
// Redis client disables the middleware entirely.
func ResponseCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cacheKey(cfg, c)

			if raw, err := rdb.Get(ctx, key).Bytes(); err == nil {
				var cr cachedResponse
				if json.Unmarshal(raw, &cr) == nil {
					replay(c, cr)
					return nil
				}
			}

			rec := &responseRecorder{
				ResponseWriter: c.Response().Writer,
				status:         http.StatusOK,
				limit:          cfg.MaxBodyBytes,
			}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}

			if rec.status != http.StatusOK || rec.overflow {
				return nil
			}
			cr := cachedResponse{
				Status: rec.status,
				Header: storableHeader(c.Response().Header()),
				Body:   rec.buf.Bytes(),
			}
			raw, err := json.Marshal(cr)
			if err != nil {
				return nil
			}
			// Detached context: the request may already be done.
			if err := rdb.Set(context.Background(), key, raw, cfg.TTL).Err(); err != nil {
				log.Warn("cache: store failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		}
	}
}

func replay(c echo.Context, cr cachedResponse) {
	h := c.Response().Header()
	for k, vals := range cr.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	h.Set("X-Cache", "HIT")
	c.Response().WriteHeader(cr.Status)
	if len(cr.Body) > 0 {
		_, _ = c.Response().Write(cr.Body)
	}
}

// cacheKey hashes the request identity parts chosen by the key strategy
// under the configured prefix. The bearer credential is always part of
// the key, whatever the strategy: the middleware runs before the auth
// guard, so without it a hit would replay one client's response to
// another.
func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	var parts []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		parts = []string{c.Path()}
	case "method_route":
		parts = []string{r.Method, c.Path()}
	case "method_route_query":
		parts = []string{r.Method, c.Path(), r.URL.RawQuery}
	default: // route_query
		parts = []string{c.Path(), r.URL.RawQuery}
	}
	parts = append(parts, credential(c))
	sum := sha1.Sum([]byte(strings.Join(parts, "\x00")))
	return cfg.Prefix + ":" + hex.EncodeToString(sum[:])
}

// credential returns the raw bearer material the request carries, empty
// for anonymous requests.
func credential(c echo.Context) string {
	if ck, err := c.Cookie(auth.CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	return c.Request().Header.Get(auth.CookieName)
}

// storableHeader clones the response header minus everything that must
// never be replayed to a later request. Set-Cookie carries session
// tokens, X-Cache is decided per request.
func storableHeader(h http.Header) http.Header {
	out := h.Clone()
	out.Del("Set-Cookie")
	out.Del("X-Cache")
	return out
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error { return next(c) }
}
