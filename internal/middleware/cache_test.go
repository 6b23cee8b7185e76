package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apikit-go/apikit/internal/auth"
	"github.com/apikit-go/apikit/internal/config"
)

func cacheContext(t *testing.T, target string, mutate func(*http.Request)) echo.Context {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if mutate != nil {
		mutate(req)
	}
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/users")
	return c
}

// Responses may be stored before the auth guard runs, so a key that
// ignores the caller's credential would replay one user's data to the
// next. The credential is part of the key under every strategy.
func TestCacheKeySeparatesCredentials(t *testing.T) {
	cfg := config.LoadCacheConfig()

	anon := cacheKey(cfg, cacheContext(t, "/v1/users", nil))
	userA := cacheKey(cfg, cacheContext(t, "/v1/users", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "Bearer token-a"})
	}))
	userARepeat := cacheKey(cfg, cacheContext(t, "/v1/users", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "Bearer token-a"})
	}))
	userB := cacheKey(cfg, cacheContext(t, "/v1/users", func(r *http.Request) {
		r.Header.Set(auth.CookieName, "Bearer token-b")
	}))

	assert.Equal(t, userA, userARepeat)
	assert.NotEqual(t, anon, userA)
	assert.NotEqual(t, userA, userB)
	assert.NotEqual(t, anon, userB)
}

func TestCacheKeyStrategies(t *testing.T) {
	plain := cacheContext(t, "/v1/users?limit=5", nil)
	for _, strategy := range []string{"route", "method_route", "method_route_query", "route_query"} {
		cfg := config.CacheConfig{KeyStrategy: strategy, Prefix: "cache"}
		key := cacheKey(cfg, plain)
		assert.Equal(t, key, cacheKey(cfg, plain), strategy)
	}

	// query participates unless the strategy says otherwise
	routeOnly := config.CacheConfig{KeyStrategy: "route", Prefix: "cache"}
	assert.Equal(t,
		cacheKey(routeOnly, plain),
		cacheKey(routeOnly, cacheContext(t, "/v1/users?limit=9", nil)))
	withQuery := config.CacheConfig{KeyStrategy: "route_query", Prefix: "cache"}
	assert.NotEqual(t,
		cacheKey(withQuery, plain),
		cacheKey(withQuery, cacheContext(t, "/v1/users?limit=9", nil)))
}

func TestStorableHeaderDropsSessionMaterial(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Cache", "MISS")
	h.Add("Set-Cookie", `Token="Bearer secret"; Path=/api; HttpOnly`)

	stored := storableHeader(h)
	assert.Empty(t, stored.Values("Set-Cookie"))
	assert.Empty(t, stored.Get("X-Cache"))
	assert.Equal(t, "application/json", stored.Get("Content-Type"))

	// the live response header is left alone
	require.Len(t, h.Values("Set-Cookie"), 1)
}
