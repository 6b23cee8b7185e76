package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/apikit-go/apikit/internal/config"
	"github.com/apikit-go/apikit/internal/model"
)

func rateContext(t *testing.T) echo.Context {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/users")
	return c
}

func TestRateKeyDefaultHasNoUserPart(t *testing.T) {
	cfg := config.LoadRateLimitConfig()
	key := rateKey(cfg, rateContext(t))

	assert.True(t, strings.HasPrefix(key, cfg.Prefix+":"))
	assert.Contains(t, key, "ip:10.0.0.9")
	assert.Contains(t, key, "route:GET /v1/users")
	// the guard has not run on globally mounted routes, a user part
	// would bucket every caller together as anonymous
	assert.NotContains(t, key, "user:")
}

func TestRateKeyUserPartReadsGuardPrincipal(t *testing.T) {
	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}

	anon := rateContext(t)
	assert.Contains(t, rateKey(cfg, anon), "user:anon")

	authed := rateContext(t)
	authed.Set(ContextUser, &model.User{ID: 7})
	assert.Contains(t, rateKey(cfg, authed), "user:7")
}

func TestRateKeyUnknownStrategyFallsBack(t *testing.T) {
	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "bogus"}
	key := rateKey(cfg, rateContext(t))

	assert.Contains(t, key, "ip:10.0.0.9")
	assert.Contains(t, key, "route:GET /v1/users")
	assert.NotContains(t, key, "user:")
}
