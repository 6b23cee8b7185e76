// Package auth issues and consumes authentication tokens.  The provider
// side creates token pairs and manages the auth cookie; the consumer side
// turns raw header/cookie values back into verified claims.
package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/apikit-go/apikit/internal/token"
)

// CookieName is the auth cookie; its value is "Bearer " + access token so
// the same parser handles cookies and headers.
const CookieName = "Token"

// BearerScheme is the required authorization scheme, compared
// case-insensitively.
const BearerScheme = "bearer"

// Provider issues tokens and manages the auth cookie.
type Provider struct {
	codec        *token.Codec
	cookiePath   string
	cookieSecure bool
}

func NewProvider(codec *token.Codec, cookiePath string, cookieSecure bool) *Provider {
	if cookiePath == "" {
		cookiePath = "/api"
	}
	return &Provider{codec: codec, cookiePath: cookiePath, cookieSecure: cookieSecure}
}

// Pair carries the two freshly issued tokens.
type Pair struct {
	Access  string `json:"accessToken"`
	Refresh string `json:"refreshToken"`
}

// CreateToken issues a single token of the given kind.  A zero now means
// the current time.
func (p *Provider) CreateToken(u token.User, kind token.Kind, now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now()
	}
	return p.codec.Encode(p.codec.NewClaims(u, kind, now))
}

// TokenPair issues an access/refresh pair sharing one issued-at timestamp
// so their relative expiries stay consistent.
func (p *Provider) TokenPair(u token.User) (Pair, error) {
	now := time.Now()
	access, err := p.CreateToken(u, token.Access, now)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := p.CreateToken(u, token.Refresh, now)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// SetAuthCookie issues a fresh access token and stores it in the auth
// cookie: http-only, path-scoped, max-age equal to the access lifetime.
func (p *Provider) SetAuthCookie(c echo.Context, u token.User) error {
	access, err := p.CreateToken(u, token.Access, time.Time{})
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "Bearer " + access,
		Path:     p.cookiePath,
		MaxAge:   int(p.codec.Lifetime(token.Access) / time.Second),
		HttpOnly: true,
		Secure:   p.cookieSecure,
	})
	return nil
}

// DeleteAuthCookie clears the auth cookie.  Name, path and flags must
// match the set cookie exactly or compliant clients keep the old one.
func (p *Provider) DeleteAuthCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     p.cookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.cookieSecure,
	})
}
