package auth

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/apikit-go/apikit/internal/codes"
	"github.com/apikit-go/apikit/internal/config"
	"github.com/apikit-go/apikit/internal/token"
)

// Consumer verifies tokens extracted from incoming requests.
type Consumer struct {
	codec   *token.Codec
	sources config.AuthSource
}

func NewConsumer(codec *token.Codec, sources config.AuthSource) *Consumer {
	if sources == "" {
		sources = config.AuthCookie
	}
	return &Consumer{codec: codec, sources: sources}
}

// TokenPayload decodes a raw token, mapping codec failures to API errors:
// bad signature or structure -> invalidToken, past expiry -> expiredToken.
func (cs *Consumer) TokenPayload(raw string) (token.Claims, error) {
	claims, err := cs.codec.Decode(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return token.Claims{}, codes.ExpiredToken.Err()
		}
		return token.Claims{}, codes.InvalidToken.Err()
	}
	return claims, nil
}

// ParseToken decodes a raw token and additionally requires the access
// kind; refresh tokens must never authenticate a request directly.
func (cs *Consumer) ParseToken(raw string) (token.Claims, error) {
	claims, err := cs.TokenPayload(raw)
	if err != nil {
		return token.Claims{}, err
	}
	if claims.Kind != token.Access {
		return token.Claims{}, codes.NotAuthenticated.Err()
	}
	return claims, nil
}

// SplitAuth splits an Authorization-style value ("Bearer <token>") and
// parses the token.  A scheme mismatch is a notAuthenticated error.
func (cs *Consumer) SplitAuth(requiredScheme, value string) (token.Claims, error) {
	scheme, raw, _ := strings.Cut(value, " ")
	if !strings.EqualFold(scheme, requiredScheme) {
		return token.Claims{}, codes.NotAuthenticated.Err()
	}
	return cs.ParseToken(raw)
}

// FromRequest extracts the token value according to the configured
// strategy (cookie only, header only, or either with cookie priority) and
// parses it.  Both carriers hold the same "Bearer <token>" shape; the
// header is the Token header, not Authorization.
func (cs *Consumer) FromRequest(c echo.Context) (token.Claims, error) {
	var value string
	switch cs.sources {
	case config.AuthHeader:
		value = c.Request().Header.Get(CookieName)
	case config.AuthCookieOrHeader:
		value = cookieValue(c)
		if value == "" {
			value = c.Request().Header.Get(CookieName)
		}
	default:
		value = cookieValue(c)
	}
	if value == "" {
		return token.Claims{}, codes.NotAuthenticated.Err()
	}
	return cs.SplitAuth(BearerScheme, value)
}

func cookieValue(c echo.Context) string {
	ck, err := c.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return ck.Value
}
