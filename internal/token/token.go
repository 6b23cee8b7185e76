// Package token implements the signed claim-set codec.  Tokens are JWTs
// signed with an asymmetric RSA key pair: services that only consume
// tokens hold just the public key.
package token

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes the two issued token types.
type Kind string

const (
	Access  Kind = "access"  // short-lived, authenticates requests
	Refresh Kind = "refresh" // long-lived, only exchangeable for new pairs
)

// Default lifetimes, overridable per kind through the codec constructor.
var defaultLifetimes = map[Kind]time.Duration{
	Access:  5 * time.Minute,
	Refresh: 10 * 24 * time.Hour,
}

// Decode failure modes.  Expiry is kept separate so callers can offer a
// refresh flow; everything else is indistinguishable to clients.
var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrMalformed        = errors.New("token: malformed token")
	ErrExpired          = errors.New("token: expired")
)

// User is the minimal user projection embedded in claims.
type User struct {
	ID          uint64 `json:"id"`
	UUID        string `json:"uuid"`
	IsSuperuser bool   `json:"isSuperuser"`
}

// Claims is the decoded payload of a token.
type Claims struct {
	Kind Kind `json:"kind"`
	User User `json:"user"`
	jwt.RegisteredClaims
}

const signingMethod = "RS256"

// Codec signs and verifies claim sets.
type Codec struct {
	private   *rsa.PrivateKey // nil for consumer-only codecs
	public    *rsa.PublicKey
	lifetimes map[Kind]time.Duration
}

// NewCodec parses PEM-encoded keys and builds a codec.  privatePEM may be
// empty for verify-only use.  Lifetime overrides are merged over the
// defaults per kind.
func NewCodec(privatePEM, publicPEM string, overrides map[Kind]time.Duration) (*Codec, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
	if err != nil {
		return nil, err
	}
	var priv *rsa.PrivateKey
	if privatePEM != "" {
		priv, err = jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
		if err != nil {
			return nil, err
		}
	}
	return NewCodecFromKeys(priv, pub, overrides), nil
}

// NewCodecFromKeys builds a codec from already parsed keys.
func NewCodecFromKeys(priv *rsa.PrivateKey, pub *rsa.PublicKey, overrides map[Kind]time.Duration) *Codec {
	lifetimes := make(map[Kind]time.Duration, len(defaultLifetimes))
	for k, v := range defaultLifetimes {
		lifetimes[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			lifetimes[k] = v
		}
	}
	return &Codec{private: priv, public: pub, lifetimes: lifetimes}
}

// Lifetime reports the configured lifetime for a token kind.
func (c *Codec) Lifetime(kind Kind) time.Duration { return c.lifetimes[kind] }

// NewClaims builds a claim set for the user: issued-at = now, expiry =
// now + lifetime for the kind.  Expiry is fixed at issuance; Decode only
// re-checks the claim against the clock.
func (c *Codec) NewClaims(u User, kind Kind, now time.Time) Claims {
	return Claims{
		Kind: kind,
		User: u,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetimes[kind])),
		},
	}
}

// Encode serializes and signs the claims with the private key.
func (c *Codec) Encode(claims Claims) (string, error) {
	if c.private == nil {
		return "", errors.New("token: codec has no private key")
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.private)
}

// Decode verifies the signature and expiry and returns the claims.
// Failures map onto ErrExpired, ErrInvalidSignature or ErrMalformed.
func (c *Codec) Decode(raw string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return c.public, nil
	}, jwt.WithValidMethods([]string{signingMethod}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSignature
		default:
			return Claims{}, ErrMalformed
		}
	}
	return claims, nil
}
