package token

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, overrides map[Kind]time.Duration) *Codec {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewCodecFromKeys(key, &key.PublicKey, overrides)
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	c := newTestCodec(t, nil)
	u := User{ID: 7, UUID: "u-7", IsSuperuser: true}

	raw, err := c.Encode(c.NewClaims(u, Access, time.Now()))
	require.NoError(t, err)

	claims, err := c.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Access, claims.Kind)
	assert.Equal(t, u, claims.User)
}

func TestLifetimes(t *testing.T) {
	c := newTestCodec(t, nil)
	assert.Equal(t, 5*time.Minute, c.Lifetime(Access))
	assert.Equal(t, 10*24*time.Hour, c.Lifetime(Refresh))

	c = newTestCodec(t, map[Kind]time.Duration{Access: time.Hour, Refresh: 0})
	assert.Equal(t, time.Hour, c.Lifetime(Access))
	// zero override keeps the default
	assert.Equal(t, 10*24*time.Hour, c.Lifetime(Refresh))
}

func TestDecodeExpired(t *testing.T) {
	c := newTestCodec(t, nil)
	issued := time.Now().Add(-time.Hour)

	raw, err := c.Encode(c.NewClaims(User{ID: 1}, Access, issued))
	require.NoError(t, err)

	_, err = c.Decode(raw)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestDecodeMalformed(t *testing.T) {
	c := newTestCodec(t, nil)
	for _, raw := range []string{"", "garbage", "a.b.c"} {
		_, err := c.Decode(raw)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", raw)
	}
}

func TestDecodeWrongKey(t *testing.T) {
	issuer := newTestCodec(t, nil)
	verifier := newTestCodec(t, nil)

	raw, err := issuer.Encode(issuer.NewClaims(User{ID: 1}, Access, time.Now()))
	require.NoError(t, err)

	_, err = verifier.Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestClaimsExpiryFixedAtIssuance(t *testing.T) {
	c := newTestCodec(t, map[Kind]time.Duration{Access: time.Minute})
	now := time.Now()
	claims := c.NewClaims(User{ID: 1}, Access, now)

	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.Equal(t, time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}
