package repository

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/apikit-go/apikit/internal/model"
)

// disabledPrefix marks a password hash that can never verify. Accounts
// whose password was set to the empty string carry it and cannot log in
// with a password at all.
const disabledPrefix = "!"

const saltLen = 50

// fakePassword mixes the plain password with the change timestamp and the
// per-user salt so that rotating either invalidates every token and hash
// derived from the old value.
func fakePassword(password string, changedAt time.Time, salt string) string {
	return password + strconv.FormatInt(changedAt.Unix(), 10) + salt
}

// hashInput compresses the fake password to a fixed 64 hex characters.
// bcrypt silently truncates input beyond 72 bytes, which would make long
// passwords collide; hashing first keeps the whole input significant.
func hashInput(password string, changedAt time.Time, salt string) []byte {
	sum := sha256.Sum256([]byte(fakePassword(password, changedAt, salt)))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}

func randomHex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}

// SetPassword rotates the user's salt and change timestamp and stores a
// bcrypt hash of the derived input. An empty password disables password
// login: a random throwaway value is hashed and the stored hash is
// prefixed so VerifyPassword always fails for it.
func SetPassword(u *model.User, password string, cost int) error {
	salt, err := randomHex(saltLen)
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	now := time.Now().UTC().Truncate(time.Second)

	disabled := password == ""
	if disabled {
		password, err = randomHex(30)
		if err != nil {
			return fmt.Errorf("generate placeholder: %w", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword(hashInput(password, now, salt), cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	u.PasswordSalt = salt
	u.PasswordChangeAt = now
	u.PasswordHash = string(hash)
	if disabled {
		u.PasswordHash = disabledPrefix + u.PasswordHash
	}
	return nil
}

// VerifyPassword reports whether the plain password matches the user's
// stored hash. Disabled hashes never match.
func VerifyPassword(u *model.User, password string) bool {
	if len(u.PasswordHash) > 0 && u.PasswordHash[:1] == disabledPrefix {
		return false
	}
	err := bcrypt.CompareHashAndPassword(
		[]byte(u.PasswordHash),
		hashInput(password, u.PasswordChangeAt, u.PasswordSalt),
	)
	return err == nil
}
