package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AuthSource selects where the auth consumer looks for the access token.
type AuthSource string

const (
	AuthCookie         AuthSource = "cookie"
	AuthHeader         AuthSource = "header"
	AuthCookieOrHeader AuthSource = "cookie_or_header"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The signing keys are PEM blocks; multi-line
// values may be provided with literal `\n` escapes, which are unescaped
// during loading.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	PrivateKeyPEM string        // RSA private key used to sign tokens (issuer only)
	PublicKeyPEM  string        // RSA public key used to verify tokens
	AccessTTL     time.Duration // access token lifetime (0 = codec default)
	RefreshTTL    time.Duration // refresh token lifetime (0 = codec default)

	CookieSecure bool   // Secure flag on the auth cookie
	CookiePath   string // path scope of the auth cookie

	AuthSources AuthSource    // token extraction strategy
	BcryptCost  int           // bcrypt cost for password hashing
	TempCodeTTL time.Duration // lifetime of account activation codes

	AMQPURL string // RabbitMQ connection string for the mailer (optional)
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file is honoured when present.  Required variables are
// enforced by must() and missing values cause the program to exit with a
// fatal log message.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  must("APP_ENV"),
		Port: must("APP_PORT"),

		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"), // empty allowed
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		PrivateKeyPEM: unescapePEM(os.Getenv("JWT_PRIVATE_KEY")),
		PublicKeyPEM:  unescapePEM(must("JWT_PUBLIC_KEY")),
		AccessTTL:     envDur("ACCESS_TOKEN_TTL", 0),
		RefreshTTL:    envDur("REFRESH_TOKEN_TTL", 0),

		CookieSecure: envBool("COOKIE_SECURE", true),
		CookiePath:   envStr("COOKIE_PATH", "/api"),

		AuthSources: authSource(envStr("AUTH_SOURCES", string(AuthCookie))),
		BcryptCost:  envInt("BCRYPT_COST", 12),
		TempCodeTTL: envDur("TEMP_CODE_TTL", 24*time.Hour),

		AMQPURL: os.Getenv("AMQP_URL"),
	}
}

// unescapePEM turns a single-line env value into a proper PEM block.  Keys
// are usually exported into the environment with `\n` in place of real
// newlines; quoted values are also tolerated.
func unescapePEM(v string) string {
	v = strings.Trim(strings.TrimSpace(v), `'"`)
	return strings.ReplaceAll(v, `\n`, "\n")
}

func authSource(v string) AuthSource {
	switch AuthSource(strings.ToLower(v)) {
	case AuthHeader:
		return AuthHeader
	case AuthCookieOrHeader:
		return AuthCookieOrHeader
	default:
		return AuthCookie
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
