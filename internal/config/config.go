package config // package config loads application configuration from environment variables

import (
	"encoding/json" // json validates the Google service-account file
	"log"           // log is used to report configuration errors and halt execution
	"os"            // os provides access to environment variables and files
	"strconv"       // strconv converts strings to other types
	"time"          // time parses duration values

	"github.com/joho/godotenv" // godotenv loads a local .env file when present
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  In production (APP_ENV=prod) required secrets
// are enforced and the process exits when one is missing; in development
// permissive localhost defaults are substituted instead.
type Config struct {
	Env       string // application environment ("dev", "test", "prod")
	Port      string // HTTP port to listen on
	ClientURL string // frontend base URL used for OAuth redirects

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	DiscordClientID     string // Discord OAuth application client id
	DiscordClientSecret string // Discord OAuth application client secret
	DiscordRedirectURI  string // OAuth callback URL registered with Discord
	DiscordBotToken     string // bot token for guild/member/role queries
	SuperadminUserID    string // Discord snowflake of the platform superadmin

	KeyDir          string        // directory holding the RSA signing keypair
	AccessTTLMin    int           // access token time-to-live in minutes
	RefreshTTLDays  int           // refresh token time-to-live in days
	AppTokenTTLDays int           // app integration token time-to-live in days
	SessionSecret   string        // key for signing the browser session cookie
	SessionTTL      time.Duration // lifetime of server-side sessions

	WebhookURL    string // outbound purchase notification endpoint (optional)
	WebhookSecret string // HMAC key for signing webhook payloads

	AMQPURL string // RabbitMQ connection URL for domain events (optional)

	AuthzCacheTTL time.Duration // authorization cache TTL; 0 keeps checks live

	SentryDSN string // Sentry DSN; empty disables error tracking

	IDPSecretKey string // identity-provider backend API key
	IDPAPIURL    string // identity-provider API base URL

	NotionToken         string        // Notion integration token
	NotionDatabaseID    string        // Notion database holding calendar events
	GoogleServiceFile   string        // path to the Google service-account JSON file
	GoogleCalendarID    string        // target Google calendar
	CalendarSyncEvery   time.Duration // interval between background sync runs
	GoogleServiceJSON   []byte        // raw service-account credentials, loaded at startup
	CalendarSyncEnabled bool          // derived: all calendar settings present
}

// Load reads configuration from the environment and returns a Config.  A
// .env file is loaded first when one exists so local development does not
// need exported variables.  Required values are enforced by must() in
// production and fall back to development defaults otherwise.
func Load() Config {
	_ = godotenv.Load()

	env := getenv("APP_ENV", "dev")
	prod := env == "prod"

	cfg := Config{
		Env:       env,
		Port:      getenv("APP_PORT", "8080"),
		ClientURL: require(prod, "CLIENT_URL", "http://localhost:3000"),

		DBUser: require(prod, "DB_USER", "root"),
		DBPass: os.Getenv("DB_PASS"), // empty allowed
		DBHost: require(prod, "DB_HOST", "localhost"),
		DBPort: require(prod, "DB_PORT", "3306"),
		DBName: require(prod, "DB_NAME", "clubsync"),

		DiscordClientID:     require(prod, "DISCORD_CLIENT_ID", "dev-client-id"),
		DiscordClientSecret: require(prod, "DISCORD_CLIENT_SECRET", "dev-client-secret"),
		DiscordRedirectURI:  require(prod, "DISCORD_REDIRECT_URI", "http://localhost:8080/api/auth/callback"),
		DiscordBotToken:     require(prod, "DISCORD_BOT_TOKEN", ""),
		SuperadminUserID:    os.Getenv("SUPERADMIN_USER_ID"),

		KeyDir:          getenv("KEY_DIR", "keys"),
		AccessTTLMin:    intenv("ACCESS_TOKEN_TTL_MIN", 30),
		RefreshTTLDays:  intenv("REFRESH_TOKEN_TTL_DAYS", 7),
		AppTokenTTLDays: intenv("APP_TOKEN_TTL_DAYS", 120),
		SessionSecret:   require(prod, "SESSION_SECRET", "dev-session-secret-not-for-prod"),
		SessionTTL:      durenv("SESSION_TTL", 24*time.Hour),

		WebhookURL:    os.Getenv("PURCHASE_WEBHOOK_URL"),
		WebhookSecret: os.Getenv("PURCHASE_WEBHOOK_SECRET"),

		AMQPURL: os.Getenv("AMQP_URL"),

		AuthzCacheTTL: durenv("AUTHZ_CACHE_TTL", 0),

		SentryDSN: os.Getenv("SENTRY_DSN"),

		IDPSecretKey: os.Getenv("IDP_SECRET_KEY"),
		IDPAPIURL:    getenv("IDP_API_URL", "https://api.clerk.com"),

		NotionToken:       os.Getenv("NOTION_TOKEN"),
		NotionDatabaseID:  os.Getenv("NOTION_DATABASE_ID"),
		GoogleServiceFile: getenv("GOOGLE_SERVICE_ACCOUNT_FILE", "google-secret.json"),
		GoogleCalendarID:  os.Getenv("GOOGLE_CALENDAR_ID"),
		CalendarSyncEvery: durenv("CALENDAR_SYNC_INTERVAL", time.Hour),
	}

	// The service-account file is optional; calendar sync is disabled when
	// it is absent or unreadable rather than failing startup.
	if cfg.NotionToken != "" && cfg.NotionDatabaseID != "" && cfg.GoogleCalendarID != "" {
		raw, err := os.ReadFile(cfg.GoogleServiceFile)
		switch {
		case err != nil:
			log.Printf("config: %s not readable, calendar sync disabled: %v", cfg.GoogleServiceFile, err)
		case !json.Valid(raw):
			log.Printf("config: %s is not valid JSON, calendar sync disabled", cfg.GoogleServiceFile)
		default:
			cfg.GoogleServiceJSON = raw
			cfg.CalendarSyncEnabled = true
		}
	}

	return cfg
}

// require returns the value of a required environment variable.  In
// production a missing value is fatal; in development def is returned.
func require(prod bool, key, def string) string {
	if prod {
		return must(key)
	}
	return getenv(key, def)
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

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intenv(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

func durenv(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", key, s)
	}
	return d
}
