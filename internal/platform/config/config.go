package config

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	id "parley/pkg/domain"
	"parley/pkg/platform/middleware/metadata"
)

// envPrefix namespaces every variable, e.g. PARLEY_SERVER_ADDR.
const envPrefix = "PARLEY"

// Config is the full process configuration.
type Config struct {
	Server    Server
	Log       Log
	JWT       JWT
	Redis     RedisConfig
	Postgres  PostgresConfig
	Kafka     KafkaConfig
	Admission Admission
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	// TrustedProxies lists CIDRs or addresses whose forwarding headers are
	// believed. Empty means the peer address is the client.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`
}

// Proxies parses TrustedProxies.
func (s Server) Proxies() ([]netip.Prefix, error) {
	return metadata.ParsePrefixes(s.TrustedProxies)
}

type Log struct {
	Level          string `envconfig:"LEVEL" default:"info"`
	Format         string `envconfig:"FORMAT" default:"json"`
	RequestLogPath string `envconfig:"REQUEST_LOG_PATH" default:"requests.log"`
}

type JWT struct {
	// Use a default for development; must be overridden in production.
	SigningKey string `envconfig:"SIGNING_KEY" default:"dev-secret-key-change-in-production"`
	Issuer     string `envconfig:"ISSUER" default:"parley"`
	Audience   string `envconfig:"AUDIENCE" default:"parley-api"`
}

// RedisConfig backs the distributed rate limiter. An empty URL selects the
// in-memory bucket store.
type RedisConfig struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// PostgresConfig backs the message store. An empty DSN selects the in-memory
// store.
type PostgresConfig struct {
	DSN             string        `envconfig:"DSN"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	TxTimeout       time.Duration `envconfig:"TX_TIMEOUT" default:"5s"`
}

// KafkaConfig enables the post-commit notification publisher when Brokers is
// non-empty.
type KafkaConfig struct {
	Brokers           []string `envconfig:"BROKERS"`
	Topic             string   `envconfig:"TOPIC" default:"parley.notifications"`
	Partitions        int32    `envconfig:"PARTITIONS" default:"1"`
	ReplicationFactor int16    `envconfig:"REPLICATION_FACTOR" default:"1"`
}

// Admission configures the request interceptor chain.
type Admission struct {
	WindowPath       string        `envconfig:"WINDOW_PATH" default:"/api/messages"`
	WindowStartHour  int           `envconfig:"WINDOW_START_HOUR" default:"18"`
	WindowEndHour    int           `envconfig:"WINDOW_END_HOUR" default:"22"`
	TimeZone         string        `envconfig:"TIME_ZONE" default:"UTC"`
	RateLimitPath    string        `envconfig:"RATE_LIMIT_PATH" default:"/api/messages"`
	RateLimitMethods []string      `envconfig:"RATE_LIMIT_METHODS" default:"POST"`
	RateLimit        int           `envconfig:"RATE_LIMIT" default:"5"`
	RatePeriod       time.Duration `envconfig:"RATE_PERIOD" default:"60s"`
	RolePath         string        `envconfig:"ROLE_PATH" default:"/api/messages"`
	CriticalMethod   string        `envconfig:"CRITICAL_METHOD" default:"DELETE"`
	AllowedRoles     []string      `envconfig:"ALLOWED_ROLES" default:"admin,moderator"`
}

// Location resolves the configured reference time zone.
func (a Admission) Location() (*time.Location, error) {
	return time.LoadLocation(a.TimeZone)
}

// Roles parses the configured allow-list.
func (a Admission) Roles() ([]id.Role, error) {
	roles := make([]id.Role, 0, len(a.AllowedRoles))
	for _, raw := range a.AllowedRoles {
		role, err := id.ParseRole(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("admission allowed role %q: %w", raw, err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Load reads an optional .env file, then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		// Missing files are fine; the environment may already be populated.
		_ = godotenv.Load(envFiles...)
	}
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces cross-field invariants envconfig cannot express.
func (c *Config) Validate() error {
	if _, err := c.Server.Proxies(); err != nil {
		return fmt.Errorf("server trusted proxies: %w", err)
	}
	a := c.Admission
	if a.WindowStartHour < 0 || a.WindowStartHour > 23 || a.WindowEndHour < 0 || a.WindowEndHour > 24 {
		return fmt.Errorf("admission window hours out of range: [%d, %d)", a.WindowStartHour, a.WindowEndHour)
	}
	if a.WindowStartHour == a.WindowEndHour {
		return fmt.Errorf("admission window is empty: [%d, %d)", a.WindowStartHour, a.WindowEndHour)
	}
	if _, err := a.Location(); err != nil {
		return fmt.Errorf("admission time zone: %w", err)
	}
	if a.RateLimit <= 0 {
		return fmt.Errorf("admission rate limit must be positive, got %d", a.RateLimit)
	}
	if a.RatePeriod <= 0 {
		return fmt.Errorf("admission rate period must be positive, got %s", a.RatePeriod)
	}
	for _, m := range append([]string{a.CriticalMethod}, a.RateLimitMethods...) {
		if !isHTTPMethod(m) {
			return fmt.Errorf("admission method %q is not an HTTP method", m)
		}
	}
	if _, err := a.Roles(); err != nil {
		return err
	}
	return nil
}

func isHTTPMethod(m string) bool {
	switch strings.ToUpper(m) {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}
