package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverSQLite  = "sqlite"
	DriverBadger  = "badger"
	DriverSurreal = "surreal"
)

// Provider is the read-only view of configuration handed to the database layer.
type Provider interface {
	GetDBURL() string
	GetDBUser() string
	GetDBPass() string
	GetDBNs() string
	GetDBDb() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	AppVersion string `env:"APP_VERSION" envDefault:"dev"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"relay.db"`
	BadgerPath  string `env:"BADGER_PATH" envDefault:"data/badger"`

	DBUrl            string        `env:"SURREAL_URL"`
	DBUser           string        `env:"SURREAL_USER"`
	DBPass           string        `env:"SURREAL_PASS"`
	DBNs             string        `env:"SURREAL_NS"`
	DBDb             string        `env:"SURREAL_DB"`
	DBQueryTimeout   time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"5s"`
	DBExecuteTimeout time.Duration `env:"DB_EXECUTE_TIMEOUT" envDefault:"10s"`

	SessionSecret string `env:"SESSION_SECRET" envDefault:"dev-secret-change-me"`
	SessionName   string `env:"SESSION_NAME" envDefault:"relay_session"`
	DemoUserID    string `env:"DEMO_USER_ID" envDefault:"demo-user"`

	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"20s"`
	HeartbeatMaxMissed   int           `env:"HEARTBEAT_MAX_MISSED" envDefault:"2"`
	HeartbeatPingTimeout time.Duration `env:"HEARTBEAT_PING_TIMEOUT" envDefault:"10s"`

	WSSendBuffer     int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	WSWriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	WSReadLimit      int64         `env:"WS_READ_LIMIT" envDefault:"65536"`
	WSAllowedOrigins []string      `env:"WS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	EchoToSenderDevices bool `env:"ECHO_TO_SENDER_DEVICES" envDefault:"false"`
	RateLimitPerMinute  int  `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`

	TracingEnabled     bool   `env:"PUBSUB_TRACING_ENABLED" envDefault:"false"`
	TracingServiceName string `env:"PUBSUB_TRACING_SERVICE_NAME" envDefault:"relay"`
	TracingZipkinURL   string `env:"PUBSUB_TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans"`
}

// New loads configuration from a .env file (when present) and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return Parse()
}

// Parse reads configuration from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case DriverSQLite, DriverBadger:
	case DriverSurreal:
		if c.DBUrl == "" || c.DBNs == "" || c.DBDb == "" {
			return fmt.Errorf("STORE_DRIVER=surreal requires SURREAL_URL, SURREAL_NS and SURREAL_DB")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatMaxMissed < 1 {
		return fmt.Errorf("HEARTBEAT_MAX_MISSED must be at least 1, got %d", c.HeartbeatMaxMissed)
	}
	if c.WSSendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be at least 1, got %d", c.WSSendBuffer)
	}
	return nil
}

func (c *Config) GetDBURL() string { return c.DBUrl }
func (c *Config) GetDBUser() string { return c.DBUser }
func (c *Config) GetDBPass() string { return c.DBPass }
func (c *Config) GetDBNs() string { return c.DBNs }
func (c *Config) GetDBDb() string { return c.DBDb }
func (c *Config) GetDBQueryTimeout() time.Duration { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration { return c.DBExecuteTimeout }
