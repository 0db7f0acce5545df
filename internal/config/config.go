package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string

	NatsHost string
	NatsPort string

	ApiPort    string
	ApiEnabled string

	RPCURL        string
	TokenContract string

	BillingSchedule string
}

// New loads and validates configuration from environment variables.
// Redis is optional: without AGENTFIN_REDIS_HOST the on-chain balance cache is
// simply disabled. The HTTP server is optional the same way: ApiAddr() returns
// an error when AGENTFIN_API_ENABLED != "true" and callers skip starting it.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:          os.Getenv("AGENTFIN_POSTGRES_USER"),
		DBPass:          os.Getenv("AGENTFIN_POSTGRES_PASSWORD"),
		DBHost:          os.Getenv("AGENTFIN_POSTGRES_HOST"),
		DBPort:          os.Getenv("AGENTFIN_POSTGRES_PORT"),
		DBName:          os.Getenv("AGENTFIN_POSTGRES_DB"),
		SSLMode:         os.Getenv("AGENTFIN_POSTGRES_SSLMODE"),
		RedisHost:       os.Getenv("AGENTFIN_REDIS_HOST"),
		RedisPort:       os.Getenv("AGENTFIN_REDIS_PORT"),
		NatsHost:        os.Getenv("AGENTFIN_NATS_HOST"),
		NatsPort:        os.Getenv("AGENTFIN_NATS_PORT"),
		ApiPort:         os.Getenv("AGENTFIN_API_PORT"),
		ApiEnabled:      os.Getenv("AGENTFIN_API_ENABLED"),
		RPCURL:          os.Getenv("AGENTFIN_RPC_URL"),
		TokenContract:   os.Getenv("AGENTFIN_TOKEN_CONTRACT"),
		BillingSchedule: os.Getenv("AGENTFIN_BILLING_SCHEDULE"),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: AGENTFIN_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: nats (domain events drive webhook dispatch)
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: AGENTFIN_NATS_HOST/PORT")
	}

	// Optional: redis needs both halves when enabled
	if cfg.RedisHost != "" && cfg.RedisPort == "" {
		return nil, fmt.Errorf("AGENTFIN_REDIS_PORT is required when AGENTFIN_REDIS_HOST is set")
	}

	// Every minute is frequent enough: due subscriptions are keyed on a
	// next-billing timestamp, not on the scan cadence.
	if cfg.BillingSchedule == "" {
		cfg.BillingSchedule = "@every 1m"
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error when AGENTFIN_API_ENABLED != "true"; callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("AGENTFIN_API_PORT is required when AGENTFIN_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (AGENTFIN_API_ENABLED != true)")
}
