package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"

	defaultAuthTimeout = 10 * time.Second
)

type Config struct {
	Env            string
	ServerAddr     string
	DatabaseDriver string
	DatabaseDSN    string
	RedisURL       string
	SigningKey     []byte
	AllowedOrigins []string
	AuthTimeout    time.Duration
	// NotifyJoiner controls whether the joining session also receives its own
	// "has joined" notice.
	NotifyJoiner bool
}

// Params holds the raw, unvalidated configuration values, usually taken
// from command-line flags.
type Params struct {
	Env            string
	ServerAddr     string
	DatabaseDriver string
	DatabaseDSN    string
	RedisURL       string
	SigningKey     string
	AllowedOrigins []string
	// AuthTimeout and NotifyJoiner are parsed by NewConfig; empty means
	// the default.
	AuthTimeout  string
	NotifyJoiner string
}

// LoadEnv loads a .env file from the working directory if there is one.
// Values already present in the environment are never overridden.
func LoadEnv() {
	_ = godotenv.Load()
}

// Getenv returns the value of the environment variable key, or fallback
// if it is unset or empty.
func Getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SplitList splits a comma-separated list and drops empty entries.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if p.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	driver := p.DatabaseDriver
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSqlite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if p.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}
	if len(signingKey) < 16 {
		return nil, fmt.Errorf("signing secret must be at least 16 bytes, got %d", len(signingKey))
	}

	authTimeout := defaultAuthTimeout
	if p.AuthTimeout != "" {
		authTimeout, err = time.ParseDuration(p.AuthTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse auth timeout: %w", err)
		}
		if authTimeout <= 0 {
			return nil, fmt.Errorf("auth timeout must be positive, got %s", authTimeout)
		}
	}

	notifyJoiner := true
	if p.NotifyJoiner != "" {
		notifyJoiner, err = strconv.ParseBool(p.NotifyJoiner)
		if err != nil {
			return nil, fmt.Errorf("parse notify joiner: %w", err)
		}
	}

	env := p.Env
	if env == "" {
		env = "development"
	}

	return &Config{
		Env:            env,
		ServerAddr:     p.ServerAddr,
		DatabaseDriver: driver,
		DatabaseDSN:    p.DatabaseDSN,
		RedisURL:       p.RedisURL,
		SigningKey:     signingKey,
		AllowedOrigins: p.AllowedOrigins,
		AuthTimeout:    authTimeout,
		NotifyJoiner:   notifyJoiner,
	}, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
