package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pingpair/webpush"
)

// Config holds the push sender configuration, read from an optional YAML
// file and then overridden by the environment.
type Config struct {
	VAPID struct {
		PublicKey  string `yaml:"public_key"`
		PrivateKey string `yaml:"private_key"`
		Subject    string `yaml:"subject"`
	} `yaml:"vapid"`
	Push struct {
		TTL     time.Duration `yaml:"ttl"`
		Topic   string        `yaml:"topic,omitempty"`
		Urgency string        `yaml:"urgency,omitempty"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"push"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ListenAddr string `yaml:"listen_addr"`
}

func defaults() *Config {
	var cfg Config
	cfg.Push.TTL = 24 * time.Hour
	cfg.Push.Timeout = 10 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.ListenAddr = ":8080"
	return &cfg
}

// Load loads configuration and performs basic validation. path may be
// empty, in which case only the environment (and a .env file) is used.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.VAPID.PublicKey = getEnv("VAPID_PUBLIC_KEY", c.VAPID.PublicKey)
	c.VAPID.PrivateKey = getEnv("VAPID_PRIVATE_KEY", c.VAPID.PrivateKey)
	c.VAPID.Subject = getEnv("VAPID_SUBJECT", c.VAPID.Subject)
	c.Push.Topic = getEnv("PUSH_TOPIC", c.Push.Topic)
	c.Push.Urgency = getEnv("PUSH_URGENCY", c.Push.Urgency)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)

	var errs []error
	var err error
	if c.Push.TTL, err = getEnvAsTTL("PUSH_TTL", c.Push.TTL); err != nil {
		errs = append(errs, err)
	}
	if c.Push.Timeout, err = getEnvAsDuration("PUSH_TIMEOUT", c.Push.Timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) validate() error {
	var missing []string
	if c.VAPID.PublicKey == "" {
		missing = append(missing, "VAPID_PUBLIC_KEY")
	}
	if c.VAPID.PrivateKey == "" {
		missing = append(missing, "VAPID_PRIVATE_KEY")
	}
	if c.VAPID.Subject == "" {
		missing = append(missing, "VAPID_SUBJECT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	if c.Push.TTL < 0 {
		return fmt.Errorf("config: negative push ttl %v", c.Push.TTL)
	}
	return nil
}

// Identity parses the configured VAPID keypair.
func (c *Config) Identity() (*webpush.Identity, error) {
	return webpush.ParseIdentity(c.VAPID.PublicKey, c.VAPID.PrivateKey, c.VAPID.Subject)
}

// ClientConfig builds the webpush.Config for this configuration.
func (c *Config) ClientConfig(log *slog.Logger) (webpush.Config, error) {
	id, err := c.Identity()
	if err != nil {
		return webpush.Config{}, err
	}
	return webpush.Config{
		Client:   &http.Client{Timeout: c.Push.Timeout},
		Identity: id,
		TTL:      c.Push.TTL,
		Topic:    c.Push.Topic,
		Urgency:  webpush.Urgency(c.Push.Urgency),
		Logger:   log,
	}, nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsDuration(key string, def time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// getEnvAsTTL accepts plain seconds, the unit of the TTL header, as well as
// Go durations.
func getEnvAsTTL(key string, def time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return getEnvAsDuration(key, def)
}
