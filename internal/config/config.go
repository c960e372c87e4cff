package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/artist-platform/internal/pricing"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	SMTP     SMTPConfig
	Notify   NotifyConfig
	Pricing  pricing.Rates
}

type AppConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string `json:"-"`
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig enables the Redis-backed notification queue when URL is set.
type RedisConfig struct {
	URL string `json:"-"`
}

// KafkaConfig enables order event publishing when Brokers is not empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// SMTPConfig enables e-mail delivery when Host is set.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string `json:"-"`
	From     string
}

type NotifyConfig struct {
	QueueKey  string
	QueueSize int
	Workers   int
}

// NewConfig reads the configuration from the environment, after loading an
// optional .env file from the working directory.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.Env = getEnv("APP_ENV", "development")
	cfg.App.LogLevel = getEnv("LOG_LEVEL", "info")

	cfg.Postgres.Host = os.Getenv("DB_HOST")
	if cfg.Postgres.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	cfg.Postgres.Port = getEnv("DB_PORT", "5432")
	cfg.Postgres.User = os.Getenv("DB_USER")
	if cfg.Postgres.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	cfg.Postgres.Password = os.Getenv("DB_PASSWORD")
	cfg.Postgres.DBName = os.Getenv("DB_NAME")
	if cfg.Postgres.DBName == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getEnv("DB_MIGRATIONS_PATH", "migrations")

	maxConns, err := getInt("DB_MAX_CONNS", 10)
	errs = appendErr(errs, err)
	minConns, err := getInt("DB_MIN_CONNS", 2)
	errs = appendErr(errs, err)
	cfg.Postgres.MaxConns = int32(maxConns)
	cfg.Postgres.MinConns = int32(minConns)

	cfg.Postgres.MaxConnLifetime, err = getDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	errs = appendErr(errs, err)

	cfg.Redis.URL = os.Getenv("REDIS_URL")

	cfg.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", "order-events")

	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	cfg.SMTP.Port = getEnv("SMTP_PORT", "587")
	cfg.SMTP.User = os.Getenv("SMTP_USER")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.From = getEnv("EMAIL_FROM", "orders@artist-platform.local")

	cfg.Notify.QueueKey = getEnv("NOTIFY_QUEUE_KEY", "notifications:outbox")
	cfg.Notify.QueueSize, err = getInt("NOTIFY_QUEUE_SIZE", 1024)
	errs = appendErr(errs, err)
	cfg.Notify.Workers, err = getInt("NOTIFY_WORKERS", 4)
	errs = appendErr(errs, err)

	cfg.Pricing = pricing.DefaultRates()
	if path := os.Getenv("PRICING_FILE"); path != "" {
		rates, err := LoadPricing(path)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Pricing = rates
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	return cfg, nil
}

type pricingFile struct {
	DomesticCountry       string            `yaml:"domestic_country"`
	DomesticBaseRate      string            `yaml:"domestic_base_rate"`
	InternationalBaseRate string            `yaml:"international_base_rate"`
	PerKgRate             string            `yaml:"per_kg_rate"`
	StateTaxRates         map[string]string `yaml:"state_tax_rates"`
}

// LoadPricing reads a YAML rate table. Keys missing from the file keep the
// default rates.
func LoadPricing(path string) (pricing.Rates, error) {
	file, err := os.Open(path)
	if err != nil {
		return pricing.Rates{}, fmt.Errorf("failed to open pricing file: %w", err)
	}
	defer file.Close()

	var raw pricingFile
	if err := yaml.NewDecoder(file).Decode(&raw); err != nil {
		return pricing.Rates{}, fmt.Errorf("invalid pricing file %s: %w", path, err)
	}

	rates := pricing.DefaultRates()
	if raw.DomesticCountry != "" {
		rates.DomesticCountry = raw.DomesticCountry
	}

	amounts := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"domestic_base_rate", raw.DomesticBaseRate, &rates.DomesticBaseRate},
		{"international_base_rate", raw.InternationalBaseRate, &rates.InternationalBaseRate},
		{"per_kg_rate", raw.PerKgRate, &rates.PerKgRate},
	}
	for _, a := range amounts {
		if a.value == "" {
			continue
		}
		v, err := parseNonNegative(a.value)
		if err != nil {
			return pricing.Rates{}, fmt.Errorf("pricing file %s: %s: %w", path, a.name, err)
		}
		*a.dst = v
	}

	if len(raw.StateTaxRates) > 0 {
		rates.StateTaxRates = make(map[string]decimal.Decimal, len(raw.StateTaxRates))
		for state, value := range raw.StateTaxRates {
			v, err := parseNonNegative(value)
			if err != nil {
				return pricing.Rates{}, fmt.Errorf("pricing file %s: state %s: %w", path, state, err)
			}
			rates.StateTaxRates[strings.ToUpper(state)] = v
		}
	}

	return rates, nil
}

func parseNonNegative(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, err
	}
	if v.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("must not be negative, got %s", s)
	}
	return v, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return dur, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}
