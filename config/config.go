package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting of the engine. It is built once at start-up and
// passed explicitly; nothing reads the environment after Load.
type Config struct {
	DBDriver    string
	DatabaseURL string

	RedisAddr    string
	KafkaBrokers []string
	NotifyTopic  string

	PaymentAPIURL    string
	PaymentReturnURL string

	PricingConfig    string
	UmbrellaSellerID int64
	OperatorEmail    string

	PollInterval      time.Duration
	StoragePause      time.Duration
	ReservationExpiry time.Duration
	Retention         time.Duration
	OrderNumberStart  int64
	HTTPAddr          string
	LogLevel          string
}

// Load reads the configuration from the environment. Call after the .env
// file has been loaded.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DBDriver:         strings.ToLower(orDefault(getenv("DB_DRIVER"), "postgres")),
		RedisAddr:        getenv("REDIS_ADDR"),
		NotifyTopic:      orDefault(getenv("NOTIFY_TOPIC"), "notifications"),
		PaymentAPIURL:    getenv("PAYMENT_API_URL"),
		PaymentReturnURL: orDefault(getenv("PAYMENT_RETURN_URL"), "http://localhost:8080/bestellingen"),
		PricingConfig:    getenv("PRICING_CONFIG"),
		OperatorEmail:    getenv("OPERATOR_EMAIL"),
		HTTPAddr:         orDefault(getenv("HTTP_ADDR"), ":8080"),
		LogLevel:         orDefault(getenv("LOG_LEVEL"), "info"),
	}

	if brokers := getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.DatabaseURL, err = databaseURL(cfg.DBDriver, getenv); err != nil {
		return nil, err
	}
	if cfg.UmbrellaSellerID, err = parseInt(getenv, "UMBRELLA_SELLER_ID", 0); err != nil {
		return nil, err
	}
	if cfg.OrderNumberStart, err = parseInt(getenv, "ORDER_NUMBER_START", 1002000); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = parseDuration(getenv, "POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StoragePause, err = parseDuration(getenv, "STORAGE_RETRY_PAUSE", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReservationExpiry, err = parseDuration(getenv, "RESERVATION_EXPIRY", 72*time.Hour); err != nil {
		return nil, err
	}
	retentionDays, err := parseInt(getenv, "RETENTION_DAYS", 548)
	if err != nil {
		return nil, err
	}
	cfg.Retention = time.Duration(retentionDays) * 24 * time.Hour

	return cfg, nil
}

// databaseURL returns DATABASE_URL or builds a connection string from the
// individual variables.
func databaseURL(driver string, getenv func(string) string) (string, error) {
	if connStr := getenv("DATABASE_URL"); connStr != "" {
		return connStr, nil
	}

	if driver == "sqlite" {
		return orDefault(getenv("DB_NAME"), "bestellingen.db"), nil
	}

	host := getenv("DB_HOST")
	port := orDefault(getenv("DB_PORT"), "5432")
	user := getenv("DB_USER")
	password := getenv("DB_PASSWORD")
	dbname := getenv("DB_NAME")
	sslmode := orDefault(getenv("DB_SSLMODE"), "disable")

	if host == "" || user == "" || dbname == "" {
		return "", fmt.Errorf("database connection variables not set. Set DATABASE_URL or DB_HOST, DB_USER, DB_NAME")
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func parseInt(getenv func(string) string, key string, def int64) (int64, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func parseDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}
