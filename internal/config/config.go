package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory    = "memory"
	StoreRedis     = "redis"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

type Config struct {
	HTTP struct {
		Addr         string        `yaml:"addr"`
		AllowOrigins []string      `yaml:"allow_origins"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"http"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Paystack struct {
		BaseURL       string        `yaml:"base_url"`
		SecretKey     string        `yaml:"secret_key"`
		WebhookSecret string        `yaml:"webhook_secret"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"paystack"`
	Plans struct {
		Path string `yaml:"path"`
	} `yaml:"plans"`
	Store struct {
		Driver    string        `yaml:"driver"`
		Timeout   time.Duration `yaml:"timeout"`
		KeyPrefix string        `yaml:"key_prefix"`
	} `yaml:"store"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Firestore struct {
		ProjectID       string `yaml:"project_id"`
		CredentialsFile string `yaml:"credentials_file"`
		Collection      string `yaml:"collection"`
	} `yaml:"firestore"`
	Queue struct {
		RedisURL string `yaml:"redis_url"`
		Name     string `yaml:"name"`
	} `yaml:"queue"`
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":3000"
	cfg.HTTP.AllowOrigins = []string{"*"}
	cfg.HTTP.ReadTimeout = 15 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Paystack.BaseURL = "https://api.paystack.co"
	cfg.Paystack.Timeout = 10 * time.Second
	cfg.Store.Driver = StoreMemory
	cfg.Store.Timeout = 5 * time.Second
	cfg.Store.KeyPrefix = "accessgate:entitlement:"
	cfg.Firestore.Collection = "accessRecords"
	cfg.Queue.Name = "accessgate:grant_retries"
	return cfg
}

// Load reads the optional YAML file at path, then .env, then AG_* environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load()
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports missing secrets and backend settings. Secrets have no
// built-in fallback.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Paystack.SecretKey) == "" {
		errs = append(errs, errors.New("missing paystack.secret_key (or AG_PAYSTACK_SECRET_KEY)"))
	}
	if c.Paystack.Timeout <= 0 {
		errs = append(errs, errors.New("paystack.timeout must be positive"))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("store.timeout must be positive"))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("missing redis.url (or AG_REDIS_URL) for redis store"))
		}
	case StorePostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("missing database.dsn (or AG_DB_DSN) for postgres store"))
		}
	case StoreFirestore:
		if c.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("missing firestore.project_id (or AG_FIRESTORE_PROJECT_ID) for firestore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// WebhookSecret is the key Paystack signs webhook bodies with. Paystack uses
// the account secret key unless a dedicated secret is configured.
func (c Config) WebhookSecret() string {
	if s := strings.TrimSpace(c.Paystack.WebhookSecret); s != "" {
		return s
	}
	return strings.TrimSpace(c.Paystack.SecretKey)
}

func applyEnv(cfg *Config) error {
	var errs []error
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTP.Addr = ":" + v
	}
	if v := os.Getenv("AG_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("AG_HTTP_ALLOW_ORIGINS"); v != "" {
		cfg.HTTP.AllowOrigins = splitCSV(v)
	}
	if v := os.Getenv("AG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AG_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("AG_PAYSTACK_BASE_URL"); v != "" {
		cfg.Paystack.BaseURL = v
	}
	if v := os.Getenv("PAYSTACK_SECRET_KEY"); v != "" {
		cfg.Paystack.SecretKey = v
	}
	if v := os.Getenv("AG_PAYSTACK_SECRET_KEY"); v != "" {
		cfg.Paystack.SecretKey = v
	}
	if v := os.Getenv("AG_PAYSTACK_WEBHOOK_SECRET"); v != "" {
		cfg.Paystack.WebhookSecret = v
	}
	if err := envDuration("AG_PAYSTACK_TIMEOUT", &cfg.Paystack.Timeout); err != nil {
		errs = append(errs, err)
	}
	if v := os.Getenv("AG_PLANS_PATH"); v != "" {
		cfg.Plans.Path = v
	}
	if v := os.Getenv("AG_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if err := envDuration("AG_STORE_TIMEOUT", &cfg.Store.Timeout); err != nil {
		errs = append(errs, err)
	}
	if v := os.Getenv("AG_STORE_KEY_PREFIX"); v != "" {
		cfg.Store.KeyPrefix = v
	}
	if v := os.Getenv("AG_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AG_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("AG_FIRESTORE_PROJECT_ID"); v != "" {
		cfg.Firestore.ProjectID = v
	}
	if v := os.Getenv("AG_FIRESTORE_CREDENTIALS_FILE"); v != "" {
		cfg.Firestore.CredentialsFile = v
	}
	if v := os.Getenv("AG_FIRESTORE_COLLECTION"); v != "" {
		cfg.Firestore.Collection = v
	}
	if v := os.Getenv("AG_QUEUE_REDIS_URL"); v != "" {
		cfg.Queue.RedisURL = v
	}
	if v := os.Getenv("AG_QUEUE_NAME"); v != "" {
		cfg.Queue.Name = v
	}
	if err := envDuration("AG_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := envDuration("AG_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// envDuration overwrites dst when key is set. A value that does not parse is
// an error.
func envDuration(key string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		out = append(out, val)
	}
	return out
}
