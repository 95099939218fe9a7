package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configFileEnv = "CONFIG_FILE"

type AppConfig struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" validate:"required"`

	// Upstream paging.
	BatchSize  int `yaml:"fetch_batch_size" validate:"gt=0"`
	MaxRecords int `yaml:"fetch_max_records" validate:"gte=0"` // 0 = unlimited

	NESOBaseURL    string        `yaml:"neso_base_url" validate:"required,url"`
	NESOResourceID string        `yaml:"neso_resource_id" validate:"required"`
	HTTPTimeout    time.Duration `yaml:"http_timeout" validate:"gt=0"`

	// Retry policy per page.
	MaxRetries     int           `yaml:"fetch_max_retries" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"fetch_initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"fetch_max_backoff" validate:"gtefield=InitialBackoff"`

	PercTolerance float64 `yaml:"perc_tolerance" validate:"gte=0"`
	PercReconcile bool    `yaml:"perc_reconcile"`

	// ScheduleInterval controls how often the pipeline runs in serve mode.
	ScheduleInterval time.Duration `yaml:"schedule_interval" validate:"gt=0"`

	// StoreMaxParams is the bound-parameter limit per SQL statement.
	StoreMaxParams int `yaml:"store_max_params" validate:"gt=0"`

	// Optional Redis lock; in-process locking is used when RedisAddr is empty.
	RedisAddr     string        `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string        `yaml:"redis_password"`
	LockTTL       time.Duration `yaml:"lock_ttl" validate:"gt=0"`

	Port     string `yaml:"port" validate:"required,numeric"`
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns the configuration used when nothing is overridden.
func Default() AppConfig {
	return AppConfig{
		DBPath:           "generation_mix.db",
		BatchSize:        30_000,
		MaxRecords:       0,
		NESOBaseURL:      "https://api.neso.energy/api/3/action/datastore_search_sql",
		NESOResourceID:   "f93d1835-75bc-43e5-84ad-12472b180a98",
		HTTPTimeout:      60 * time.Second,
		MaxRetries:       4,
		InitialBackoff:   1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PercTolerance:    1.0,
		PercReconcile:    true,
		ScheduleInterval: 30 * time.Minute,
		StoreMaxParams:   999,
		LockTTL:          30 * time.Minute,
		Port:             "8080",
		LogLevel:         "info",
	}
}

// Load reads configuration from defaults, an optional YAML file and the environment, in that order.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := Default()

	if path := os.Getenv(configFileEnv); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	cfg.DBPath = getenvDefault("DB_PATH", cfg.DBPath)
	cfg.BatchSize = getenvInt("FETCH_BATCH_SIZE", cfg.BatchSize)
	cfg.MaxRecords = getenvInt("FETCH_MAX_RECORDS", cfg.MaxRecords)
	cfg.NESOBaseURL = getenvDefault("NESO_BASE_URL", cfg.NESOBaseURL)
	cfg.NESOResourceID = getenvDefault("NESO_RESOURCE_ID", cfg.NESOResourceID)
	cfg.MaxRetries = getenvInt("FETCH_MAX_RETRIES", cfg.MaxRetries)
	cfg.StoreMaxParams = getenvInt("STORE_MAX_PARAMS", cfg.StoreMaxParams)
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getenvDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.Port = getenvDefault("PORT", cfg.Port)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("PERC_TOLERANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PERC_TOLERANCE: %w", err)
		}
		cfg.PercTolerance = f
	}
	if v := os.Getenv("PERC_RECONCILE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PERC_RECONCILE: %w", err)
		}
		cfg.PercReconcile = b
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"FETCH_INITIAL_BACKOFF", &cfg.InitialBackoff},
		{"FETCH_MAX_BACKOFF", &cfg.MaxBackoff},
		{"SCHEDULE_INTERVAL", &cfg.ScheduleInterval},
		{"LOCK_TTL", &cfg.LockTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
