package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ScanConfig controls detection and scheduling
type ScanConfig struct {
	Timezone       string        `yaml:"timezone"`
	SessionOpen    string        `yaml:"session_open"`
	WindowStart    string        `yaml:"window_start"`
	WindowEnd      string        `yaml:"window_end"`
	MinGapPercent  float64       `yaml:"min_gap_percent"`
	GapMode        string        `yaml:"gap_mode"`
	TickSize       float64       `yaml:"tick_size"`
	LookbackDays   int           `yaml:"lookback_days"`
	BarInterval    time.Duration `yaml:"bar_interval"`
	OpeningRange   time.Duration `yaml:"opening_range"`
	BatchSize      int           `yaml:"batch_size"`
	MaxWorkers     int           `yaml:"max_workers"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	RetentionDays  int           `yaml:"retention_days"`
}

// ProviderConfig controls the upstream market data client
type ProviderConfig struct {
	BaseURL         string        `yaml:"base_url"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	BatchTimeout    time.Duration `yaml:"batch_timeout"`
	RPS             float64       `yaml:"rps"`
	Burst           int           `yaml:"burst"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// HistoryConfig selects and configures the ledger backend
type HistoryConfig struct {
	Backend       string `yaml:"backend"`
	File          string `yaml:"file"`
	SQLitePath    string `yaml:"sqlite_path"`
	MongoURI      string `yaml:"mongo_uri"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
}

// Config is the full application configuration
type Config struct {
	Port             string
	Environment      string
	LogLevel         string
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	JWTSecret        string
	ScanTriggerLimit int
	UniverseFile     string `yaml:"universe_file"`

	Scan     ScanConfig     `yaml:"scan"`
	Provider ProviderConfig `yaml:"provider"`
	History  HistoryConfig  `yaml:"history"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Port:             "8080",
		Environment:      "development",
		LogLevel:         "info",
		DBHost:           "localhost",
		DBPort:           "5432",
		DBUser:           "postgres",
		DBName:           "gap_scanner",
		DBSSLMode:        "require",
		ScanTriggerLimit: 5,
		Scan: ScanConfig{
			Timezone:       "America/New_York",
			SessionOpen:    "09:30",
			WindowStart:    "09:42",
			WindowEnd:      "16:00",
			MinGapPercent:  0.5,
			GapMode:        "reversal",
			TickSize:       0.01,
			LookbackDays:   5,
			BarInterval:    time.Minute,
			OpeningRange:   12 * time.Minute,
			BatchSize:      20,
			MaxWorkers:     5,
			RescanInterval: 5 * time.Minute,
			TickInterval:   time.Minute,
			RetentionDays:  3,
		},
		Provider: ProviderConfig{
			BaseURL:         "https://query1.finance.yahoo.com",
			FetchTimeout:    30 * time.Second,
			BatchTimeout:    2 * time.Minute,
			RPS:             2,
			Burst:           2,
			BreakerFailures: 5,
			BreakerCooldown: time.Minute,
		},
		History: HistoryConfig{
			Backend:    "file",
			File:       "data/gap_history.json",
			SQLitePath: "data/gap_history.db",
			RedisAddr:  "localhost:6379",
			RedisKey:   "gapscanner:ledger",
		},
	}
}

// LoadConfig loads .env, then the optional YAML file named by SCANNER_CONFIG,
// then environment variable overrides
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := Defaults()
	if path := os.Getenv("SCANNER_CONFIG"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DBHost = getEnv("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnv("DB_PORT", cfg.DBPort)
	cfg.DBUser = getEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = getEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = getEnv("DB_SSLMODE", cfg.DBSSLMode)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.ScanTriggerLimit = getEnvInt("SCAN_TRIGGER_LIMIT", cfg.ScanTriggerLimit)
	cfg.UniverseFile = getEnv("UNIVERSE_FILE", cfg.UniverseFile)

	s := &cfg.Scan
	s.Timezone = getEnv("EXCHANGE_TZ", s.Timezone)
	s.SessionOpen = getEnv("SESSION_OPEN", s.SessionOpen)
	s.WindowStart = getEnv("SCAN_WINDOW_START", s.WindowStart)
	s.WindowEnd = getEnv("SCAN_WINDOW_END", s.WindowEnd)
	s.MinGapPercent = getEnvFloat("MIN_GAP_PERCENT", s.MinGapPercent)
	s.GapMode = getEnv("GAP_MODE", s.GapMode)
	s.TickSize = getEnvFloat("TICK_SIZE", s.TickSize)
	s.LookbackDays = getEnvInt("LOOKBACK_DAYS", s.LookbackDays)
	s.BarInterval = getEnvDuration("BAR_INTERVAL", s.BarInterval)
	s.OpeningRange = getEnvDuration("OPENING_RANGE", s.OpeningRange)
	s.BatchSize = getEnvInt("BATCH_SIZE", s.BatchSize)
	s.MaxWorkers = getEnvInt("MAX_WORKERS", s.MaxWorkers)
	s.RescanInterval = getEnvDuration("RESCAN_INTERVAL", s.RescanInterval)
	s.TickInterval = getEnvDuration("SCHEDULER_TICK", s.TickInterval)
	s.RetentionDays = getEnvInt("RETENTION_DAYS", s.RetentionDays)

	p := &cfg.Provider
	p.BaseURL = getEnv("YAHOO_BASE_URL", p.BaseURL)
	p.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", p.FetchTimeout)
	p.BatchTimeout = getEnvDuration("BATCH_TIMEOUT", p.BatchTimeout)
	p.RPS = getEnvFloat("PROVIDER_RPS", p.RPS)
	p.Burst = getEnvInt("PROVIDER_BURST", p.Burst)
	if n := getEnvInt("BREAKER_FAILURES", int(p.BreakerFailures)); n >= 0 {
		p.BreakerFailures = uint32(n)
	}
	p.BreakerCooldown = getEnvDuration("BREAKER_COOLDOWN", p.BreakerCooldown)

	h := &cfg.History
	h.Backend = strings.ToLower(getEnv("HISTORY_BACKEND", h.Backend))
	h.File = getEnv("HISTORY_FILE", h.File)
	h.SQLitePath = getEnv("SQLITE_PATH", h.SQLitePath)
	h.MongoURI = getEnv("MONGODB_URI", h.MongoURI)
	h.RedisAddr = getEnv("REDIS_ADDR", h.RedisAddr)
	h.RedisPassword = getEnv("REDIS_PASSWORD", h.RedisPassword)
	h.RedisDB = getEnvInt("REDIS_DB", h.RedisDB)
}

// Validate rejects settings the scanner cannot run with
func (c *Config) Validate() error {
	s := c.Scan
	switch {
	case s.MinGapPercent < 0:
		return fmt.Errorf("MIN_GAP_PERCENT must be >= 0, got %v", s.MinGapPercent)
	case s.TickSize <= 0:
		return fmt.Errorf("TICK_SIZE must be > 0, got %v", s.TickSize)
	case s.BatchSize <= 0:
		return fmt.Errorf("BATCH_SIZE must be > 0, got %d", s.BatchSize)
	case s.MaxWorkers <= 0:
		return fmt.Errorf("MAX_WORKERS must be > 0, got %d", s.MaxWorkers)
	case s.RetentionDays <= 0:
		return fmt.Errorf("RETENTION_DAYS must be > 0, got %d", s.RetentionDays)
	case s.OpeningRange <= 0:
		return fmt.Errorf("OPENING_RANGE must be > 0, got %s", s.OpeningRange)
	case s.LookbackDays < 1:
		return fmt.Errorf("LOOKBACK_DAYS must be >= 1, got %d", s.LookbackDays)
	case s.TickInterval <= 0:
		return fmt.Errorf("SCHEDULER_TICK must be > 0, got %s", s.TickInterval)
	case c.Provider.BreakerCooldown <= 0:
		return fmt.Errorf("BREAKER_COOLDOWN must be > 0, got %s", c.Provider.BreakerCooldown)
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// InitDB opens the Postgres connection used by the postgres history backend
func InitDB(cfg *Config) (*gorm.DB, error) {
	log.Info().
		Str("host", maskHost(cfg.DBHost)).
		Str("port", cfg.DBPort).
		Str("user", cfg.DBUser).
		Str("dbname", cfg.DBName).
		Msg("Connecting to database")

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
		cfg.Scan.Timezone,
	)

	logLevel := logger.Info
	if cfg.IsProduction() {
		logLevel = logger.Error
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Msg("Database connection verified successfully")
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
