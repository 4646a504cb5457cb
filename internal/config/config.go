package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradeguard/internal/exchange"
	"tradeguard/pkg/errs"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Exchange  ExchangeConfig
	Redis     RedisConfig
	Sync      SyncConfig
	Risk      RiskConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// Мастер-секрет для шифрования ключей API бирж
	MasterEncryptionSecret string
	JWTSecret              string
	TokenTTL               time.Duration
	// bcrypt хэш пароля администратора
	AdminPasswordHash string
	AllowedOrigins    []string
}

// ExchangeConfig - настройки адаптеров бирж
type ExchangeConfig struct {
	Mode              string // live или simulated
	MinAmount         float64
	MaxAmount         float64
	RequestsPerMinute int
	HTTPTimeout       time.Duration
	SimLatency        time.Duration
}

// RedisConfig - общее хранилище счетчиков лимитера; пустой Addr - счетчики в памяти
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SyncConfig - сверка балансов
type SyncConfig struct {
	Workers  int
	Cooldown time.Duration
	Timeout  time.Duration
}

// RiskConfig - лимиты по умолчанию для счетов без risk_parameters
type RiskConfig struct {
	MaxDailyLoss     float64
	MaxPositionSize  float64
	MaxDrawdown      float64
	MaxConcentration float64
	CloseTimeout     time.Duration
}

// SchedulerConfig - расписания cron
type SchedulerConfig struct {
	SyncSpec        string
	StopLossSpec    string
	LiquidationSpec string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errs.Config(".env", "failed to parse: %v", err)
	}
	return FromEnv()
}

// FromEnv читает конфигурацию только из переменных окружения
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "tradeguard"),
			User:     getEnv("DB_USER", "tradeguard"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			MasterEncryptionSecret: getEnv("MASTER_ENCRYPTION_SECRET", ""),
			JWTSecret:              getEnv("JWT_SECRET", ""),
			TokenTTL:               getEnvAsDuration("TOKEN_TTL", 12*time.Hour),
			AdminPasswordHash:      getEnv("ADMIN_PASSWORD_HASH", ""),
			AllowedOrigins:         getEnvAsList("ALLOWED_ORIGINS"),
		},
		Exchange: ExchangeConfig{
			Mode:              strings.ToLower(getEnv("TRADING_MODE", exchange.ModeLive)),
			MinAmount:         getEnvAsFloat("MIN_TRADE_AMOUNT", 0.0001),
			MaxAmount:         getEnvAsFloat("MAX_TRADE_AMOUNT", 1000),
			RequestsPerMinute: getEnvAsInt("EXCHANGE_REQUESTS_PER_MINUTE", 60),
			HTTPTimeout:       getEnvAsDuration("EXCHANGE_HTTP_TIMEOUT", 10*time.Second),
			SimLatency:        getEnvAsDuration("SIM_LATENCY", 50*time.Millisecond),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Sync: SyncConfig{
			Workers:  getEnvAsInt("SYNC_WORKERS", 4),
			Cooldown: getEnvAsDuration("SYNC_COOLDOWN", 5*time.Minute),
			Timeout:  getEnvAsDuration("SYNC_TIMEOUT", 30*time.Second),
		},
		Risk: RiskConfig{
			MaxDailyLoss:     getEnvAsFloat("RISK_MAX_DAILY_LOSS", 5000),
			MaxPositionSize:  getEnvAsFloat("RISK_MAX_POSITION_SIZE", 2000),
			MaxDrawdown:      getEnvAsFloat("RISK_MAX_DRAWDOWN", 0.2),
			MaxConcentration: getEnvAsFloat("RISK_MAX_CONCENTRATION", 0.40),
			CloseTimeout:     getEnvAsDuration("RISK_CLOSE_TIMEOUT", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			SyncSpec:        getEnv("SCHEDULE_SYNC", "@every 5m"),
			StopLossSpec:    getEnv("SCHEDULE_STOP_LOSS", "@every 15s"),
			LiquidationSpec: getEnv("SCHEDULE_LIQUIDATION_RETRY", "@every 1m"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// MASTER_ENCRYPTION_SECRET обязателен для шифрования ключей API бирж
	if c.Security.MasterEncryptionSecret == "" {
		return errs.Config("MASTER_ENCRYPTION_SECRET", "is required for encrypting API keys")
	}

	if len(c.Security.JWTSecret) < 32 {
		return errs.Config("JWT_SECRET", "must be at least 32 characters")
	}

	if c.Security.AdminPasswordHash != "" && !strings.HasPrefix(c.Security.AdminPasswordHash, "$2") {
		return errs.Config("ADMIN_PASSWORD_HASH", "must be a bcrypt hash")
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return errs.Config("USE_HTTPS", "CERT_FILE and KEY_FILE are required")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errs.Config("SERVER_PORT", "must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return errs.Config("DB_PORT", "must be between 1 and 65535, got %d", c.Database.Port)
	}

	switch c.Exchange.Mode {
	case exchange.ModeLive, exchange.ModeSimulated:
	default:
		return errs.Config("TRADING_MODE", "must be live or simulated, got %q", c.Exchange.Mode)
	}

	if c.Exchange.MinAmount <= 0 || c.Exchange.MaxAmount < c.Exchange.MinAmount {
		return errs.Config("MIN_TRADE_AMOUNT", "need 0 < min <= max, got %v..%v", c.Exchange.MinAmount, c.Exchange.MaxAmount)
	}

	if c.Exchange.RequestsPerMinute < 1 {
		return errs.Config("EXCHANGE_REQUESTS_PER_MINUTE", "must be positive, got %d", c.Exchange.RequestsPerMinute)
	}

	if c.Sync.Workers < 1 || c.Sync.Workers > 64 {
		return errs.Config("SYNC_WORKERS", "must be between 1 and 64, got %d", c.Sync.Workers)
	}

	// Валидация таймаутов (должны быть положительными)
	if c.Sync.Timeout <= 0 {
		return errs.Config("SYNC_TIMEOUT", "must be positive, got %v", c.Sync.Timeout)
	}

	if c.Exchange.HTTPTimeout <= 0 {
		return errs.Config("EXCHANGE_HTTP_TIMEOUT", "must be positive, got %v", c.Exchange.HTTPTimeout)
	}

	if c.Risk.MaxConcentration <= 0 || c.Risk.MaxConcentration > 1 {
		return errs.Config("RISK_MAX_CONCENTRATION", "must be in (0, 1], got %v", c.Risk.MaxConcentration)
	}

	if c.Risk.MaxPositionSize <= 0 || c.Risk.MaxDailyLoss <= 0 {
		return errs.Config("RISK_MAX_POSITION_SIZE", "risk limits must be positive")
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr - адрес HTTP сервера
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList - список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
