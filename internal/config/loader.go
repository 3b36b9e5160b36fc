package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures file and environment driven configuration for the scheduler service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Lock       LockConfig       `yaml:"lock"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Cache      CacheConfig      `yaml:"cache"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is the sustained requests per second allowed per client IP.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend      string        `yaml:"backend"`
	SQLiteDSN    string        `yaml:"sqlite_dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	BusyRetries  int           `yaml:"busy_retries"`
}

type LockConfig struct {
	// Backend is "memory" or "redis".
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"`
}

type SchedulingConfig struct {
	MaxSessions      int `yaml:"max_sessions"`
	LowSeatThreshold int `yaml:"low_seat_threshold"`
}

type CacheConfig struct {
	CoachTTL time.Duration `yaml:"coach_ttl"`
	AuthTTL  time.Duration `yaml:"auth_ttl"`
}

type AuthConfig struct {
	StaffKeys []StaffKey `yaml:"staff_keys"`
}

// StaffKey is one configured API key. Hash is an argon2id encoded hash.
type StaffKey struct {
	StaffID  string `yaml:"staff_id"`
	Role     string `yaml:"role"`
	Hash     string `yaml:"hash"`
	Disabled bool   `yaml:"disabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
		},
		Storage: StorageConfig{
			Backend:      "sqlite",
			SQLiteDSN:    "file:scheduler.db",
			MaxOpenConns: 1,
			BusyTimeout:  5 * time.Second,
			BusyRetries:  3,
		},
		Lock: LockConfig{
			Backend: "memory",
			Prefix:  "class-scheduler:",
			TTL:     30 * time.Second,
		},
		Scheduling: SchedulingConfig{
			MaxSessions:      520,
			LowSeatThreshold: 3,
		},
		Cache: CacheConfig{
			CoachTTL: time.Minute,
			AuthTTL:  5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file named by SCHEDULER_CONFIG, when set, and then
// applies environment overrides on top of the defaults.
//
// Missing and invalid entries are collected and reported together.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("SCHEDULER_CONFIG")); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("設定ファイルを開けません: %w", err)
		}
		defer file.Close()
		if err := decode(file, &cfg); err != nil {
			return Config{}, err
		}
	}

	return finish(cfg)
}

// Parse is Load for an in-memory YAML document.
func Parse(r io.Reader) (Config, error) {
	cfg := Defaults()
	if err := decode(r, &cfg); err != nil {
		return Config{}, err
	}
	return finish(cfg)
}

func decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("設定ファイルを読み込めません: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("設定ファイルの形式が不正です: %w", err)
	}
	return nil
}

func finish(cfg Config) (Config, error) {
	l := &envLoader{}
	l.apply(&cfg)
	l.validate(&cfg)

	if len(l.missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(l.missing, ", "))
	}
	if len(l.invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(l.invalid, ", "))
	}
	return cfg, nil
}

type envLoader struct {
	missing []string
	invalid []string
}

func (l *envLoader) apply(cfg *Config) {
	l.positiveInt("SCHEDULER_HTTP_PORT", &cfg.Server.Port)
	l.duration("SCHEDULER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	l.duration("SCHEDULER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	l.duration("SCHEDULER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	if value := env("SCHEDULER_RATE_LIMIT"); value != "" {
		limit, err := strconv.ParseFloat(value, 64)
		if err != nil || limit < 0 {
			l.invalid = append(l.invalid, "SCHEDULER_RATE_LIMIT")
		} else {
			cfg.Server.RateLimit = limit
		}
	}
	l.positiveInt("SCHEDULER_RATE_BURST", &cfg.Server.RateBurst)

	l.str("SCHEDULER_STORAGE", &cfg.Storage.Backend)
	l.str("SCHEDULER_SQLITE_DSN", &cfg.Storage.SQLiteDSN)
	l.positiveInt("SCHEDULER_SQLITE_MAX_OPEN_CONNS", &cfg.Storage.MaxOpenConns)
	l.nonNegativeInt("SCHEDULER_SQLITE_BUSY_RETRIES", &cfg.Storage.BusyRetries)

	l.str("SCHEDULER_LOCK_BACKEND", &cfg.Lock.Backend)
	l.str("SCHEDULER_REDIS_ADDR", &cfg.Lock.RedisAddr)
	l.str("SCHEDULER_REDIS_PASSWORD", &cfg.Lock.RedisPassword)
	l.nonNegativeInt("SCHEDULER_REDIS_DB", &cfg.Lock.RedisDB)
	l.duration("SCHEDULER_LOCK_TTL", &cfg.Lock.TTL)

	l.positiveInt("SCHEDULER_MAX_SESSIONS", &cfg.Scheduling.MaxSessions)
	l.nonNegativeInt("SCHEDULER_LOW_SEAT_THRESHOLD", &cfg.Scheduling.LowSeatThreshold)

	l.duration("SCHEDULER_COACH_CACHE_TTL", &cfg.Cache.CoachTTL)
	l.duration("SCHEDULER_AUTH_CACHE_TTL", &cfg.Cache.AuthTTL)

	if value := env("SCHEDULER_STAFF_KEYS"); value != "" {
		keys, err := ParseStaffKeys(value)
		if err != nil {
			l.invalid = append(l.invalid, "SCHEDULER_STAFF_KEYS")
		} else {
			cfg.Auth.StaffKeys = keys
		}
	}

	l.str("SCHEDULER_LOG_LEVEL", &cfg.Log.Level)
	l.str("SCHEDULER_LOG_FORMAT", &cfg.Log.Format)
}

func (l *envLoader) validate(cfg *Config) {
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.SQLiteDSN) == "" {
			l.missing = append(l.missing, "SCHEDULER_SQLITE_DSN")
		}
	default:
		l.invalid = append(l.invalid, "SCHEDULER_STORAGE")
	}

	cfg.Lock.Backend = strings.ToLower(cfg.Lock.Backend)
	switch cfg.Lock.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Lock.RedisAddr) == "" {
			l.missing = append(l.missing, "SCHEDULER_REDIS_ADDR")
		}
	default:
		l.invalid = append(l.invalid, "SCHEDULER_LOCK_BACKEND")
	}

	if len(cfg.Auth.StaffKeys) == 0 {
		l.missing = append(l.missing, "SCHEDULER_STAFF_KEYS")
	}
	for _, key := range cfg.Auth.StaffKeys {
		if !validRole(key.Role) || strings.TrimSpace(key.StaffID) == "" || strings.TrimSpace(key.Hash) == "" {
			l.invalid = append(l.invalid, "SCHEDULER_STAFF_KEYS")
			break
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		l.invalid = append(l.invalid, "SCHEDULER_LOG_LEVEL")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		l.invalid = append(l.invalid, "SCHEDULER_LOG_FORMAT")
	}
}

// ParseStaffKeys reads "staff_id:role:hash" entries separated by semicolons.
func ParseStaffKeys(value string) ([]StaffKey, error) {
	var keys []StaffKey
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("staff key %q: expected staff_id:role:hash", entry)
		}
		key := StaffKey{
			StaffID: strings.TrimSpace(parts[0]),
			Role:    strings.TrimSpace(parts[1]),
			Hash:    strings.TrimSpace(parts[2]),
		}
		if !validRole(key.Role) {
			return nil, fmt.Errorf("staff key %q: unknown role %q", key.StaffID, key.Role)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, errors.New("no staff keys")
	}
	return keys, nil
}

func validRole(role string) bool {
	switch role {
	case "admin", "trainer", "front_desk":
		return true
	}
	return false
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (l *envLoader) str(key string, target *string) {
	if value := env(key); value != "" {
		*target = value
	}
}

func (l *envLoader) positiveInt(key string, target *int) {
	if value := env(key); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			l.invalid = append(l.invalid, key)
			return
		}
		*target = n
	}
}

func (l *envLoader) nonNegativeInt(key string, target *int) {
	if value := env(key); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			l.invalid = append(l.invalid, key)
			return
		}
		*target = n
	}
}

func (l *envLoader) duration(key string, target *time.Duration) {
	if value := env(key); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			l.invalid = append(l.invalid, key)
			return
		}
		*target = d
	}
}
