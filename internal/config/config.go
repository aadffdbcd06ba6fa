package config

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	ExecutorLocal = "local"
	ExecutorAsynq = "asynq"

	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type ServerCfg struct {
	Host      string
	Port      int
	BodyLimit int // bytes
}

type WorkerCfg struct {
	Executor        string
	Workers         int
	QueueLimit      int
	AnalysisTimeout time.Duration
	ScratchDir      string
}

type StoreCfg struct {
	Driver          string
	DSN             string
	Capacity        int
	Retention       time.Duration
	JanitorInterval time.Duration
}

type CacheCfg struct {
	RedisAddress  string
	RedisPassword string
	RedisDB       int
}

type AnalyzerCfg struct {
	Binary      string
	ParseMethod string
}

type Config struct {
	ServerCfg
	WorkerCfg
	StoreCfg
	CacheCfg
	AnalyzerCfg
	GRPCHealthAddr string
	LogLevel       slog.Level
}

type In struct {
	ServerHost  string `env:"HOST, default=0.0.0.0"`
	ServerPort  int    `env:"PORT, default=8001"`
	BodyLimitMB int    `env:"BODY_LIMIT_MB, default=200"`

	ScratchDir      string        `env:"SCRATCH_DIR"`
	Workers         int           `env:"WORKERS, default=3"`
	QueueLimit      int           `env:"QUEUE_LIMIT, default=0"`
	AnalysisTimeout time.Duration `env:"ANALYSIS_TIMEOUT, default=30m"`
	Executor        string        `env:"EXECUTOR, default=local"`

	StoreDriver     string        `env:"STORE_DRIVER, default=memory"`
	StoreDSN        string        `env:"STORE_DSN"`
	StoreCapacity   int           `env:"STORE_CAPACITY, default=10000"`
	Retention       time.Duration `env:"RETENTION, default=24h"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL, default=10m"`

	RedisAddress  string `env:"REDIS_ADDRESS, default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB, default=0"`

	MinerUBinary string `env:"MINERU_BIN, default=magic-pdf"`
	ParseMethod  string `env:"PARSE_METHOD, default=auto"`

	GRPCHealthAddr string `env:"GRPC_HEALTH_ADDR"`
	LogLevel       string `env:"LOG_LEVEL, default=info"`
}

func LoadCfg(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var input In

	c, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := envconfig.ProcessWith(c, &envconfig.Config{Target: &input, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}

	if err := validateServerConfig(input); err != nil {
		return Config{}, err
	}
	if err := validateWorkerConfig(input); err != nil {
		return Config{}, err
	}
	if err := validateStoreConfig(input); err != nil {
		return Config{}, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(input.LogLevel)); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL %q: %w", input.LogLevel, err)
	}

	scratch := input.ScratchDir
	if scratch == "" {
		scratch = filepath.Join(os.TempDir(), "mineru-api")
	}

	cfg := Config{
		ServerCfg: ServerCfg{
			Host:      input.ServerHost,
			Port:      input.ServerPort,
			BodyLimit: input.BodyLimitMB * 1024 * 1024,
		},
		WorkerCfg: WorkerCfg{
			Executor:        input.Executor,
			Workers:         input.Workers,
			QueueLimit:      input.QueueLimit,
			AnalysisTimeout: input.AnalysisTimeout,
			ScratchDir:      scratch,
		},
		StoreCfg: StoreCfg{
			Driver:          input.StoreDriver,
			DSN:             input.StoreDSN,
			Capacity:        input.StoreCapacity,
			Retention:       input.Retention,
			JanitorInterval: input.JanitorInterval,
		},
		CacheCfg: CacheCfg{
			RedisAddress:  input.RedisAddress,
			RedisPassword: input.RedisPassword,
			RedisDB:       input.RedisDB,
		},
		AnalyzerCfg: AnalyzerCfg{
			Binary:      input.MinerUBinary,
			ParseMethod: input.ParseMethod,
		},
		GRPCHealthAddr: input.GRPCHealthAddr,
		LogLevel:       level,
	}

	return cfg, nil
}

func validateServerConfig(cfg In) error {
	if cfg.ServerPort < 1 || cfg.ServerPort > 65535 {
		return fmt.Errorf("expected port to be between 1 and 65535 but received: %d", cfg.ServerPort)
	}

	if net.ParseIP(cfg.ServerHost) == nil {
		return fmt.Errorf("expected valid IP address but received: %q", cfg.ServerHost)
	}

	if cfg.BodyLimitMB < 1 {
		return fmt.Errorf("expected positive body limit but received: %d", cfg.BodyLimitMB)
	}

	return nil
}

func validateWorkerConfig(cfg In) error {
	if cfg.Workers < 1 {
		return fmt.Errorf("expected at least one worker but received: %d", cfg.Workers)
	}
	if cfg.QueueLimit < 0 {
		return fmt.Errorf("expected non-negative queue limit but received: %d", cfg.QueueLimit)
	}
	if cfg.AnalysisTimeout < 0 {
		return fmt.Errorf("expected non-negative analysis timeout but received: %s", cfg.AnalysisTimeout)
	}
	switch cfg.Executor {
	case ExecutorLocal, ExecutorAsynq:
	default:
		return fmt.Errorf("unknown executor %q (want %s or %s)", cfg.Executor, ExecutorLocal, ExecutorAsynq)
	}
	switch cfg.ParseMethod {
	case "auto", "txt", "ocr":
	default:
		return fmt.Errorf("unknown parse method %q (want auto, txt or ocr)", cfg.ParseMethod)
	}
	return nil
}

func validateStoreConfig(cfg In) error {
	switch cfg.StoreDriver {
	case DriverMemory, DriverRedis:
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(cfg.StoreDSN) == "" {
			return fmt.Errorf("STORE_DSN is required for driver %q", cfg.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if cfg.StoreCapacity < 0 {
		return fmt.Errorf("expected non-negative store capacity but received: %d", cfg.StoreCapacity)
	}
	if cfg.Retention < 0 || cfg.JanitorInterval < 0 {
		return fmt.Errorf("retention and janitor interval must not be negative")
	}
	return nil
}
