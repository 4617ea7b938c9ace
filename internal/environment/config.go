package environment

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfig is the daemon's environment-derived configuration.
type EnvConfig struct {
	DatabaseURL string

	Workers      int
	SandboxBoxes int
	EpochMs      int64

	PointsAlpha float64
	PointsMin   float64

	ProblemsDir string
	AwsRegion   string

	// Optional collaborators; empty disables them.
	NatsURL    string
	SubmSqsURL string
}

// ReadEnvConfig loads .env (when present) and resolves the configuration.
// Invalid values are configuration errors, not defaults.
func ReadEnvConfig() (*EnvConfig, error) {
	_ = godotenv.Load()

	cfg := &EnvConfig{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ProblemsDir: os.Getenv("PROBLEMS_DIR"),
		AwsRegion:   os.Getenv("AWS_REGION"),
		NatsURL:     os.Getenv("NATS_URL"),
		SubmSqsURL:  os.Getenv("SUBM_SQS_URL"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if cfg.ProblemsDir == "" {
		cfg.ProblemsDir = "problems"
	}
	if cfg.AwsRegion == "" {
		cfg.AwsRegion = "eu-central-1"
	}

	var err error
	if cfg.Workers, err = intEnv("WORKERS", runtime.NumCPU()); err != nil {
		return nil, err
	}
	if cfg.SandboxBoxes, err = intEnv("SANDBOX_BOXES", cfg.Workers); err != nil {
		return nil, err
	}
	if cfg.EpochMs, err = int64Env("EPOCH_MS", 600_000); err != nil {
		return nil, err
	}
	if cfg.PointsAlpha, err = floatEnv("POINTS_ALPHA", 10); err != nil {
		return nil, err
	}
	if cfg.PointsMin, err = floatEnv("POINTS_MIN", 1); err != nil {
		return nil, err
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("WORKERS must be positive")
	}
	if cfg.SandboxBoxes < cfg.Workers {
		return nil, fmt.Errorf("SANDBOX_BOXES (%d) must be >= WORKERS (%d)",
			cfg.SandboxBoxes, cfg.Workers)
	}
	if cfg.EpochMs <= 0 {
		return nil, fmt.Errorf("EPOCH_MS must be positive")
	}
	return cfg, nil
}

// Epoch returns the mining period as a duration.
func (c *EnvConfig) Epoch() time.Duration {
	return time.Duration(c.EpochMs) * time.Millisecond
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func int64Env(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
