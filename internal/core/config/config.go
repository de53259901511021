package config

import (
	"time"

	"github.com/vietddude/artline/internal/contract"
	"github.com/vietddude/artline/internal/infra/kie"
	redisclient "github.com/vietddude/artline/internal/infra/redis"
	"github.com/vietddude/artline/internal/infra/storage/postgres"
	"github.com/vietddude/artline/internal/jobs"
	"github.com/vietddude/artline/internal/pipeline"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig          `yaml:"server"`
	Logging  LoggingConfig         `yaml:"logging"`
	KIE      kie.Config            `yaml:"kie"`
	Jobs     jobs.Config           `yaml:"jobs"`
	Pipeline PipelineConfig        `yaml:"pipeline"`
	Stages   pipeline.StagesConfig `yaml:"stages"`
	Redis    redisclient.Config    `yaml:"redis"`
	Database postgres.Config       `yaml:"database"`

	// Retention is how long run and job records are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PipelineConfig holds run-level settings and normalization defaults.
type PipelineConfig struct {
	// MaxRegenerations is a pointer so an explicit 0 disables regeneration.
	MaxRegenerations *int                 `yaml:"max_regenerations"`
	PreviewLimit     int                  `yaml:"preview_limit"`
	Defaults         contract.Defaults    `yaml:"defaults"`
	Image            pipeline.ImageConfig `yaml:"image"`
}

// Runner returns the runner settings.
func (p PipelineConfig) Runner() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	if p.MaxRegenerations != nil {
		cfg.MaxRegenerations = *p.MaxRegenerations
	}
	return cfg
}
