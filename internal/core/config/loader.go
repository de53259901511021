package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/artline/internal/contract"
	"github.com/vietddude/artline/internal/infra/kie"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${ENV} references first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return &cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.KIE.BaseURL == "" {
		c.KIE.BaseURL = kie.DefaultBaseURL
	}
	if c.KIE.Model == "" {
		c.KIE.Model = kie.DefaultModel
	}
	if c.KIE.APIKey == "" {
		c.KIE.APIKey = os.Getenv("KIE_API_KEY")
	}

	c.Jobs = c.Jobs.WithDefaults()

	std := contract.DefaultDefaults()
	if c.Pipeline.Defaults.AspectRatio == "" {
		c.Pipeline.Defaults.AspectRatio = std.AspectRatio
	}
	if c.Pipeline.Defaults.Style == "" {
		c.Pipeline.Defaults.Style = std.Style
	}
	if c.Pipeline.Defaults.Quality == "" {
		c.Pipeline.Defaults.Quality = std.Quality
	}
	if c.Pipeline.PreviewLimit <= 0 {
		c.Pipeline.PreviewLimit = contract.DefaultPreviewLimit
	}
	c.Pipeline.Image = c.Pipeline.Image.WithDefaults()
	if c.Pipeline.Image.Model == "" {
		c.Pipeline.Image.Model = c.KIE.Model
	}
}

// Validate reports configuration errors that would otherwise surface mid-run.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	if err := c.Jobs.SubmitBackoff.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("jobs.submit_backoff: %w", err))
	}
	if err := c.Jobs.PollBackoff.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("jobs.poll_backoff: %w", err))
	}
	if !contract.IsSupportedAspectRatio(c.Pipeline.Defaults.AspectRatio) {
		errs = append(errs, fmt.Errorf("pipeline.defaults.aspect_ratio %q is not supported", c.Pipeline.Defaults.AspectRatio))
	}
	if c.Retention < 0 {
		errs = append(errs, fmt.Errorf("retention must not be negative"))
	}
	if n := c.Pipeline.MaxRegenerations; n != nil && *n < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_regenerations must not be negative"))
	}

	return errors.Join(errs...)
}
