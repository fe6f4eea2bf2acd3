package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"deploysweep/internal/backoff"
	"deploysweep/internal/security"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFilename is the config file looked up in the default search paths
	DefaultFilename = "deploysweep.yaml"

	MaxRetriesLimit = 50
)

// Config is the on-disk configuration
type Config struct {
	Vercel    VercelConfig            `yaml:"vercel"`
	GitHub    GitHubConfig            `yaml:"github"`
	Retry     RetryConfig             `yaml:"retry"`
	RateLimit RateLimitConfig         `yaml:"rate_limit"`
	Targets   map[string]TargetConfig `yaml:"targets"`
}

type VercelConfig struct {
	APIURL string `yaml:"api_url"`
	TeamID string `yaml:"team_id"`
}

type GitHubConfig struct {
	APIURL string `yaml:"api_url"`
}

// RetryConfig overrides the rate-limit retry policy
type RetryConfig struct {
	MaxRetries *int          `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// RateLimitConfig paces outgoing requests; zero disables pacing
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// TargetConfig is a named prune preset as written in the file
type TargetConfig struct {
	Repo           string `yaml:"repo"`
	Project        string `yaml:"project"`
	AllProjects    bool   `yaml:"all_projects"`
	IncludeAliased bool   `yaml:"include_aliased"`
}

// Defaults returns the configuration used when no file is present
func Defaults() *Config {
	return &Config{Targets: make(map[string]TargetConfig)}
}

// LoadConfig loads and validates the configuration from a YAML file
func LoadConfig(configPath string) (*Config, map[string]*Target, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Empty YAML files leave the map nil
	if config.Targets == nil {
		config.Targets = make(map[string]TargetConfig)
	}

	if errs := ValidateConfig(config); len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration:\n%s", strings.Join(errs, "\n"))
	}

	targets := make(map[string]*Target)
	for name, targetConfig := range config.Targets {
		errs := ValidateTargetConfig(name, targetConfig)
		if len(errs) > 0 {
			return nil, nil, fmt.Errorf("invalid configuration for target '%s':\n%s",
				name, strings.Join(errs, "\n"))
		}

		targets[name] = &Target{
			Name:           name,
			Repo:           targetConfig.Repo,
			Project:        targetConfig.Project,
			AllProjects:    targetConfig.AllProjects,
			IncludeAliased: targetConfig.IncludeAliased,
		}
	}

	return config, targets, nil
}

// ValidateConfig validates the global sections
func ValidateConfig(config *Config) []string {
	var errors []string

	for _, u := range []struct{ field, value string }{
		{"vercel.api_url", config.Vercel.APIURL},
		{"github.api_url", config.GitHub.APIURL},
	} {
		if u.value != "" && !strings.HasPrefix(u.value, "https://") && !strings.HasPrefix(u.value, "http://") {
			errors = append(errors, fmt.Sprintf("  - %s must be an http(s) URL, got '%s'", u.field, u.value))
		}
	}

	if r := config.Retry.MaxRetries; r != nil && (*r < 0 || *r > MaxRetriesLimit) {
		errors = append(errors, fmt.Sprintf("  - retry.max_retries must be between 0 and %d, got %d", MaxRetriesLimit, *r))
	}
	if config.Retry.BaseDelay < 0 {
		errors = append(errors, "  - retry.base_delay cannot be negative")
	}
	if config.Retry.MaxDelay < 0 {
		errors = append(errors, "  - retry.max_delay cannot be negative")
	}
	if config.Retry.BaseDelay > 0 && config.Retry.MaxDelay > 0 && config.Retry.BaseDelay > config.Retry.MaxDelay {
		errors = append(errors, fmt.Sprintf("  - retry.base_delay (%s) exceeds retry.max_delay (%s)",
			config.Retry.BaseDelay, config.Retry.MaxDelay))
	}

	if config.RateLimit.RequestsPerSecond < 0 {
		errors = append(errors, "  - rate_limit.requests_per_second cannot be negative")
	}
	if config.RateLimit.Burst < 0 {
		errors = append(errors, "  - rate_limit.burst cannot be negative")
	}

	return errors
}

// ValidateTargetConfig validates a single target preset
func ValidateTargetConfig(name string, config TargetConfig) []string {
	var errors []string

	switch {
	case config.Project == "" && !config.AllProjects:
		errors = append(errors, fmt.Sprintf("  - Target '%s': set either 'project' or 'all_projects'", name))
	case config.Project != "" && config.AllProjects:
		errors = append(errors, fmt.Sprintf("  - Target '%s': 'project' and 'all_projects' are mutually exclusive", name))
	case config.Project != "":
		if err := security.ValidateProjectRef(config.Project); err != nil {
			errors = append(errors, fmt.Sprintf("  - Target '%s': %v", name, err))
		}
	}

	if config.Repo != "" {
		if err := security.ValidateRepo(config.Repo); err != nil {
			errors = append(errors, fmt.Sprintf("  - Target '%s': %v", name, err))
		}
	}

	return errors
}

// RetryPolicy returns the backoff policy with file overrides applied
func (c *Config) RetryPolicy() backoff.Policy {
	policy := backoff.DefaultPolicy()
	if c.Retry.MaxRetries != nil {
		policy.MaxRetries = *c.Retry.MaxRetries
	}
	if c.Retry.BaseDelay > 0 {
		policy.BaseDelay = c.Retry.BaseDelay
	}
	if c.Retry.MaxDelay > 0 {
		policy.MaxDelay = c.Retry.MaxDelay
	}
	return policy
}

// Limiter returns the request pacer, or nil when pacing is disabled
func (c *Config) Limiter() *rate.Limiter {
	if c.RateLimit.RequestsPerSecond <= 0 {
		return nil
	}
	burst := c.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RateLimit.RequestsPerSecond), burst)
}
