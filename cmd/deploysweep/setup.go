package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"deploysweep/internal/backoff"
	"deploysweep/internal/config"
	"deploysweep/internal/gitsource"
	"deploysweep/internal/security"
	"deploysweep/internal/vercel"
	"deploysweep/pkg/fileutil"
)

// ErrMissingToken is returned when no provider token is present in the environment
var ErrMissingToken = errors.New("missing VERCEL_TOKEN (or VERSEL_TOKEN) env var")

// environment holds the secrets and scope read from environment variables
type environment struct {
	VercelToken string
	TeamID      string
	GitHubToken string
}

// loadEnvironment reads credentials; the VERSEL_ spellings are accepted as aliases
func loadEnvironment(getenv func(string) string) environment {
	first := func(keys ...string) string {
		for _, key := range keys {
			if v := getenv(key); v != "" {
				return v
			}
		}
		return ""
	}

	return environment{
		VercelToken: first("VERCEL_TOKEN", "VERSEL_TOKEN"),
		TeamID:      first("VERCEL_TEAM_ID", "VERSEL_TEAM_ID"),
		GitHubToken: first("GITHUB_TOKEN"),
	}
}

func (e environment) requireToken() error {
	if e.VercelToken == "" {
		return ErrMissingToken
	}
	return nil
}

// redact strips tokens from an error before it is surfaced
func (e environment) redact(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	clean := security.Redact(msg, e.VercelToken, e.GitHubToken)
	if clean == msg {
		return err
	}
	return errors.New(clean)
}

// loadConfiguration resolves and loads the config file. No file found in the
// default locations yields the built-in defaults.
func loadConfiguration(path string, logger *slog.Logger) (*config.Config, *config.Registry, error) {
	resolved, err := fileutil.ResolveConfig(path, config.DefaultFilename)
	if err != nil {
		return nil, nil, err
	}
	if resolved == "" {
		logger.Debug("No configuration file found, using defaults",
			"searched", fileutil.DefaultConfigPaths(config.DefaultFilename))
		return config.Defaults(), config.NewRegistry(nil), nil
	}

	logger.Debug("Loading configuration", "config", resolved)
	cfg, targets, err := config.LoadConfig(resolved)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	registry := config.NewRegistry(targets)
	logger.Debug("Configuration loaded", "config", resolved, "targets", registry.Count())

	return cfg, registry, nil
}

// clients bundles the API clients of one invocation
type clients struct {
	vercel *vercel.Client
	github *gitsource.Client
}

// newClients builds both API clients over a single rate-limit aware transport
func newClients(cfg *config.Config, env environment, teamID string, logger *slog.Logger) (*clients, error) {
	transport := backoff.NewTransport(http.DefaultTransport, cfg.RetryPolicy(), cfg.Limiter(), logger)

	if teamID == "" {
		teamID = env.TeamID
	}
	if teamID == "" {
		teamID = cfg.Vercel.TeamID
	}

	vc := vercel.NewClient(backoff.NewBearerClient(env.VercelToken, transport), vercel.Options{
		BaseURL: cfg.Vercel.APIURL,
		TeamID:  teamID,
		Logger:  logger,
	})

	gh, err := gitsource.NewClient(cfg.GitHub.APIURL, env.GitHubToken, transport)
	if err != nil {
		return nil, err
	}

	logger.Debug("API clients ready",
		"vercel_token", security.MaskToken(env.VercelToken),
		"github_token", security.MaskToken(env.GitHubToken),
		"team", teamID)

	return &clients{vercel: vc, github: gh}, nil
}
