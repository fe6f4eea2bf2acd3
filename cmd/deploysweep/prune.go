package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"deploysweep/internal/history"
	"deploysweep/internal/prune"
	"deploysweep/pkg/fileutil"

	"github.com/spf13/cobra"
)

// pruneSettings are the prune flags after parsing. Boolean flags that a
// target preset can also set are nil unless given on the command line.
type pruneSettings struct {
	Repo           string
	Project        string
	AllProjects    *bool
	DryRun         bool
	Before         string
	IncludeAliased *bool
	Target         string
	Team           string
	HistoryDB      string
	ConfigFile     string
}

var (
	pruneFlags          pruneSettings
	pruneAllProjects    bool
	pruneIncludeAliased bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete deployments older than the cutoff",
	Long: `Delete deployments created before the latest commit of a GitHub repository.

The newest deployment of each project is always kept. Deployments with aliases
are skipped unless --include-aliased is given. Use --dry to preview.`,
	Example: `  deploysweep prune --repo acme/site --project website --dry
  deploysweep prune --before 2024-01-01T00:00:00Z --all-projects
  deploysweep prune --target website`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().StringVar(&pruneFlags.Repo, "repo", "", "GitHub repository (owner/name) whose latest commit is the cutoff")
	pruneCmd.Flags().StringVar(&pruneFlags.Project, "project", "", "Vercel project name or id")
	pruneCmd.Flags().BoolVar(&pruneAllProjects, "all-projects", false, "Apply to every project in scope")
	pruneCmd.Flags().BoolVar(&pruneFlags.DryRun, "dry", false, "List candidates without deleting")
	pruneCmd.Flags().StringVar(&pruneFlags.Before, "before", "", "Explicit ISO-8601 cutoff, overrides --repo")
	pruneCmd.Flags().BoolVar(&pruneIncludeAliased, "include-aliased", false, "Also delete deployments that have aliases")
	pruneCmd.Flags().StringVar(&pruneFlags.Target, "target", "", "Named target from the configuration file")
	pruneCmd.Flags().StringVar(&pruneFlags.Team, "team", "", "Vercel team id (overrides VERCEL_TEAM_ID)")
	pruneCmd.Flags().StringVar(&pruneFlags.HistoryDB, "history-db", getEnvOrDefault("DEPLOYSWEEP_DB_PATH", ""), "Record runs in this SQLite database")
}

func runPrune(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := setupLogging(cmd.ErrOrStderr(), logFile, logLevel, logFormat)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	env := loadEnvironment(os.Getenv)
	if err := env.requireToken(); err != nil {
		return err
	}

	settings := pruneFlags
	settings.ConfigFile = configFile
	settings.AllProjects = changedBool(cmd, "all-projects", pruneAllProjects)
	settings.IncludeAliased = changedBool(cmd, "include-aliased", pruneIncludeAliased)

	_, err = executePrune(cmd.Context(), settings, env, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
	return env.redact(err)
}

// executePrune wires configuration, clients and history into a prune run
func executePrune(ctx context.Context, settings pruneSettings, env environment, logger *slog.Logger, stdout, stderr io.Writer) (*prune.Summary, error) {
	cfg, registry, err := loadConfiguration(settings.ConfigFile, logger)
	if err != nil {
		return nil, err
	}

	opts := prune.Options{
		Repo:           settings.Repo,
		Project:        settings.Project,
		AllProjects:    settings.AllProjects != nil && *settings.AllProjects,
		DryRun:         settings.DryRun,
		Before:         settings.Before,
		IncludeAliased: settings.IncludeAliased != nil && *settings.IncludeAliased,
	}

	// Flags win over the preset
	if settings.Target != "" {
		target, err := registry.Get(settings.Target)
		if err != nil {
			return nil, fmt.Errorf("%w (available: %v)", err, registry.List())
		}
		if opts.Repo == "" {
			opts.Repo = target.Repo
		}
		if settings.Project == "" && settings.AllProjects == nil {
			opts.Project = target.Project
			opts.AllProjects = target.AllProjects
		}
		if settings.IncludeAliased == nil {
			opts.IncludeAliased = target.IncludeAliased
		}
		logger.Debug("Using target preset", "target", target.Name)
	}

	c, err := newClients(cfg, env, settings.Team, logger)
	if err != nil {
		return nil, err
	}

	pruner := prune.New(c.vercel, c.github, logger)
	pruner.Out = stdout
	pruner.ErrOut = stderr
	pruner.Secrets = []string{env.VercelToken, env.GitHubToken}

	if settings.HistoryDB != "" {
		if err := fileutil.EnsureParentDir(settings.HistoryDB); err != nil {
			return nil, err
		}
		hist, err := history.NewHistory(settings.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer hist.Close()
		pruner.Recorder = hist
	}

	summary, err := pruner.Run(ctx, opts)
	if err != nil {
		return summary, err
	}

	logger.Info("Prune finished",
		"projects", summary.Projects,
		"candidates", summary.Candidates,
		"deleted", summary.Deleted,
		"failed", summary.Failed,
		"dry_run", opts.DryRun)

	return summary, nil
}

// changedBool returns the flag value only when it was given on the command line
func changedBool(cmd *cobra.Command, name string, value bool) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}
