package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var projectsTeam string

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List Vercel projects in scope",
	Long:  `List the id and name of every Vercel project visible to the token and team scope.`,
	Args:  cobra.NoArgs,
	RunE:  runProjects,
}

func init() {
	projectsCmd.Flags().StringVar(&projectsTeam, "team", "", "Vercel team id (overrides VERCEL_TEAM_ID)")
}

func runProjects(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := setupLogging(cmd.ErrOrStderr(), logFile, logLevel, logFormat)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	env := loadEnvironment(os.Getenv)
	if err := env.requireToken(); err != nil {
		return err
	}

	return env.redact(listProjects(cmd.Context(), configFile, projectsTeam, env, logger, cmd.OutOrStdout()))
}

func listProjects(ctx context.Context, cfgPath, team string, env environment, logger *slog.Logger, out io.Writer) error {
	cfg, _, err := loadConfiguration(cfgPath, logger)
	if err != nil {
		return err
	}

	c, err := newClients(cfg, env, team, logger)
	if err != nil {
		return err
	}

	projects, err := c.vercel.ListProjects(ctx)
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Name)
	}
	return w.Flush()
}
