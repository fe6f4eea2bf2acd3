package prune

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"deploysweep/internal/cutoff"
	"deploysweep/internal/history"
	"deploysweep/internal/security"
	"deploysweep/internal/vercel"
)

var (
	// ErrNoTarget is returned when neither a project nor all projects was requested
	ErrNoTarget = errors.New("no target: pass --project <name|id> or --all-projects")

	// ErrConflictingTarget is returned when both a project and all projects were requested
	ErrConflictingTarget = errors.New("--project and --all-projects are mutually exclusive")
)

// AllProjectsTarget is the target recorded for runs over every project
const AllProjectsTarget = "*"

// Provider is the hosting API the pruner operates on
type Provider interface {
	ListProjects(ctx context.Context) ([]vercel.Project, error)
	FindProject(ctx context.Context, ref string) (*vercel.Project, error)
	ListDeployments(ctx context.Context, projectID string) ([]vercel.Deployment, error)
	DeleteDeployment(ctx context.Context, uid string) error
}

// Recorder persists the outcome of a run
type Recorder interface {
	RecordRun(ctx context.Context, record *history.RunRecord) (int64, error)
}

// Options configures a single run
type Options struct {
	Repo           string
	Project        string
	AllProjects    bool
	DryRun         bool
	Before         string
	IncludeAliased bool
}

// Summary is the aggregate result of a run
type Summary struct {
	Cutoff         cutoff.Cutoff
	Projects       int
	Candidates     int
	Deleted        int
	Failed         int
	SkippedAliased int
	RunID          int64
}

// Pruner runs the filter and delete pipeline
type Pruner struct {
	Provider Provider
	Commits  cutoff.CommitSource
	Recorder Recorder // optional

	// Out receives the run report; defaults to os.Stdout
	Out io.Writer
	// ErrOut receives per-deployment errors; defaults to os.Stderr
	ErrOut io.Writer
	Logger *slog.Logger

	// Secrets are masked in error text before it is printed or recorded
	Secrets []string

	Now func() time.Time
}

// New creates a Pruner writing its report to stdout
func New(provider Provider, commits cutoff.CommitSource, logger *slog.Logger) *Pruner {
	return &Pruner{
		Provider: provider,
		Commits:  commits,
		Out:      os.Stdout,
		ErrOut:   os.Stderr,
		Logger:   logger,
	}
}

// Run executes one prune run
func (p *Pruner) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	c, err := cutoff.Resolve(ctx, opts.Before, opts.Repo, p.Commits)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Cutoff: c}
	record := &history.RunRecord{
		Repo:           opts.Repo,
		Target:         targetName(opts),
		Cutoff:         c.At,
		CutoffSource:   string(c.Source),
		DryRun:         opts.DryRun,
		IncludeAliased: opts.IncludeAliased,
		StartedAt:      p.now(),
	}

	p.printHeader(opts, c)

	runErr := p.run(ctx, opts, c, summary, record)

	p.record(ctx, summary, record, runErr)
	if runErr != nil {
		return summary, runErr
	}

	p.printf("\nDone. Candidates: %d. Deleted: %d.", summary.Candidates, summary.Deleted)
	if summary.Failed > 0 {
		p.printf(" Failed: %d.", summary.Failed)
	}
	p.printf("\n")

	return summary, nil
}

func (p *Pruner) run(ctx context.Context, opts Options, c cutoff.Cutoff, summary *Summary, record *history.RunRecord) error {
	projects, err := p.targets(ctx, opts)
	if err != nil {
		return err
	}

	for i, project := range projects {
		if i > 0 {
			p.printf("\n")
		}
		if err := p.pruneProject(ctx, project, opts, c, summary, record); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pruner) targets(ctx context.Context, opts Options) ([]vercel.Project, error) {
	if opts.AllProjects {
		projects, err := p.Provider.ListProjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		if len(projects) == 0 {
			p.printf("No projects found.\n")
		}
		return projects, nil
	}

	project, err := p.Provider.FindProject(ctx, opts.Project)
	if err != nil {
		return nil, err
	}
	return []vercel.Project{*project}, nil
}

func (p *Pruner) pruneProject(ctx context.Context, project vercel.Project, opts Options, c cutoff.Cutoff, summary *Summary, record *history.RunRecord) error {
	summary.Projects++
	p.printf("Project: %s (%s)\n", project.Name, project.ID)

	deployments, err := p.Provider.ListDeployments(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("failed to list deployments for %s: %w", project.Name, err)
	}
	if len(deployments) == 0 {
		p.printf("  No deployments\n")
		return nil
	}

	plan := NewPlan(deployments, c, opts.IncludeAliased)

	if n := plan.Skipped(); n > 0 {
		p.printf("  Skipping aliased: %d\n", n)
	}
	p.printf("  Total: %d\n", plan.Total())
	p.printf("  Older than cutoff: %d\n", len(plan.Older))
	p.printf("  Will delete: %d\n", len(plan.Delete))

	summary.Candidates += len(plan.Delete)
	summary.SkippedAliased += plan.Skipped()

	for _, d := range plan.Delete {
		entry := history.DeploymentRecord{
			ProjectID:   project.ID,
			ProjectName: project.Name,
			UID:         d.UID,
			URL:         d.URL,
			CreatedAt:   d.CreatedAt(),
			State:       d.Status(),
		}

		info := fmt.Sprintf("    - %s | created=%s | url=%s | state=%s",
			d.UID, cutoff.FormatISO(d.CreatedAt()), d.URL, d.Status())

		if opts.DryRun {
			p.printf("%s [DRY]\n", info)
			entry.Outcome = history.OutcomeDry
			record.Deployments = append(record.Deployments, entry)
			continue
		}

		if err := p.Provider.DeleteDeployment(ctx, d.UID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			msg := p.redact(err)
			fmt.Fprintf(p.errOut(), "    ERROR deleting %s: %s\n", d.UID, msg)
			p.logger().Debug("Deployment deletion failed",
				"project", project.Name,
				"uid", d.UID,
				"error", msg)
			summary.Failed++
			entry.Outcome = history.OutcomeFailed
			entry.ErrorMessage = &msg
			record.Deployments = append(record.Deployments, entry)
			continue
		}

		p.printf("%s [DELETED]\n", info)
		summary.Deleted++
		entry.Outcome = history.OutcomeDeleted
		record.Deployments = append(record.Deployments, entry)
	}

	return nil
}

func (p *Pruner) printHeader(opts Options, c cutoff.Cutoff) {
	if opts.Repo != "" {
		p.printf("Repo: %s\n", opts.Repo)
	}
	p.printf("Cutoff (%s): %s\n", c.Source, c)
	if opts.AllProjects {
		p.printf("Target Vercel projects: all\n")
	} else {
		p.printf("Target Vercel project: %s\n", opts.Project)
	}
	if opts.DryRun {
		p.printf("Mode: DRY RUN\n")
	} else {
		p.printf("Mode: LIVE\n")
	}
	if opts.IncludeAliased {
		p.printf("Aliased deployments: WILL DELETE\n")
	} else {
		p.printf("Aliased deployments: SKIP\n")
	}
	p.printf("\n")
}

// record hands the run to the Recorder. Recording failures are logged only.
func (p *Pruner) record(ctx context.Context, summary *Summary, record *history.RunRecord, runErr error) {
	if p.Recorder == nil {
		return
	}

	completed := p.now()
	record.CompletedAt = &completed
	record.Projects = summary.Projects
	record.Candidates = summary.Candidates
	record.Deleted = summary.Deleted
	record.Failed = summary.Failed
	record.SkippedAliased = summary.SkippedAliased
	if runErr != nil {
		msg := p.redact(runErr)
		record.ErrorMessage = &msg
	}

	// The run may have been aborted by cancellation; still persist it.
	id, err := p.Recorder.RecordRun(context.WithoutCancel(ctx), record)
	if err != nil {
		p.logger().Warn("Failed to record run history", "error", err)
		return
	}
	summary.RunID = id
}

func validateOptions(opts Options) error {
	switch {
	case opts.AllProjects && opts.Project != "":
		return ErrConflictingTarget
	case !opts.AllProjects && opts.Project == "":
		return ErrNoTarget
	}

	if opts.Project != "" {
		if err := security.ValidateProjectRef(opts.Project); err != nil {
			return err
		}
	}
	if opts.Repo != "" {
		if err := security.ValidateRepo(opts.Repo); err != nil {
			return err
		}
	}
	return nil
}

func targetName(opts Options) string {
	if opts.AllProjects {
		return AllProjectsTarget
	}
	return opts.Project
}

func (p *Pruner) printf(format string, args ...any) {
	fmt.Fprintf(p.out(), format, args...)
}

func (p *Pruner) out() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

func (p *Pruner) redact(err error) string {
	return security.Redact(err.Error(), p.Secrets...)
}

func (p *Pruner) errOut() io.Writer {
	if p.ErrOut == nil {
		return os.Stderr
	}
	return p.ErrOut
}

func (p *Pruner) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pruner) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
