package history

import "time"

// Outcome is what happened to a single candidate deployment
type Outcome string

const (
	OutcomeDry     Outcome = "dry"
	OutcomeDeleted Outcome = "deleted"
	OutcomeFailed  Outcome = "failed"
)

// RunRecord represents a single prune run in the database
type RunRecord struct {
	ID             int64
	Repo           string
	Target         string // project id/name, or "*" for all projects
	Cutoff         time.Time
	CutoffSource   string
	DryRun         bool
	IncludeAliased bool
	StartedAt      time.Time
	CompletedAt    *time.Time // nullable
	Projects       int
	Candidates     int
	Deleted        int
	Failed         int
	SkippedAliased int
	ErrorMessage   *string // nullable, set when the run aborted
	Deployments    []DeploymentRecord
}

// Status summarises a run for display
func (r *RunRecord) Status() string {
	switch {
	case r.ErrorMessage != nil:
		return "aborted"
	case r.DryRun:
		return "dry-run"
	case r.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

// DeploymentRecord is one candidate deployment handled by a run
type DeploymentRecord struct {
	ID           int64
	RunID        int64
	ProjectID    string
	ProjectName  string
	UID          string
	URL          string
	CreatedAt    time.Time
	State        string
	Outcome      Outcome
	ErrorMessage *string // nullable
}
