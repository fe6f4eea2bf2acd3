package cutoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoCutoffSource is returned when neither an explicit cutoff nor a
	// repository was supplied
	ErrNoCutoffSource = errors.New("no cutoff: pass --before <ISO-8601> or --repo owner/name")

	// ErrInvalidCutoff is returned for an unparseable explicit cutoff
	ErrInvalidCutoff = errors.New("invalid cutoff date")
)

// Source records where a cutoff came from
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceCommit   Source = "latest commit"
)

// CommitSource resolves the date of a repository's latest commit
type CommitSource interface {
	LatestCommitDate(ctx context.Context, repoFullName string) (time.Time, error)
}

// Cutoff is the instant before which deployments are considered stale
type Cutoff struct {
	At     time.Time
	Source Source
	Repo   string
}

// String renders the cutoff as ISO-8601 with millisecond precision
func (c Cutoff) String() string {
	return FormatISO(c.At)
}

// Before reports whether an epoch-millisecond timestamp is strictly older
// than the cutoff
func (c Cutoff) Before(epochMillis int64) bool {
	return epochMillis < c.At.UnixMilli()
}

// layouts accepted for explicit cutoffs; zone-less values are UTC
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Parse parses an explicit cutoff value
func Parse(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCutoff, value)
}

// Resolve returns the cutoff. An explicit value wins; otherwise the latest
// commit date of repo is fetched from source.
func Resolve(ctx context.Context, explicit, repo string, source CommitSource) (Cutoff, error) {
	if explicit != "" {
		at, err := Parse(explicit)
		if err != nil {
			return Cutoff{}, err
		}
		return Cutoff{At: at, Source: SourceExplicit, Repo: repo}, nil
	}

	if repo == "" {
		return Cutoff{}, ErrNoCutoffSource
	}
	if source == nil {
		return Cutoff{}, fmt.Errorf("no commit source configured for %s", repo)
	}

	at, err := source.LatestCommitDate(ctx, repo)
	if err != nil {
		return Cutoff{}, err
	}
	return Cutoff{At: at.UTC(), Source: SourceCommit, Repo: repo}, nil
}

// FormatISO renders t like JavaScript's Date.toISOString
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
