package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deploysweep/internal/backoff"
	"deploysweep/internal/fakeapi"
	"deploysweep/internal/history"
	"deploysweep/internal/prune"
	"deploysweep/internal/vercel"

	"github.com/spf13/pflag"
)

const testToken = "vc_test_token_0123456789"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(year int, month time.Month, d int) int64 {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC).UnixMilli()
}

// newTestAPI serves the scenario: latest commit 2024-01-01 and three
// deployments around it.
func newTestAPI(t *testing.T) (*fakeapi.Server, string) {
	t.Helper()

	api := fakeapi.New()
	api.Token = testToken
	api.SetCommits(fakeapi.Commit{SHA: "abc123", CommitterDate: "2024-01-01T00:00:00Z"})
	api.AddProject(vercel.Project{ID: "prj_web", Name: "website"},
		vercel.Deployment{UID: "dpl_old", URL: "old.vercel.app", Created: day(2023, 1, 1), State: "READY"},
		vercel.Deployment{UID: "dpl_mid", URL: "mid.vercel.app", Created: day(2023, 6, 1), State: "READY"},
		vercel.Deployment{UID: "dpl_new", URL: "new.vercel.app", Created: day(2024, 6, 1), State: "READY"},
	)
	api.AddProject(vercel.Project{ID: "prj_docs", Name: "docs"},
		vercel.Deployment{UID: "dpl_docs_old", URL: "docs-old.vercel.app", Created: day(2023, 3, 1), Aliases: []string{"docs.example.com"}},
		vercel.Deployment{UID: "dpl_docs_new", URL: "docs-new.vercel.app", Created: day(2024, 2, 1)},
	)

	server := httptest.NewServer(api.Router())
	t.Cleanup(server.Close)

	return api, server.URL
}

func writeTestConfig(t *testing.T, apiURL, extra string) string {
	t.Helper()

	content := fmt.Sprintf(`vercel:
  api_url: %[1]s
github:
  api_url: %[1]s/
retry:
  max_retries: 2
  base_delay: 1ms
  max_delay: 1ms
%[2]s`, apiURL, extra)

	path := filepath.Join(t.TempDir(), "deploysweep.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestExecutePrune_DryRun(t *testing.T) {
	api, url := newTestAPI(t)
	var stdout, stderr bytes.Buffer

	summary, err := executePrune(context.Background(), pruneSettings{
		Repo:       "acme/site",
		Project:    "website",
		DryRun:     true,
		ConfigFile: writeTestConfig(t, url, ""),
	}, environment{VercelToken: testToken}, quietLogger(), &stdout, &stderr)
	if err != nil {
		t.Fatalf("executePrune() error = %v", err)
	}

	if n := len(api.Requests(http.MethodDelete, "/")); n != 0 {
		t.Errorf("Expected no DELETE requests in dry run, got %d", n)
	}
	if summary.Candidates != 2 {
		t.Errorf("Expected 2 candidates, got %d", summary.Candidates)
	}

	out := stdout.String()
	if strings.Count(out, "[DRY]") != 2 {
		t.Errorf("Expected 2 [DRY] lines, got:\n%s", out)
	}
	if !strings.Contains(out, "Cutoff (latest commit): 2024-01-01T00:00:00.000Z") {
		t.Errorf("Expected cutoff from the latest commit, got:\n%s", out)
	}
	if strings.Contains(out, "dpl_new |") {
		t.Errorf("Expected newest deployment to be kept, got:\n%s", out)
	}
}

func TestExecutePrune_LiveWithHistory(t *testing.T) {
	api, url := newTestAPI(t)
	api.FailDelete("dpl_old", http.StatusInternalServerError)
	dbPath := filepath.Join(t.TempDir(), "state", "history.db")
	var stdout, stderr bytes.Buffer

	summary, err := executePrune(context.Background(), pruneSettings{
		Repo:       "acme/site",
		Project:    "prj_web",
		HistoryDB:  dbPath,
		ConfigFile: writeTestConfig(t, url, ""),
	}, environment{VercelToken: testToken}, quietLogger(), &stdout, &stderr)
	if err != nil {
		t.Fatalf("executePrune() error = %v", err)
	}

	deleted := api.Deleted()
	if len(deleted) != 1 || deleted[0] != "dpl_mid" {
		t.Errorf("Expected only dpl_mid deleted, got %v", deleted)
	}
	if summary.Failed != 1 {
		t.Errorf("Expected 1 failed deletion, got %d", summary.Failed)
	}
	if !strings.Contains(stderr.String(), "ERROR deleting dpl_old") {
		t.Errorf("Expected deletion error on stderr, got %q", stderr.String())
	}

	hist, err := history.NewHistory(dbPath)
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	defer hist.Close()

	latest, err := hist.GetLatestRun(context.Background())
	if err != nil || latest == nil {
		t.Fatalf("Expected a recorded run, got %v, %v", latest, err)
	}
	if latest.Status() != "partial" || latest.Deleted != 1 || latest.Target != "prj_web" {
		t.Errorf("Unexpected run record %+v", latest)
	}
}

func TestExecutePrune_AllProjectsFromTarget(t *testing.T) {
	api, url := newTestAPI(t)
	config := writeTestConfig(t, url, `targets:
  everything:
    repo: acme/site
    all_projects: true
`)
	var stdout bytes.Buffer

	summary, err := executePrune(context.Background(), pruneSettings{
		Target:     "everything",
		DryRun:     true,
		ConfigFile: config,
	}, environment{VercelToken: testToken}, quietLogger(), &stdout, io.Discard)
	if err != nil {
		t.Fatalf("executePrune() error = %v", err)
	}

	if summary.Projects != 2 {
		t.Errorf("Expected 2 projects, got %d", summary.Projects)
	}
	// docs: the only older deployment is aliased
	if summary.SkippedAliased != 1 || summary.Candidates != 2 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if n := len(api.Requests(http.MethodDelete, "/")); n != 0 {
		t.Errorf("Expected no deletes, got %d", n)
	}
}

func TestExecutePrune_FlagOverridesTargetIncludeAliased(t *testing.T) {
	api, url := newTestAPI(t)
	config := writeTestConfig(t, url, `targets:
  docs:
    repo: acme/site
    project: docs
    include_aliased: true
`)
	off := false

	summary, err := executePrune(context.Background(), pruneSettings{
		Target:         "docs",
		IncludeAliased: &off,
		ConfigFile:     config,
	}, environment{VercelToken: testToken}, quietLogger(), io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("executePrune() error = %v", err)
	}

	if summary.SkippedAliased != 1 || summary.Deleted != 0 {
		t.Errorf("Expected the aliased deployment to be skipped, got %+v", summary)
	}
	if deleted := api.Deleted(); len(deleted) != 0 {
		t.Errorf("Expected no deletes, got %v", deleted)
	}
}

func TestExecutePrune_TargetIncludeAliasedWhenFlagUnset(t *testing.T) {
	api, url := newTestAPI(t)
	config := writeTestConfig(t, url, `targets:
  docs:
    repo: acme/site
    project: docs
    include_aliased: true
`)

	summary, err := executePrune(context.Background(), pruneSettings{
		Target:     "docs",
		ConfigFile: config,
	}, environment{VercelToken: testToken}, quietLogger(), io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("executePrune() error = %v", err)
	}

	if summary.Deleted != 1 {
		t.Errorf("Expected the preset to include aliased deployments, got %+v", summary)
	}
	if deleted := api.Deleted(); len(deleted) != 1 || deleted[0] != "dpl_docs_old" {
		t.Errorf("Expected dpl_docs_old deleted, got %v", deleted)
	}
}

func TestPruneCommand_ExplicitFalseBeatsTarget(t *testing.T) {
	api, url := newTestAPI(t)
	config := writeTestConfig(t, url, `targets:
  docs:
    repo: acme/site
    project: docs
    include_aliased: true
    all_projects: false
`)
	t.Setenv("VERCEL_TOKEN", testToken)
	t.Cleanup(resetCommandFlags)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"prune", "--config", config, "--log-level", "error", "--target", "docs", "--include-aliased=false"})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("prune failed: %v\n%s", err, stderr.String())
	}

	if deleted := api.Deleted(); len(deleted) != 0 {
		t.Errorf("Expected --include-aliased=false to keep aliased deployments, deleted %v", deleted)
	}
	if !strings.Contains(stdout.String(), "docs") {
		t.Errorf("Expected the docs project in output, got %q", stdout.String())
	}
}

// resetCommandFlags restores flag defaults between command invocations
func resetCommandFlags() {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	pruneCmd.Flags().VisitAll(reset)
	rootCmd.SetArgs(nil)
	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
}

func TestExecutePrune_TeamScope(t *testing.T) {
	api, url := newTestAPI(t)

	_, err := executePrune(context.Background(), pruneSettings{
		Before:     "2024-01-01",
		Project:    "website",
		DryRun:     true,
		ConfigFile: writeTestConfig(t, url, ""),
	}, environment{VercelToken: testToken, TeamID: "team_env"}, quietLogger(), io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("executePrune() error = %v", err)
	}

	for _, r := range api.Requests(http.MethodGet, "/v") {
		if r.Query.Get("teamId") != "team_env" {
			t.Errorf("Expected teamId=team_env on %s, got %v", r.Path, r.Query)
		}
	}
	if n := len(api.Requests(http.MethodGet, "/repos/")); n != 0 {
		t.Errorf("Expected explicit cutoff to skip the commit lookup, got %d requests", n)
	}
}

func TestExecutePrune_Errors(t *testing.T) {
	tests := []struct {
		name     string
		settings pruneSettings
		wantErr  error
		wantMsg  string
	}{
		{"no target", pruneSettings{Repo: "acme/site"}, prune.ErrNoTarget, ""},
		{"unknown project", pruneSettings{Repo: "acme/site", Project: "blog"}, vercel.ErrProjectNotFound, ""},
		{"unknown preset", pruneSettings{Target: "nope"}, nil, "target 'nope' not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := newTestAPI(t)
			tt.settings.ConfigFile = writeTestConfig(t, url, "")

			_, err := executePrune(context.Background(), tt.settings,
				environment{VercelToken: testToken}, quietLogger(), io.Discard, io.Discard)
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestExecutePrune_RateLimitExhausted(t *testing.T) {
	api, url := newTestAPI(t)
	api.RateLimit(10, time.Time{}, "0")

	_, err := executePrune(context.Background(), pruneSettings{
		Before:     "2024-01-01",
		Project:    "website",
		ConfigFile: writeTestConfig(t, url, ""),
	}, environment{VercelToken: testToken}, quietLogger(), io.Discard, io.Discard)
	if !errors.Is(err, backoff.ErrRetriesExhausted) {
		t.Errorf("Expected ErrRetriesExhausted, got %v", err)
	}
}

func TestLoadEnvironment(t *testing.T) {
	env := loadEnvironment(func(key string) string {
		return map[string]string{
			"VERSEL_TOKEN":   "legacy_token",
			"VERCEL_TEAM_ID": "team_1",
			"VERSEL_TEAM_ID": "team_legacy",
		}[key]
	})

	if env.VercelToken != "legacy_token" {
		t.Errorf("Expected VERSEL_TOKEN alias to be honoured, got %q", env.VercelToken)
	}
	if env.TeamID != "team_1" {
		t.Errorf("Expected VERCEL_TEAM_ID to win over its alias, got %q", env.TeamID)
	}
	if env.GitHubToken != "" {
		t.Errorf("Expected no GitHub token, got %q", env.GitHubToken)
	}

	if err := (environment{}).requireToken(); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
}

func TestEnvironment_Redact(t *testing.T) {
	env := environment{VercelToken: testToken}

	err := env.redact(fmt.Errorf("request failed: token %s rejected", testToken))
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("Expected token redacted, got %v", err)
	}

	orig := errors.New("plain failure")
	if env.redact(orig) != orig {
		t.Error("Expected errors without secrets to pass through unchanged")
	}
	if env.redact(nil) != nil {
		t.Error("Expected nil to stay nil")
	}
}

func TestSetupLogging(t *testing.T) {
	var stderr bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "deploysweep.log")

	logger, closeLog, err := setupLogging(&stderr, logPath, "debug", "json")
	if err != nil {
		t.Fatalf("setupLogging() error = %v", err)
	}
	logger.Debug("hello", "key", "value")
	if err := closeLog(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) || !strings.Contains(stderr.String(), `"key":"value"`) {
		t.Errorf("Expected JSON log in both outputs, file=%q stderr=%q", data, stderr.String())
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Failed to stat log file: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o007 != 0 {
		t.Errorf("Expected log file not world accessible, got %v", perm)
	}

	if _, _, err := setupLogging(&stderr, "", "loud", "text"); err == nil {
		t.Error("Expected invalid level to be rejected")
	}
	if _, _, err := setupLogging(&stderr, "", "info", "xml"); err == nil {
		t.Error("Expected invalid format to be rejected")
	}
}

func TestSetupLogging_TightensExistingFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "deploysweep.log")
	if err := os.WriteFile(logPath, []byte("earlier\n"), 0644); err != nil {
		t.Fatalf("Failed to seed log file: %v", err)
	}
	if err := os.Chmod(logPath, 0644); err != nil {
		t.Fatalf("Failed to chmod: %v", err)
	}

	logger, closeLog, err := setupLogging(io.Discard, logPath, "info", "text")
	if err != nil {
		t.Fatalf("setupLogging() error = %v", err)
	}
	logger.Info("appended")
	closeLog()

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Failed to stat log file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0640 {
		t.Errorf("Log file permissions = %04o, want 0640", perm)
	}
	data, _ := os.ReadFile(logPath)
	if !strings.HasPrefix(string(data), "earlier\n") || !strings.Contains(string(data), "appended") {
		t.Errorf("Expected appended log, got %q", data)
	}
}

func TestLoadConfiguration_LogsTargets(t *testing.T) {
	config := writeTestConfig(t, "http://127.0.0.1:1", `targets:
  website:
    repo: acme/site
    project: website
  docs:
    project: docs
`)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, registry, err := loadConfiguration(config, logger)
	if err != nil {
		t.Fatalf("loadConfiguration() error = %v", err)
	}
	if got := registry.List(); len(got) != 2 {
		t.Errorf("Expected 2 targets, got %v", got)
	}
	if !strings.Contains(logs.String(), "targets=2") {
		t.Errorf("Expected target count in debug log, got %q", logs.String())
	}
}
