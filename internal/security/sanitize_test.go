package security

import (
	"testing"
)

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		name      string
		repo      string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		// Valid cases
		{"simple", "jaspermayone/website", "jaspermayone", "website", false},
		{"dashes", "my-org/my-repo", "my-org", "my-repo", false},
		{"dots and underscores", "acme/site_v2.io", "acme", "site_v2.io", false},

		// Invalid formats
		{"empty", "", "", "", true},
		{"missing name", "owner", "", "", true},
		{"trailing slash", "owner/", "", "", true},
		{"too many parts", "owner/repo/extra", "", "", true},
		{"path traversal", "../etc", "", "", true},
		{"dot dot repo", "owner/..", "", "", true},
		{"query injection", "owner/repo?per_page=100", "", "", true},
		{"spaces", "owner/my repo", "", "", true},
		{"owner starting with dash", "-owner/repo", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := SplitRepo(tt.repo)
			if (err != nil) != tt.wantErr {
				t.Errorf("SplitRepo() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("SplitRepo() = %q, %q, want %q, %q", owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}

func TestValidateProjectRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"project name", "website", false},
		{"project id", "prj_abc123XYZ", false},
		{"with dots", "docs.site", false},
		{"empty", "", true},
		{"leading dash", "-website", true},
		{"leading dot", ".hidden", true},
		{"ampersand", "website&teamId=other", true},
		{"slash", "a/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProjectRef(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProjectRef() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDeploymentID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"typical uid", "dpl_89qyp1cskzkLrVicDaZoDbjyHuDJ", false},
		{"empty", "", true},
		{"path traversal", "../v9/projects", true},
		{"slash", "dpl_1/2", true},
		{"query", "dpl_1?force=1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeploymentID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDeploymentID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
