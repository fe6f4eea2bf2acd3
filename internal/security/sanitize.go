package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	ownerPattern      = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,38})$`)
	repoPattern       = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,100}$`)
	projectRefPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,100}$`)
	deploymentPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)
)

// SplitRepo validates a repository identifier of the form owner/name and
// returns its two halves.
func SplitRepo(fullName string) (owner, repo string, err error) {
	if fullName == "" {
		return "", "", fmt.Errorf("repository cannot be empty")
	}

	parts := strings.Split(fullName, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name", fullName)
	}
	owner, repo = parts[0], parts[1]

	if !ownerPattern.MatchString(owner) {
		return "", "", fmt.Errorf("invalid repository owner %q", owner)
	}
	if repo == "." || repo == ".." || !repoPattern.MatchString(repo) {
		return "", "", fmt.Errorf("invalid repository name %q", repo)
	}

	return owner, repo, nil
}

// ValidateRepo ensures a repository identifier is owner/name
func ValidateRepo(fullName string) error {
	_, _, err := SplitRepo(fullName)
	return err
}

// ValidateProjectRef ensures a project id or name is safe for use in query strings.
func ValidateProjectRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("project cannot be empty")
	}
	if strings.HasPrefix(ref, "-") || strings.HasPrefix(ref, ".") {
		return fmt.Errorf("project cannot start with '-' or '.'")
	}
	if !projectRefPattern.MatchString(ref) {
		return fmt.Errorf("project contains invalid characters (only a-z, A-Z, 0-9, _, ., - allowed)")
	}
	return nil
}

// ValidateDeploymentID ensures a deployment uid is safe to place in a URL path.
// Prevents path traversal through ids echoed back by the API.
func ValidateDeploymentID(id string) error {
	if id == "" {
		return fmt.Errorf("deployment id cannot be empty")
	}
	if !deploymentPattern.MatchString(id) {
		return fmt.Errorf("deployment id %q contains invalid characters", id)
	}
	return nil
}
