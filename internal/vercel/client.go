package vercel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"deploysweep/internal/backoff"
	"deploysweep/internal/security"
)

const (
	// DefaultBaseURL is the public provider API
	DefaultBaseURL = "https://api.vercel.com"

	// DefaultPageSize is the page size used for list endpoints
	DefaultPageSize = 100

	// UserAgent identifies the tool to the provider
	UserAgent = "deploysweep/1.0"
)

// ErrProjectNotFound is returned when no project matches an id or name
var ErrProjectNotFound = errors.New("project not found")

// Options configures a Client
type Options struct {
	BaseURL  string
	TeamID   string
	PageSize int
	Logger   *slog.Logger
}

// Client talks to the provider's project and deployment endpoints
type Client struct {
	api      *backoff.Client
	baseURL  string
	teamID   string
	pageSize int
	logger   *slog.Logger
}

// NewClient creates a provider client. httpClient is expected to carry
// authentication and rate-limit handling (see backoff.NewBearerClient).
func NewClient(httpClient *http.Client, opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:      backoff.NewClient(httpClient, UserAgent),
		baseURL:  baseURL,
		teamID:   opts.TeamID,
		pageSize: pageSize,
		logger:   logger,
	}
}

// ListProjects returns every project in scope, following pagination cursors
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	var until *int64

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(c.pageSize))
		if until != nil {
			params.Set("until", strconv.FormatInt(*until, 10))
		}

		var res projectsResponse
		if err := c.api.DoJSON(ctx, http.MethodGet, c.endpoint("/v9/projects", params), nil, nil, &res); err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		projects = append(projects, res.Projects...)

		if res.Pagination == nil || res.Pagination.Next == nil || len(res.Projects) == 0 {
			break
		}
		if until != nil && *res.Pagination.Next >= *until {
			break
		}
		next := *res.Pagination.Next
		until = &next
	}

	return projects, nil
}

// FindProject returns the project whose id or name equals ref
func (c *Client) FindProject(ctx context.Context, ref string) (*Project, error) {
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	for i := range projects {
		if projects[i].ID == ref || projects[i].Name == ref {
			return &projects[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, ref)
}

// ListDeployments returns every deployment of a project, newest pages first.
// Pages are requested with the creation time of the previous page's last item
// as the "until" cursor, and enumeration stops on an empty or short page.
func (c *Client) ListDeployments(ctx context.Context, projectID string) ([]Deployment, error) {
	var deployments []Deployment
	var until *int64

	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("projectId", projectID)
		params.Set("limit", strconv.Itoa(c.pageSize))
		if until != nil {
			params.Set("until", strconv.FormatInt(*until, 10))
		}

		var res deploymentsResponse
		if err := c.api.DoJSON(ctx, http.MethodGet, c.endpoint("/v6/deployments", params), nil, nil, &res); err != nil {
			return nil, fmt.Errorf("failed to list deployments for %s: %w", projectID, err)
		}

		if len(res.Deployments) == 0 {
			break
		}
		deployments = append(deployments, res.Deployments...)
		c.logger.Debug("Fetched deployments page", "project", projectID, "page", page, "count", len(res.Deployments))

		last := res.Deployments[len(res.Deployments)-1].Created
		if len(res.Deployments) < c.pageSize {
			break
		}
		if until != nil && last >= *until {
			c.logger.Warn("Deployment cursor did not advance, stopping", "project", projectID, "until", last)
			break
		}
		until = &last
	}

	return deployments, nil
}

// DeleteDeployment deletes a single deployment by uid
func (c *Client) DeleteDeployment(ctx context.Context, uid string) error {
	if err := security.ValidateDeploymentID(uid); err != nil {
		return err
	}

	if err := c.api.DoJSON(ctx, http.MethodDelete, c.endpoint("/v13/deployments/"+uid, url.Values{}), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete deployment %s: %w", uid, err)
	}
	return nil
}

// endpoint builds an API URL, adding the team scope when configured
func (c *Client) endpoint(path string, params url.Values) string {
	if c.teamID != "" {
		params.Set("teamId", c.teamID)
	}
	u := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}
