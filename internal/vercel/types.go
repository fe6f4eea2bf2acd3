package vercel

import "time"

// Project is a provider project as returned by the projects endpoint
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Deployment is a single deployment as returned by the deployments endpoint.
// Created is epoch milliseconds.
type Deployment struct {
	UID        string   `json:"uid"`
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Created    int64    `json:"created"`
	State      string   `json:"state,omitempty"`
	ReadyState string   `json:"readyState,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
}

// CreatedAt returns the creation time in UTC
func (d Deployment) CreatedAt() time.Time {
	return time.UnixMilli(d.Created).UTC()
}

// Status returns the deployment state, falling back to readyState
func (d Deployment) Status() string {
	if d.State != "" {
		return d.State
	}
	if d.ReadyState != "" {
		return d.ReadyState
	}
	return "unknown"
}

// IsAliased reports whether any alias points at the deployment
func (d Deployment) IsAliased() bool {
	return len(d.Aliases) > 0
}

// pagination is the cursor block returned by list endpoints
type pagination struct {
	Count int    `json:"count"`
	Next  *int64 `json:"next"`
	Prev  *int64 `json:"prev"`
}

type projectsResponse struct {
	Projects   []Project   `json:"projects"`
	Pagination *pagination `json:"pagination"`
}

type deploymentsResponse struct {
	Deployments []Deployment `json:"deployments"`
	Pagination  *pagination  `json:"pagination"`
}
