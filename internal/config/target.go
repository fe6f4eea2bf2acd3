package config

// Target is a validated prune preset
type Target struct {
	Name           string
	Repo           string
	Project        string
	AllProjects    bool
	IncludeAliased bool
}
