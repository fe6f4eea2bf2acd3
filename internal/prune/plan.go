package prune

import (
	"sort"

	"deploysweep/internal/cutoff"
	"deploysweep/internal/vercel"
)

// Plan is the deletion plan for a single project
type Plan struct {
	// Sorted holds every deployment, newest first
	Sorted []vercel.Deployment

	// Newest is retained regardless of the cutoff; nil when there are no deployments
	Newest *vercel.Deployment

	// Older are deployments strictly before the cutoff, excluding Newest
	Older []vercel.Deployment

	// Aliased is the subset of Older that carries aliases
	Aliased []vercel.Deployment

	// Delete is what the run will remove
	Delete []vercel.Deployment

	IncludeAliased bool
}

// Total returns the number of deployments the plan was built from
func (p *Plan) Total() int {
	return len(p.Sorted)
}

// Skipped returns the number of aliased deployments left in place
func (p *Plan) Skipped() int {
	if p.IncludeAliased {
		return 0
	}
	return len(p.Aliased)
}

// NewPlan builds the deletion plan for deployments against c. The input
// slice is not modified.
func NewPlan(deployments []vercel.Deployment, c cutoff.Cutoff, includeAliased bool) *Plan {
	sorted := make([]vercel.Deployment, len(deployments))
	copy(sorted, deployments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Created > sorted[j].Created
	})

	plan := &Plan{Sorted: sorted, IncludeAliased: includeAliased}
	if len(sorted) == 0 {
		return plan
	}
	plan.Newest = &sorted[0]

	for _, d := range sorted[1:] {
		if !c.Before(d.Created) {
			continue
		}
		plan.Older = append(plan.Older, d)
		if d.IsAliased() {
			plan.Aliased = append(plan.Aliased, d)
			if !includeAliased {
				continue
			}
		}
		plan.Delete = append(plan.Delete, d)
	}

	return plan
}
