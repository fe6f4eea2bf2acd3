// Package prune selects stale deployments and deletes them.
//
// A run resolves a cutoff instant, enumerates the deployments of one project
// (or every project in scope), and builds a Plan per project:
//
//   - the newest deployment is always retained
//   - deployments created strictly before the cutoff are candidates
//   - candidates carrying aliases are skipped unless IncludeAliased is set
//
// Deletions are issued one at a time. A failed deletion is reported and the
// batch continues; a failed listing aborts the run.
package prune
