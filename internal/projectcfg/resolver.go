// Package projectcfg resolves per-project configuration values. The cascade
// behind a lookup (project settings, instance defaults, file overrides) is
// not the orchestrator's concern; it only asks for a key and gets back the
// value plus the layer that supplied it.
package projectcfg

import "sync"

// Keys the orchestrator reads.
const (
	// KeyPipelineRef is the ref pipelines are triggered on when no merge
	// request supplies a source branch.
	KeyPipelineRef = "pipeline.ref"
	// KeyTargetBranch is the target branch for merge requests opened by
	// feature development tasks.
	KeyTargetBranch = "feature_dev.target_branch"
)

// Sources a value can come from.
const (
	SourceProject = "project"
	SourceDefault = "default"
)

// Resolver answers per-project configuration lookups.
type Resolver interface {
	Get(projectID int64, key string) (value, source string)
}

// Static resolves from instance-wide defaults with optional per-project
// overrides. It stands in until project settings live in storage.
type Static struct {
	mu        sync.RWMutex
	defaults  map[string]string
	overrides map[int64]map[string]string
}

var _ Resolver = (*Static)(nil)

// NewStatic builds a resolver over the given defaults. Keys absent from
// defaults resolve to the empty string.
func NewStatic(defaults map[string]string) *Static {
	if defaults == nil {
		defaults = make(map[string]string)
	}
	return &Static{defaults: defaults, overrides: make(map[int64]map[string]string)}
}

// Override sets a project-scoped value.
func (s *Static) Override(projectID int64, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides[projectID] == nil {
		s.overrides[projectID] = make(map[string]string)
	}
	s.overrides[projectID][key] = value
}

// Get resolves key for a project, project overrides first.
func (s *Static) Get(projectID int64, key string) (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.overrides[projectID][key]; ok {
		return v, SourceProject
	}
	return s.defaults[key], SourceDefault
}
