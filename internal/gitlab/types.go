package gitlab

import "time"

// Note is a single comment on a merge request or issue.
type Note struct {
	ID         int64     `json:"id"`
	Body       string    `json:"body"`
	AuthorID   int64     `json:"author_id"`
	System     bool      `json:"system"`
	Resolvable bool      `json:"resolvable"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Position anchors a discussion to a line in the MR diff.
type Position struct {
	BaseSHA      string `json:"base_sha"`
	StartSHA     string `json:"start_sha"`
	HeadSHA      string `json:"head_sha"`
	PositionType string `json:"position_type"`
	NewPath      string `json:"new_path"`
	OldPath      string `json:"old_path,omitempty"`
	NewLine      int64  `json:"new_line,omitempty"`
	OldLine      int64  `json:"old_line,omitempty"`
}

// Discussion is a threaded conversation on a merge request.
type Discussion struct {
	ID             string    `json:"id"`
	IndividualNote bool      `json:"individual_note"`
	Notes          []Note    `json:"notes"`
	Position       *Position `json:"position,omitempty"`
}

// DiffRefs are the SHAs needed to anchor inline discussions.
type DiffRefs struct {
	BaseSHA  string `json:"base_sha"`
	StartSHA string `json:"start_sha"`
	HeadSHA  string `json:"head_sha"`
}

// MergeRequest is the subset of MR attributes the orchestrator reads.
type MergeRequest struct {
	ID           int64    `json:"id"`
	IID          int64    `json:"iid"`
	ProjectID    int64    `json:"project_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	State        string   `json:"state"`
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	SHA          string   `json:"sha"`
	Labels       []string `json:"labels"`
	DiffRefs     DiffRefs `json:"diff_refs"`
	WebURL       string   `json:"web_url"`
}

// Change is one file-level diff entry from the MR changes endpoint.
type Change struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
	Diff        string `json:"diff"`
}

// PipelineInfo describes a triggered pipeline.
type PipelineInfo struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Ref    string `json:"ref"`
	SHA    string `json:"sha"`
	WebURL string `json:"web_url"`
}

// Commit status states understood by GitLab.
const (
	CommitStatusSuccess = "success"
	CommitStatusFailed  = "failed"
	CommitStatusRunning = "running"
)

// GitLab access levels.
const (
	AccessLevelGuest      = 10
	AccessLevelReporter   = 20
	AccessLevelDeveloper  = 30
	AccessLevelMaintainer = 40
	AccessLevelOwner      = 50
)
