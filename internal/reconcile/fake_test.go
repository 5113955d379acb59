package reconcile

import (
	"context"
	"sync"

	"github.com/vunnix/vunnix/internal/gitlab"
)

// fakeClient records every GitLab call and serves canned state.
type fakeClient struct {
	mu sync.Mutex

	mr          *gitlab.MergeRequest
	changes     []gitlab.Change
	discussions []gitlab.Discussion

	nextNoteID int64

	createdNotes      []string
	updatedNotes      map[int64][]string
	issueNotes        []string
	createdThreads    []gitlab.Discussion
	addedLabels       [][]string
	removedLabels     [][]string
	commitStatuses    []string
	createdMRs        []string
	cancelledPipeline []int64
}

var _ gitlab.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		nextNoteID:   100,
		updatedNotes: make(map[int64][]string),
		mr: &gitlab.MergeRequest{
			IID:          5,
			ProjectID:    1,
			SourceBranch: "feature/x",
			TargetBranch: "main",
			SHA:          "headsha",
			DiffRefs:     gitlab.DiffRefs{BaseSHA: "base", StartSHA: "start", HeadSHA: "head"},
		},
	}
}

func (f *fakeClient) CreateMRNote(_ context.Context, _, _ int64, body string) (*gitlab.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextNoteID++
	f.createdNotes = append(f.createdNotes, body)
	return &gitlab.Note{ID: f.nextNoteID, Body: body}, nil
}

func (f *fakeClient) UpdateMRNote(_ context.Context, _, _ int64, noteID int64, body string) (*gitlab.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedNotes[noteID] = append(f.updatedNotes[noteID], body)
	return &gitlab.Note{ID: noteID, Body: body}, nil
}

func (f *fakeClient) CreateIssueNote(_ context.Context, _, _ int64, body string) (*gitlab.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextNoteID++
	f.issueNotes = append(f.issueNotes, body)
	return &gitlab.Note{ID: f.nextNoteID, Body: body}, nil
}

func (f *fakeClient) ListMRDiscussions(context.Context, int64, int64) ([]gitlab.Discussion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gitlab.Discussion, len(f.discussions))
	copy(out, f.discussions)
	return out, nil
}

func (f *fakeClient) CreateMRDiscussion(_ context.Context, _, _ int64, body string, pos *gitlab.Position) (*gitlab.Discussion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := gitlab.Discussion{
		ID:       "d",
		Notes:    []gitlab.Note{{Body: body}},
		Position: pos,
	}
	f.createdThreads = append(f.createdThreads, d)
	f.discussions = append(f.discussions, d)
	return &d, nil
}

func (f *fakeClient) GetMergeRequest(context.Context, int64, int64) (*gitlab.MergeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mr := *f.mr
	return &mr, nil
}

func (f *fakeClient) OpenMRForBranch(context.Context, int64, string) (*gitlab.MergeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mr == nil {
		return nil, nil
	}
	mr := *f.mr
	return &mr, nil
}

func (f *fakeClient) GetMRChanges(context.Context, int64, int64) ([]gitlab.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changes, nil
}

func (f *fakeClient) CreateMergeRequest(_ context.Context, _ int64, sourceBranch, _, title, _ string) (*gitlab.MergeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdMRs = append(f.createdMRs, sourceBranch+":"+title)
	return &gitlab.MergeRequest{IID: 9, SourceBranch: sourceBranch, Title: title, WebURL: "http://gitlab/mr/9"}, nil
}

func (f *fakeClient) UpdateMRLabels(_ context.Context, _, _ int64, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedLabels = append(f.addedLabels, add)
	f.removedLabels = append(f.removedLabels, remove)
	// Mirror GitLab: applied labels show up on subsequent reads.
	next := make([]string, 0, len(f.mr.Labels)+len(add))
	drop := make(map[string]bool, len(remove))
	for _, l := range remove {
		drop[l] = true
	}
	for _, l := range f.mr.Labels {
		if !drop[l] {
			next = append(next, l)
		}
	}
	for _, l := range add {
		if !contains(next, l) {
			next = append(next, l)
		}
	}
	f.mr.Labels = next
	return nil
}

func (f *fakeClient) SetCommitStatus(_ context.Context, _ int64, sha, state, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitStatuses = append(f.commitStatuses, sha+":"+state)
	return nil
}

func (f *fakeClient) TriggerPipeline(context.Context, int64, string, map[string]string) (*gitlab.PipelineInfo, error) {
	return &gitlab.PipelineInfo{ID: 77, Status: "pending"}, nil
}

func (f *fakeClient) CancelPipeline(_ context.Context, _ int64, pipelineID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledPipeline = append(f.cancelledPipeline, pipelineID)
	return nil
}

func (f *fakeClient) MemberAccessLevel(context.Context, int64, int64) (int, error) {
	return gitlab.AccessLevelDeveloper, nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
