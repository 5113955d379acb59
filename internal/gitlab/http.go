package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
)

// HTTPClient talks to a real GitLab instance over its v4 REST API.
type HTTPClient struct {
	baseURL      string
	token        string
	triggerToken string
	httpClient   *http.Client
	logger       *logger.Logger
}

// Ensure HTTPClient implements Client interface
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a GitLab API client. token authenticates API calls,
// triggerToken authenticates pipeline trigger requests.
func NewHTTPClient(baseURL, token, triggerToken string, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		triggerToken: triggerToken,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       log,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v4"+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gitlab request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: extractMessage(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// extractMessage pulls the error string out of GitLab's error envelope,
// which is {"message": ...} or {"error": ...} with varying value shapes.
func extractMessage(data []byte) string {
	var envelope struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if json.Unmarshal(data, &envelope) != nil {
		return string(data)
	}
	if envelope.Error != "" {
		return envelope.Error
	}
	if len(envelope.Message) > 0 {
		var s string
		if json.Unmarshal(envelope.Message, &s) == nil {
			return s
		}
		return string(envelope.Message)
	}
	return string(data)
}

func (c *HTTPClient) CreateMRNote(ctx context.Context, projectID, mrIID int64, body string) (*Note, error) {
	var note Note
	path := fmt.Sprintf("/projects/%d/merge_requests/%d/notes", projectID, mrIID)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *HTTPClient) UpdateMRNote(ctx context.Context, projectID, mrIID, noteID int64, body string) (*Note, error) {
	var note Note
	path := fmt.Sprintf("/projects/%d/merge_requests/%d/notes/%d", projectID, mrIID, noteID)
	if err := c.do(ctx, http.MethodPut, path, map[string]string{"body": body}, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *HTTPClient) CreateIssueNote(ctx context.Context, projectID, issueIID int64, body string) (*Note, error) {
	var note Note
	path := fmt.Sprintf("/projects/%d/issues/%d/notes", projectID, issueIID)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *HTTPClient) ListMRDiscussions(ctx context.Context, projectID, mrIID int64) ([]Discussion, error) {
	var all []Discussion
	for page := 1; ; page++ {
		var batch []Discussion
		path := fmt.Sprintf("/projects/%d/merge_requests/%d/discussions?per_page=100&page=%d",
			projectID, mrIID, page)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

func (c *HTTPClient) CreateMRDiscussion(ctx context.Context, projectID, mrIID int64, body string, pos *Position) (*Discussion, error) {
	payload := map[string]interface{}{"body": body}
	if pos != nil {
		payload["position"] = pos
	}
	var discussion Discussion
	path := fmt.Sprintf("/projects/%d/merge_requests/%d/discussions", projectID, mrIID)
	if err := c.do(ctx, http.MethodPost, path, payload, &discussion); err != nil {
		return nil, err
	}
	return &discussion, nil
}

func (c *HTTPClient) GetMergeRequest(ctx context.Context, projectID, mrIID int64) (*MergeRequest, error) {
	var mr MergeRequest
	path := fmt.Sprintf("/projects/%d/merge_requests/%d", projectID, mrIID)
	if err := c.do(ctx, http.MethodGet, path, nil, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

// OpenMRForBranch returns the open MR whose source branch matches, or nil
// when none exists.
func (c *HTTPClient) OpenMRForBranch(ctx context.Context, projectID int64, sourceBranch string) (*MergeRequest, error) {
	var mrs []MergeRequest
	path := fmt.Sprintf("/projects/%d/merge_requests?state=opened&source_branch=%s",
		projectID, url.QueryEscape(sourceBranch))
	if err := c.do(ctx, http.MethodGet, path, nil, &mrs); err != nil {
		return nil, err
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	return &mrs[0], nil
}

func (c *HTTPClient) GetMRChanges(ctx context.Context, projectID, mrIID int64) ([]Change, error) {
	var resp struct {
		Changes []Change `json:"changes"`
	}
	path := fmt.Sprintf("/projects/%d/merge_requests/%d/changes", projectID, mrIID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Changes, nil
}

func (c *HTTPClient) CreateMergeRequest(ctx context.Context, projectID int64, sourceBranch, targetBranch, title, description string) (*MergeRequest, error) {
	payload := map[string]string{
		"source_branch": sourceBranch,
		"target_branch": targetBranch,
		"title":         title,
		"description":   description,
	}
	var mr MergeRequest
	path := fmt.Sprintf("/projects/%d/merge_requests", projectID)
	if err := c.do(ctx, http.MethodPost, path, payload, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

func (c *HTTPClient) UpdateMRLabels(ctx context.Context, projectID, mrIID int64, add, remove []string) error {
	payload := map[string]string{}
	if len(add) > 0 {
		payload["add_labels"] = strings.Join(add, ",")
	}
	if len(remove) > 0 {
		payload["remove_labels"] = strings.Join(remove, ",")
	}
	if len(payload) == 0 {
		return nil
	}
	path := fmt.Sprintf("/projects/%d/merge_requests/%d", projectID, mrIID)
	return c.do(ctx, http.MethodPut, path, payload, nil)
}

func (c *HTTPClient) SetCommitStatus(ctx context.Context, projectID int64, sha, state, name, description string) error {
	payload := map[string]string{
		"state":       state,
		"name":        name,
		"description": description,
	}
	path := fmt.Sprintf("/projects/%d/statuses/%s", projectID, url.PathEscape(sha))
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

func (c *HTTPClient) TriggerPipeline(ctx context.Context, projectID int64, ref string, variables map[string]string) (*PipelineInfo, error) {
	form := url.Values{}
	form.Set("token", c.triggerToken)
	form.Set("ref", ref)
	for k, v := range variables {
		form.Set(fmt.Sprintf("variables[%s]", k), v)
	}

	endpoint := fmt.Sprintf("%s/api/v4/projects/%d/trigger/pipeline", c.baseURL, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trigger pipeline: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: extractMessage(data)}
	}

	var info PipelineInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	c.logger.Info("triggered pipeline",
		zap.Int64("project_id", projectID),
		zap.Int64("pipeline_id", info.ID),
		zap.String("ref", ref))
	return &info, nil
}

func (c *HTTPClient) CancelPipeline(ctx context.Context, projectID, pipelineID int64) error {
	path := fmt.Sprintf("/projects/%d/pipelines/%d/cancel", projectID, pipelineID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *HTTPClient) MemberAccessLevel(ctx context.Context, projectID, userID int64) (int, error) {
	var member struct {
		AccessLevel int `json:"access_level"`
	}
	path := fmt.Sprintf("/projects/%d/members/all/%d", projectID, userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &member); err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return member.AccessLevel, nil
}
