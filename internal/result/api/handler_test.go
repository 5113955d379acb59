package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/events/bus"
	"github.com/vunnix/vunnix/internal/jobs"
	"github.com/vunnix/vunnix/internal/result"
	"github.com/vunnix/vunnix/internal/task/models"
	"github.com/vunnix/vunnix/internal/task/repository"
	"github.com/vunnix/vunnix/internal/task/token"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

type fakeReconciler struct {
	completed []int64
	failed    []int64
}

func (r *fakeReconciler) ReconcileCompleted(_ context.Context, task *models.Task) error {
	r.completed = append(r.completed, task.ID)
	return nil
}

func (r *fakeReconciler) ReconcileFailed(_ context.Context, task *models.Task) error {
	r.failed = append(r.failed, task.ID)
	return nil
}

type testEnv struct {
	router     *gin.Engine
	repo       repository.Repository
	tokens     *token.Service
	reconciler *fakeReconciler
}

func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepository()
	tokens := token.NewService("test-secret", time.Hour)
	reconciler := &fakeReconciler{}
	processor := result.NewProcessor(repo, reconciler, jobs.NewInline(logger.NewNop()),
		result.DefaultPricing, bus.NewNopBus(), logger.NewNop())

	handler := NewHandler(repo, tokens, processor, logger.NewNop())
	router := gin.New()
	handler.RegisterRoutes(router)

	return &testEnv{router: router, repo: repo, tokens: tokens, reconciler: reconciler}
}

func (e *testEnv) runningTask(t *testing.T) *models.Task {
	t.Helper()
	mrIID := int64(5)
	task := &models.Task{
		Type:          v1.TaskTypeCodeReview,
		Status:        v1.TaskStatusQueued,
		Priority:      v1.TaskPriorityNormal,
		Origin:        v1.TaskOriginWebhook,
		Intent:        "auto_review",
		ProjectID:     1,
		GitLabProject: 1,
		MRIID:         &mrIID,
	}
	if err := e.repo.CreateTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	if err := task.TransitionTo(v1.TaskStatusRunning, ""); err != nil {
		t.Fatal(err)
	}
	if err := e.repo.UpdateTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task
}

func (e *testEnv) submit(t *testing.T, task *models.Task, authToken string, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/tasks/"+itoa(task.ID)+"/result", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func completedBody() map[string]interface{} {
	return map[string]interface{}{
		"status": "completed",
		"result": map[string]interface{}{
			"summary":  map[string]interface{}{"risk_level": "low", "total_findings": 0},
			"findings": []interface{}{},
		},
		"tokens":           map[string]interface{}{"input": 150000, "output": 30000, "thinking": 5000},
		"duration_seconds": 120,
		"prompt_version":   map[string]interface{}{"skill": "v3", "claude_md": "v2", "schema": "v1"},
	}
}

func TestSubmitResultMissingToken(t *testing.T) {
	env := setupTestHandler(t)
	task := env.runningTask(t)

	w := env.submit(t, task, "", completedBody())
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSubmitResultInvalidToken(t *testing.T) {
	env := setupTestHandler(t)
	task := env.runningTask(t)

	w := env.submit(t, task, "not-a-real-token", completedBody())
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSubmitResultCrossTaskToken(t *testing.T) {
	env := setupTestHandler(t)
	task := env.runningTask(t)
	other := env.runningTask(t)

	w := env.submit(t, task, env.tokens.Mint(other.ID), completedBody())
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSubmitResultUnknownTask(t *testing.T) {
	env := setupTestHandler(t)

	ghost := &models.Task{ID: 9999}
	w := env.submit(t, ghost, env.tokens.Mint(9999), completedBody())
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSubmitResultWrongState(t *testing.T) {
	env := setupTestHandler(t)
	task := env.runningTask(t)
	if err := task.TransitionTo(v1.TaskStatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if err := env.repo.UpdateTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	w := env.submit(t, task, env.tokens.Mint(task.ID), completedBody())
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestSubmitResultValidation(t *testing.T) {
	env := setupTestHandler(t)
	task := env.runningTask(t)

	body := map[string]interface{}{"status": "completed"}
	w := env.submit(t, task, env.tokens.Mint(task.ID), body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}

	var resp struct {
		Fields map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"tokens", "duration_seconds", "prompt_version", "result"} {
		if len(resp.Fields[field]) == 0 {
			t.Errorf("expected validation message for %q, fields = %v", field, resp.Fields)
		}
	}
}

func TestSubmitResultCompleted(t *testing.T) {
	env := setupTestHandler(t)
	task := env.runningTask(t)

	w := env.submit(t, task, env.tokens.Mint(task.ID), completedBody())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var resp v1.ResultResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TaskStatus != "processing" {
		t.Errorf("task_status = %q, want processing", resp.TaskStatus)
	}

	stored, err := env.repo.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != v1.TaskStatusCompleted {
		t.Errorf("stored status = %q, want completed", stored.Status)
	}
	if stored.TokensUsed != 185000 {
		t.Errorf("tokens_used = %d, want 185000", stored.TokensUsed)
	}
	if stored.Cost != 1.50 {
		t.Errorf("cost = %v, want 1.50", stored.Cost)
	}
	if stored.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if len(env.reconciler.completed) != 1 {
		t.Errorf("reconciler ran %d times, want 1", len(env.reconciler.completed))
	}
}

func TestSubmitResultFailed(t *testing.T) {
	env := setupTestHandler(t)
	task := env.runningTask(t)

	body := map[string]interface{}{
		"status":           "failed",
		"error":            "executor crashed",
		"tokens":           map[string]interface{}{"input": 1000, "output": 0, "thinking": 0},
		"duration_seconds": 30,
		"prompt_version":   map[string]interface{}{"skill": "v3", "claude_md": "v2", "schema": "v1"},
	}
	w := env.submit(t, task, env.tokens.Mint(task.ID), body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var resp v1.ResultResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TaskStatus != "failed" {
		t.Errorf("task_status = %q, want failed", resp.TaskStatus)
	}

	stored, _ := env.repo.GetTask(context.Background(), task.ID)
	if stored.Status != v1.TaskStatusFailed || stored.ErrorReason != "executor crashed" {
		t.Errorf("stored = %q/%q", stored.Status, stored.ErrorReason)
	}
	if len(env.reconciler.failed) != 1 {
		t.Errorf("failure reconciler ran %d times, want 1", len(env.reconciler.failed))
	}
}

func TestSubmitResultTwiceConflicts(t *testing.T) {
	env := setupTestHandler(t)
	task := env.runningTask(t)
	tok := env.tokens.Mint(task.ID)

	if w := env.submit(t, task, tok, completedBody()); w.Code != http.StatusOK {
		t.Fatalf("first submission: %d", w.Code)
	}
	if w := env.submit(t, task, tok, completedBody()); w.Code != http.StatusConflict {
		t.Fatalf("second submission: %d, want 409", w.Code)
	}
}
