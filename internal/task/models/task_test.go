package models

import (
	"errors"
	"testing"

	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

func TestTransitionQueuedToRunning(t *testing.T) {
	task := &Task{Status: v1.TaskStatusQueued}

	if err := task.TransitionTo(v1.TaskStatusRunning, ""); err != nil {
		t.Fatalf("TransitionTo failed: %v", err)
	}
	if task.Status != v1.TaskStatusRunning {
		t.Errorf("expected running, got %s", task.Status)
	}
	if task.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}
}

func TestTransitionRunningToCompleted(t *testing.T) {
	task := &Task{Status: v1.TaskStatusRunning}

	if err := task.TransitionTo(v1.TaskStatusCompleted, ""); err != nil {
		t.Fatalf("TransitionTo failed: %v", err)
	}
	if task.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestTransitionRunningToFailedSetsReason(t *testing.T) {
	task := &Task{Status: v1.TaskStatusRunning}

	if err := task.TransitionTo(v1.TaskStatusFailed, "executor_error"); err != nil {
		t.Fatalf("TransitionTo failed: %v", err)
	}
	if task.ErrorReason != "executor_error" {
		t.Errorf("expected error reason, got %q", task.ErrorReason)
	}
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	for _, status := range []v1.TaskStatus{
		v1.TaskStatusCompleted, v1.TaskStatusFailed, v1.TaskStatusSuperseded,
	} {
		task := &Task{Status: status}
		err := task.TransitionTo(v1.TaskStatusRunning, "")
		if err == nil {
			t.Errorf("expected error transitioning out of %s", status)
			continue
		}
		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Errorf("expected InvalidTransitionError, got %T", err)
		}
		if task.Status != status {
			t.Errorf("terminal task mutated: %s -> %s", status, task.Status)
		}
	}
}

func TestQueuedCannotSkipToCompleted(t *testing.T) {
	task := &Task{Status: v1.TaskStatusQueued}
	if err := task.TransitionTo(v1.TaskStatusCompleted, ""); err == nil {
		t.Error("expected queued -> completed to be rejected")
	}
}

func TestQueuedCanBeSuperseded(t *testing.T) {
	task := &Task{Status: v1.TaskStatusQueued}
	if err := task.TransitionTo(v1.TaskStatusSuperseded, ""); err != nil {
		t.Fatalf("TransitionTo failed: %v", err)
	}
	if !task.IsTerminal() {
		t.Error("superseded task should be terminal")
	}
}
