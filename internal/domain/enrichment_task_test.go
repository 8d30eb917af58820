package domain

import (
	"errors"
	"testing"
	"time"
)

func TestEnrichmentTaskTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		wantErr bool
	}{
		{"pending to processing", TaskStatusPending, TaskStatusProcessing, false},
		{"pending to failed", TaskStatusPending, TaskStatusFailed, false},
		{"processing to completed", TaskStatusProcessing, TaskStatusCompleted, false},
		{"processing to pending retry", TaskStatusProcessing, TaskStatusPending, false},
		{"processing to failed", TaskStatusProcessing, TaskStatusFailed, false},
		{"pending to completed", TaskStatusPending, TaskStatusCompleted, true},
		{"completed is terminal", TaskStatusCompleted, TaskStatusPending, true},
		{"failed is terminal", TaskStatusFailed, TaskStatusProcessing, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &EnrichmentTask{Status: tt.from}
			err := task.TransitionTo(tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TransitionTo: %v", err)
			}
			if task.Status != tt.to {
				t.Errorf("status = %s, want %s", task.Status, tt.to)
			}
		})
	}
}

func TestEnrichmentTaskRetryResetsStamps(t *testing.T) {
	started := time.Now()
	deadline := started.Add(10 * time.Minute)
	task := &EnrichmentTask{
		Status:    TaskStatusProcessing,
		StartedAt: &started,
		TimeoutAt: &deadline,
	}
	if err := task.TransitionTo(TaskStatusPending); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if task.StartedAt != nil || task.TimeoutAt != nil {
		t.Error("retry must clear the worker stamps")
	}
}

func TestEnrichmentTaskTimedOut(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		task EnrichmentTask
		want bool
	}{
		{"expired processing task", EnrichmentTask{Status: TaskStatusProcessing, TimeoutAt: &past}, true},
		{"deadline not reached", EnrichmentTask{Status: TaskStatusProcessing, TimeoutAt: &future}, false},
		{"no deadline", EnrichmentTask{Status: TaskStatusProcessing}, false},
		{"pending task never times out", EnrichmentTask{Status: TaskStatusPending, TimeoutAt: &past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.TimedOut(now); got != tt.want {
				t.Errorf("TimedOut = %v, want %v", got, tt.want)
			}
		})
	}
}
