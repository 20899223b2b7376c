// Package executor implements the Workflow Executor: DAG scheduling of a
// workflow's steps with concurrent dispatch of independent work, per-step
// retry/timeout/condition handling, and lifecycle event emission.
package executor

import (
	"time"

	"github.com/openweavr/workflow-engine/common"
)

// StepStatus is a step's position in its lifecycle.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// RunStatus is a WorkflowRun's overall position in its lifecycle.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepResult records one step's outcome within a run.
type StepResult struct {
	ID          string
	Status      StepStatus
	Output      common.Output
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  int64
}

// WorkflowRun is one execution instance of a workflow. It is written only
// by its owning executor goroutine while running, and is safe to read
// freely once Execute has returned it.
type WorkflowRun struct {
	ID           string
	WorkflowName string
	Status       RunStatus
	TriggerData  common.Input
	Steps        map[string]*StepResult
	StartedAt    time.Time
	CompletedAt  *time.Time
	Error        string
}

// EventName identifies a lifecycle event.
type EventName string

const (
	EventWorkflowStarted   EventName = "workflow.started"
	EventWorkflowCompleted EventName = "workflow.completed"
	EventWorkflowFailed    EventName = "workflow.failed"
	EventStepStarted       EventName = "step.started"
	EventStepCompleted     EventName = "step.completed"
	EventStepFailed        EventName = "step.failed"
)

// Event is the payload delivered to a registered Listener.
type Event struct {
	Name         EventName
	RunID        string
	WorkflowName string
	StepID       string
	Status       string
	Output       common.Output
	Error        string
	Timestamp    time.Time
}

// Listener observes lifecycle events. Listeners run synchronously, in
// registration order, on the goroutine that raised the event; a listener
// that panics is recovered and logged, never allowed to affect the run.
type Listener func(Event)
