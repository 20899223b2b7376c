// Package workflow defines the Workflow document model and the parser and
// semantic validator that turn a declarative document into a verified
// execution plan.
package workflow

import "github.com/openweavr/workflow-engine/common"

// Workflow is a named, validated execution plan. Workflow values are
// immutable after Parse/Validate return successfully.
type Workflow struct {
	Name        string
	Description string
	Triggers    []TriggerSpec
	Steps       []Step
	Env         map[string]string
}

// TriggerSpec names an event source and its plugin-specific configuration.
type TriggerSpec struct {
	Type   string
	Config map[string]any
}

// RetryPolicy controls how many times a step's action is invoked before it
// is considered failed.
type RetryPolicy struct {
	Attempts int
	DelayMs  int
}

// DefaultRetryPolicy is applied to a step that declares no retry block.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, DelayMs: 1000}
}

// Step is a single invocation of an action within a workflow.
type Step struct {
	ID         string
	Action     string
	Config     map[string]any
	DependsOn  []string
	Retry      *RetryPolicy
	TimeoutMs  *int
	If         string
}

// StepByID returns the step with the given id, or false if none exists.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// GetEnv returns the workflow's env overlay, never nil.
func (w *Workflow) GetEnv() common.EnvMap {
	if w.Env == nil {
		return make(common.EnvMap)
	}
	return common.EnvMap(w.Env)
}
