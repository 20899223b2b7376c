package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, doc string) *Workflow {
	t.Helper()
	wf, err := Parse([]byte(doc))
	require.NoError(t, err)
	return wf
}

func hasIssue(issues []Issue, level IssueLevel, substr string) bool {
	for _, i := range issues {
		if i.Level == level && contains(i.Message, substr) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func TestValidate_Clean(t *testing.T) {
	wf := mustParse(t, `
name: clean
description: a clean workflow
steps:
  - id: a
    action: core.log
  - id: b
    action: core.log
    depends_on: [a]
`)
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestValidate_NoDescriptionWarns(t *testing.T) {
	wf := mustParse(t, `
name: no-desc
steps:
  - id: a
    action: core.log
`)
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueWarning, "no description"))
}

func TestValidate_DanglingDependsOn(t *testing.T) {
	wf := &Workflow{
		Name: "dangling",
		Steps: []Step{
			{ID: "a", Action: "core.log", DependsOn: []string{"missing"}},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueError, "unknown step"))
}

func TestValidate_SelfDependency(t *testing.T) {
	wf := &Workflow{
		Name: "self-dep",
		Steps: []Step{
			{ID: "a", Action: "core.log", DependsOn: []string{"a"}},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueError, "depends on itself"))
}

func TestValidate_DuplicateStepID(t *testing.T) {
	wf := &Workflow{
		Name: "dup",
		Steps: []Step{
			{ID: "a", Action: "core.log"},
			{ID: "a", Action: "core.log"},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueError, "duplicate step id"))
}

func TestValidate_Cycle(t *testing.T) {
	wf := &Workflow{
		Name: "cycle",
		Steps: []Step{
			{ID: "a", Action: "core.log", DependsOn: []string{"c"}},
			{ID: "b", Action: "core.log", DependsOn: []string{"a"}},
			{ID: "c", Action: "core.log", DependsOn: []string{"b"}},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueError, "dependency cycle"))
}

func TestValidate_UnknownAction(t *testing.T) {
	wf := &Workflow{
		Name: "unknown-action",
		Steps: []Step{
			{ID: "a", Action: "slack.post"},
		},
	}
	issues, err := Validate(wf, []string{"core.log"}, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueError, "unknown action"))
}

func TestValidate_UnknownTrigger(t *testing.T) {
	wf := &Workflow{
		Name:     "unknown-trigger",
		Triggers: []TriggerSpec{{Type: "slack.message"}},
		Steps:    []Step{{ID: "a", Action: "core.log"}},
	}
	issues, err := Validate(wf, nil, []string{"cron.schedule"})
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueError, "unknown type"))
}

func TestValidate_VariableReferenceNotADependency(t *testing.T) {
	wf := &Workflow{
		Name: "var-ref",
		Steps: []Step{
			{ID: "a", Action: "core.log"},
			{
				ID:     "b",
				Action: "core.log",
				Config: map[string]any{"message": "{{ steps.a.output.body }}"},
			},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueWarning, "not in its depends_on list"))
}

func TestValidate_VariableReferenceSatisfiedByDependency(t *testing.T) {
	wf := &Workflow{
		Name: "var-ref-ok",
		Steps: []Step{
			{ID: "a", Action: "core.log"},
			{
				ID:        "b",
				Action:    "core.log",
				DependsOn: []string{"a"},
				Config:    map[string]any{"message": "{{ steps.a.output.body }}"},
			},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.False(t, hasIssue(issues, IssueWarning, "not in its depends_on list"))
}

func TestValidate_VariableReferenceNotDefinedEarlier(t *testing.T) {
	wf := &Workflow{
		Name: "forward-ref",
		Steps: []Step{
			{
				ID:     "a",
				Action: "core.log",
				Config: map[string]any{"message": "{{ steps.b.output.body }}"},
			},
			{ID: "b", Action: "core.log"},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueError, "not defined earlier"))
}

func TestValidate_VariableReferenceUnknownStep(t *testing.T) {
	wf := &Workflow{
		Name: "unknown-ref",
		Steps: []Step{
			{
				ID:     "a",
				Action: "core.log",
				Config: map[string]any{"message": "{{ steps.ghost.output.body }}"},
			},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueError, "unknown step"))
}

func TestValidate_TriggerReferenceWithoutTriggers(t *testing.T) {
	wf := &Workflow{
		Name: "no-triggers",
		Steps: []Step{
			{
				ID:     "a",
				Action: "core.log",
				Config: map[string]any{"message": "{{ trigger.payload }}"},
			},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueWarning, "declares no triggers"))
}

func TestValidate_TriggerReferenceWithTriggersOK(t *testing.T) {
	wf := &Workflow{
		Name:     "has-triggers",
		Triggers: []TriggerSpec{{Type: "cron.schedule"}},
		Steps: []Step{
			{
				ID:     "a",
				Action: "core.log",
				Config: map[string]any{"message": "{{ trigger.payload }}"},
			},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.False(t, hasIssue(issues, IssueWarning, "declares no triggers"))
}

func TestValidate_UnrecognizedReference(t *testing.T) {
	wf := &Workflow{
		Name: "weird-ref",
		Steps: []Step{
			{
				ID:     "a",
				Action: "core.log",
				Config: map[string]any{"message": "{{ something.weird }}"},
			},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueWarning, "unrecognized reference"))
}

func TestValidate_EnvAndCurrentDateReferencesNeverWarn(t *testing.T) {
	wf := &Workflow{
		Name:        "env-currentdate",
		Description: "references env and currentDate only",
		Steps: []Step{
			{
				ID:     "a",
				Action: "core.log",
				Config: map[string]any{
					"message": "{{ env.API_KEY }} at {{ currentDate }}",
				},
			},
		},
	}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestValidate_NoSteps(t *testing.T) {
	wf := &Workflow{Name: "empty", Description: "x"}
	issues, err := Validate(wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, hasIssue(issues, IssueWarning, "no steps"))
}

func TestValidate_NilWorkflow(t *testing.T) {
	_, err := Validate(nil, nil, nil)
	require.Error(t, err)
}
