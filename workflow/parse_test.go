package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Minimal(t *testing.T) {
	doc := []byte(`
name: hello-world
steps:
  - id: greet
    action: core.log
    config:
      message: hi
`)
	wf, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "hello-world", wf.Name)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, "greet", wf.Steps[0].ID)
	assert.Equal(t, "core.log", wf.Steps[0].Action)
	assert.Equal(t, "hi", wf.Steps[0].Config["message"])
}

func TestParse_MissingName(t *testing.T) {
	doc := []byte(`
steps:
  - id: a
    action: core.log
`)
	_, err := Parse(doc)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParse_InvalidStepID(t *testing.T) {
	doc := []byte(`
name: bad
steps:
  - id: "not a valid id!"
    action: core.log
`)
	_, err := Parse(doc)
	require.Error(t, err)
}

func TestParse_WithAliasBecomesConfig(t *testing.T) {
	doc := []byte(`
name: alias-test
steps:
  - id: a
    action: core.log
    with:
      message: hi
`)
	wf, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "hi", wf.Steps[0].Config["message"])
}

func TestParse_NeedsAliasMergesWithDependsOn(t *testing.T) {
	doc := []byte(`
name: alias-test
steps:
  - id: a
    action: core.log
  - id: b
    action: core.log
    depends_on: [a]
  - id: c
    action: core.log
    depends_on: [a]
    needs: [a, b]
`)
	wf, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, wf.Steps[2].DependsOn)
}

func TestParse_SingularTriggerBecomesList(t *testing.T) {
	doc := []byte(`
name: trigger-test
trigger:
  type: slack.message
  config:
    channel: general
steps:
  - id: a
    action: core.log
`)
	wf, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, wf.Triggers, 1)
	assert.Equal(t, "slack.message", wf.Triggers[0].Type)
	assert.Equal(t, "general", wf.Triggers[0].Config["channel"])
}

func TestParse_RetryDefaults(t *testing.T) {
	doc := []byte(`
name: retry-test
steps:
  - id: a
    action: core.log
    retry:
      attempts: 5
`)
	wf, err := Parse(doc)
	require.NoError(t, err)
	require.NotNil(t, wf.Steps[0].Retry)
	assert.Equal(t, 5, wf.Steps[0].Retry.Attempts)
	assert.Equal(t, 1000, wf.Steps[0].Retry.DelayMs)
}

func TestParse_RetryInvalidAttempts(t *testing.T) {
	doc := []byte(`
name: retry-test
steps:
  - id: a
    action: core.log
    retry:
      attempts: 0
`)
	_, err := Parse(doc)
	require.Error(t, err)
}

func TestParse_TimeoutAlias(t *testing.T) {
	doc := []byte(`
name: timeout-test
steps:
  - id: a
    action: core.log
    timeout: 500
`)
	wf, err := Parse(doc)
	require.NoError(t, err)
	require.NotNil(t, wf.Steps[0].TimeoutMs)
	assert.Equal(t, 500, *wf.Steps[0].TimeoutMs)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("not: [valid: yaml"))
	require.Error(t, err)
}
