package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openweavr/workflow-engine/common"
	"github.com/openweavr/workflow-engine/registry"
	"github.com/openweavr/workflow-engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = 500 * time.Millisecond
	testEventuallyTick    = 10 * time.Millisecond
)

type fakeExecution struct {
	mu    sync.Mutex
	calls []common.Input
}

func (f *fakeExecution) execute(ctx context.Context, wf *workflow.Workflow, triggerData common.Input, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, triggerData)
	return nil
}

func (f *fakeExecution) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testWorkflowSource() []byte {
	return []byte(`
name: alert-watch
steps:
  - id: notify
    action: test.noop
`)
}

func newTestManager(t *testing.T, reg *registry.Registry, exec *fakeExecution) *Manager {
	t.Helper()
	return NewManager(Options{
		Registry: reg,
		Execute:  exec.execute,
		SourceLookup: func(workflowName string) ([]byte, error) {
			return testWorkflowSource(), nil
		},
	})
}

func registerEchoTrigger(t *testing.T, reg *registry.Registry, teardownCalls *int) registry.EmitFunc {
	t.Helper()
	var captured registry.EmitFunc
	require.NoError(t, reg.Register(&registry.Plugin{
		Name: "slack",
		Triggers: []registry.TriggerDef{
			{
				Name: "message",
				Setup: func(ctx context.Context, config map[string]any, emit registry.EmitFunc) (registry.TeardownFunc, error) {
					captured = emit
					return func() error {
						*teardownCalls++
						return nil
					}, nil
				},
			},
		},
	}))
	// Setup hasn't run yet; the caller triggers it via Manager.SetupTrigger,
	// which is why captured is populated lazily below.
	return func(payload map[string]any) {
		captured(payload)
	}
}

func TestSetupTrigger_MissingDefinitionReturnsFalse(t *testing.T) {
	reg := registry.New()
	exec := &fakeExecution{}
	m := newTestManager(t, reg, exec)

	ok, err := m.SetupTrigger(context.Background(), "wf", "slack.message", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetupTrigger_TeardownCalledExactlyOnce(t *testing.T) {
	reg := registry.New()
	teardownCalls := 0
	emit := registerEchoTrigger(t, reg, &teardownCalls)
	exec := &fakeExecution{}
	m := newTestManager(t, reg, exec)

	ok, err := m.SetupTrigger(context.Background(), "alert-watch", "slack.message", map[string]any{})
	require.NoError(t, err)
	require.True(t, ok)

	sub, found := m.Status("alert-watch")
	require.True(t, found)
	assert.Equal(t, StatusConnected, sub.Status)

	_ = emit // emit is wired through the registered Setup; unused directly here

	m.StopTrigger("alert-watch")
	assert.Equal(t, 1, teardownCalls)

	m.StopTrigger("alert-watch")
	assert.Equal(t, 1, teardownCalls, "second StopTrigger must not call teardown again")

	_, found = m.Status("alert-watch")
	assert.False(t, found)
}

func TestEventFiltering_Scenario7(t *testing.T) {
	reg := registry.New()
	teardownCalls := 0
	var captured registry.EmitFunc
	require.NoError(t, reg.Register(&registry.Plugin{
		Name: "slack",
		Triggers: []registry.TriggerDef{
			{
				Name: "message",
				Setup: func(ctx context.Context, config map[string]any, emit registry.EmitFunc) (registry.TeardownFunc, error) {
					captured = emit
					return func() error { teardownCalls++; return nil }, nil
				},
			},
		},
	}))
	exec := &fakeExecution{}
	m := newTestManager(t, reg, exec)

	ok, err := m.SetupTrigger(context.Background(), "alert-watch", "slack.message", map[string]any{
		"channel": "#alerts",
		"pattern": "error",
	})
	require.NoError(t, err)
	require.True(t, ok)

	captured(map[string]any{"channelName": "alerts", "text": "error 500"})
	captured(map[string]any{"channelName": "alerts", "text": "ok"})
	captured(map[string]any{"channelName": "chat", "text": "error"})

	assert.Eventually(t, func() bool { return exec.count() == 1 }, testEventuallyTimeout, testEventuallyTick)
}

func TestServiceStatus_AggregatesAcrossSubscriptions(t *testing.T) {
	reg := registry.New()
	teardownCalls := 0
	require.NoError(t, reg.Register(&registry.Plugin{
		Name: "slack",
		Triggers: []registry.TriggerDef{
			{
				Name: "message",
				Setup: func(ctx context.Context, config map[string]any, emit registry.EmitFunc) (registry.TeardownFunc, error) {
					return func() error { teardownCalls++; return nil }, nil
				},
			},
		},
	}))
	exec := &fakeExecution{}
	m := newTestManager(t, reg, exec)

	_, err := m.SetupTrigger(context.Background(), "wf-a", "slack.message", map[string]any{})
	require.NoError(t, err)
	_, err = m.SetupTrigger(context.Background(), "wf-b", "slack.message", map[string]any{})
	require.NoError(t, err)

	svc, ok := m.ServiceStatus("slack")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, svc.Status)

	m.StopTrigger("wf-a")
	svc, ok = m.ServiceStatus("slack")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, svc.Status, "wf-b still holds the service open")

	m.StopTrigger("wf-b")
	svc, ok = m.ServiceStatus("slack")
	require.True(t, ok)
	assert.Equal(t, StatusDisconnected, svc.Status)
}

func TestSetupTrigger_SetupErrorRecordsErrorStatus(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&registry.Plugin{
		Name: "broken",
		Triggers: []registry.TriggerDef{
			{
				Name: "poll",
				Setup: func(ctx context.Context, config map[string]any, emit registry.EmitFunc) (registry.TeardownFunc, error) {
					return nil, assertSetupErr
				},
			},
		},
	}))
	exec := &fakeExecution{}
	m := newTestManager(t, reg, exec)

	ok, err := m.SetupTrigger(context.Background(), "wf", "broken.poll", map[string]any{})
	require.Error(t, err)
	assert.True(t, ok)

	sub, found := m.Status("wf")
	require.True(t, found)
	assert.Equal(t, StatusError, sub.Status)

	svc, found := m.ServiceStatus("broken")
	require.True(t, found)
	assert.Equal(t, StatusError, svc.Status)
}

var assertSetupErr = &setupErr{"setup exploded"}

type setupErr struct{ msg string }

func (e *setupErr) Error() string { return e.msg }
