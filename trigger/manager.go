// Package trigger implements the Trigger Manager: it owns long-lived
// subscriptions to external event sources, filters inbound events per a
// subscription's declarative config, and dispatches accepted events to
// workflow runs through an injected executor callback.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openweavr/workflow-engine/common"
	"github.com/openweavr/workflow-engine/pkg/logger"
	"github.com/openweavr/workflow-engine/registry"
	"github.com/openweavr/workflow-engine/workflow"
)

// Status is a TriggerSubscription's or a service's connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Subscription is one workflow's active trigger registration.
type Subscription struct {
	WorkflowName string
	TriggerType  string
	Config       map[string]any
	Status       Status
	Error        string

	teardown registry.TeardownFunc
	cancel   context.CancelFunc
}

// ServiceStatus aggregates connection state across every subscription that
// shares a service (the prefix of the trigger type before the first dot).
type ServiceStatus struct {
	Name   string
	Status Status
	Error  string
}

// ExecuteFunc runs workflow wf with triggerData under the given runID. It
// is expected to block until the run is terminal (as executor.Execute
// does); the Manager invokes it in its own goroutine so a slow run never
// blocks trigger delivery.
type ExecuteFunc func(ctx context.Context, wf *workflow.Workflow, triggerData common.Input, runID string) error

// CompletedFunc is invoked whenever the Manager itself could not get a
// triggered run started (re-parse or dispatch failure), or optionally by
// the caller to mirror normal completions through the same channel.
type CompletedFunc func(workflowName, runID, status string)

// SourceLookup returns the current authoritative document source for a
// workflow, so the Manager can re-parse a fresh copy on every dispatch.
type SourceLookup func(workflowName string) ([]byte, error)

// Manager owns trigger subscriptions and service status. The zero value
// is not usable; construct with NewManager.
type Manager struct {
	registry *registry.Registry
	execute  ExecuteFunc
	onDone   CompletedFunc
	source   SourceLookup

	mu            sync.Mutex
	subscriptions map[string]*Subscription // workflowName -> subscription
	services      map[string]*ServiceStatus
	serviceRefs   map[string]int
}

// Options wires a Manager's collaborators.
type Options struct {
	Registry     *registry.Registry
	Execute      ExecuteFunc
	OnCompleted  CompletedFunc
	SourceLookup SourceLookup
}

// NewManager constructs a Manager from opts.
func NewManager(opts Options) *Manager {
	return &Manager{
		registry:      opts.Registry,
		execute:       opts.Execute,
		onDone:        opts.OnCompleted,
		source:        opts.SourceLookup,
		subscriptions: make(map[string]*Subscription),
		services:      make(map[string]*ServiceStatus),
		serviceRefs:   make(map[string]int),
	}
}

func serviceName(triggerType string) string {
	if idx := strings.Index(triggerType, "."); idx >= 0 {
		return triggerType[:idx]
	}
	return triggerType
}

// SetupTrigger installs a subscription for workflowName against
// triggerType. It returns (false, nil) if the registry has no trigger
// definition for triggerType, or the definition declares no Setup
// function — that is not an error. Any other failure is
// recorded on the subscription and service status and returned as an
// error, but never propagated as a host-fatal condition.
func (m *Manager) SetupTrigger(ctx context.Context, workflowName, triggerType string, config map[string]any) (bool, error) {
	def, ok := m.registry.GetTrigger(triggerType)
	if !ok || def.Setup == nil {
		return false, nil
	}

	svc := serviceName(triggerType)
	m.setServiceStatus(svc, StatusConnecting, "")

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		WorkflowName: workflowName,
		TriggerType:  triggerType,
		Config:       config,
		Status:       StatusConnecting,
		cancel:       cancel,
	}

	emit := func(payload map[string]any) {
		m.handleEvent(workflowName, sub, payload)
	}

	teardown, err := def.Setup(subCtx, config, registry.EmitFunc(emit))
	if err != nil {
		sub.Status = StatusError
		sub.Error = err.Error()
		m.setServiceStatus(svc, StatusError, err.Error())
		m.storeSubscription(workflowName, svc, sub)
		return true, fmt.Errorf("trigger: setup failed for %s: %w", triggerType, err)
	}

	sub.Status = StatusConnected
	sub.teardown = teardown
	m.setServiceStatus(svc, StatusConnected, "")
	m.storeSubscription(workflowName, svc, sub)
	return true, nil
}

func (m *Manager) storeSubscription(workflowName, svc string, sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, replacing := m.subscriptions[workflowName]; !replacing {
		m.serviceRefs[svc]++
	}
	m.subscriptions[workflowName] = sub
}

// StopTrigger tears down workflowName's subscription, if any. The stored
// teardown is invoked exactly once; errors from it are logged, not
// returned. If no other subscription shares the service, the service is
// marked disconnected.
func (m *Manager) StopTrigger(workflowName string) {
	m.mu.Lock()
	sub, ok := m.subscriptions[workflowName]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subscriptions, workflowName)
	svc := serviceName(sub.TriggerType)
	m.serviceRefs[svc]--
	remaining := m.serviceRefs[svc]
	m.mu.Unlock()

	sub.cancel()
	if sub.teardown != nil {
		if err := sub.teardown(); err != nil {
			logger.Error("trigger teardown failed", "workflow", workflowName, "error", err)
		}
	}

	if remaining <= 0 {
		m.setServiceStatus(svc, StatusDisconnected, "")
	}
}

// StopAll tears down every subscription and clears service state.
func (m *Manager) StopAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.subscriptions))
	for name := range m.subscriptions {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.StopTrigger(name)
	}

	m.mu.Lock()
	m.services = make(map[string]*ServiceStatus)
	m.serviceRefs = make(map[string]int)
	m.mu.Unlock()
}

// Status returns the current subscription for workflowName, if any.
func (m *Manager) Status(workflowName string) (Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[workflowName]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// ServiceStatus returns the aggregate status for serviceName, if known.
func (m *Manager) ServiceStatus(serviceName string) (ServiceStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[serviceName]
	if !ok {
		return ServiceStatus{}, false
	}
	return *s, true
}

func (m *Manager) setServiceStatus(svc string, status Status, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc] = &ServiceStatus{Name: svc, Status: status, Error: errMsg}
}

// handleEvent applies the subscription's filters and, on acceptance,
// dispatches a fresh run: a new UUID runId, a fresh parse of the
// workflow's authoritative source, and a call to the injected
// ExecuteFunc. It never blocks the caller (typically a plugin's own
// goroutine) for longer than filtering and a fresh parse take.
func (m *Manager) handleEvent(workflowName string, sub *Subscription, payload map[string]any) {
	if !accepts(sub.Config, payload) {
		return
	}

	runID := uuid.NewString()

	if m.source == nil {
		logger.Error("trigger: no source lookup configured", "workflow", workflowName)
		m.reportDone(workflowName, runID, "failed")
		return
	}

	data, err := m.source(workflowName)
	if err != nil {
		logger.Error("trigger: failed to load workflow source", "workflow", workflowName, "error", err)
		m.reportDone(workflowName, runID, "failed")
		return
	}

	wf, err := workflow.Parse(data)
	if err != nil {
		logger.Error("trigger: failed to parse workflow", "workflow", workflowName, "error", err)
		m.reportDone(workflowName, runID, "failed")
		return
	}

	go func() {
		if err := m.execute(context.Background(), wf, common.Input(payload), runID); err != nil {
			logger.Error("trigger: workflow execution failed", "workflow", workflowName, "runId", runID, "error", err)
			m.reportDone(workflowName, runID, "failed")
		}
	}()
}

func (m *Manager) reportDone(workflowName, runID, status string) {
	if m.onDone != nil {
		m.onDone(workflowName, runID, status)
	}
}
