// Command workflowctl is a minimal smoke-test consumer of the workflow
// engine core: parse, validate, and run a single workflow document. The
// interactive CLI front end itself is out of scope for this module; this
// binary exists only to exercise the executor end to end.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/openweavr/workflow-engine/common"
	"github.com/openweavr/workflow-engine/executor"
	"github.com/openweavr/workflow-engine/pkg/logger"
	"github.com/openweavr/workflow-engine/registry"
	"github.com/openweavr/workflow-engine/workflow"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: workflowctl <workflow.yaml>")
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	wf, err := workflow.Parse(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	reg := registry.New()
	if err := reg.Register(corePlugin()); err != nil {
		return fmt.Errorf("registering core plugin: %w", err)
	}

	issues, err := workflow.Validate(wf, reg.ListActions(), reg.ListTriggers())
	if err != nil {
		return err
	}
	hasErrors := false
	for _, issue := range issues {
		if issue.Level == workflow.IssueError {
			hasErrors = true
		}
		logger.Warn(issue.Message, "path", issue.Path, "level", issue.Level)
	}
	if hasErrors {
		return fmt.Errorf("workflow %s failed validation", wf.Name)
	}

	exec := executor.New(reg, executor.Options{})
	exec.On(executor.EventStepStarted, func(ev executor.Event) {
		logger.Info("step started", "runId", ev.RunID, "step", ev.StepID)
	})
	exec.On(executor.EventStepCompleted, func(ev executor.Event) {
		logger.Info("step finished", "runId", ev.RunID, "step", ev.StepID, "status", ev.Status)
	})
	exec.On(executor.EventStepFailed, func(ev executor.Event) {
		logger.Error("step failed", "runId", ev.RunID, "step", ev.StepID, "error", ev.Error)
	})

	run, err := exec.Execute(context.Background(), wf, nil)
	if err != nil {
		return err
	}

	logger.Info("run finished", "runId", run.ID, "status", run.Status)
	if run.Status == executor.RunFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	}
	return nil
}

// corePlugin provides the handful of built-in actions every workflow can
// rely on without a concrete plugin installed: logging and a no-op.
func corePlugin() *registry.Plugin {
	return &registry.Plugin{
		Name:        "core",
		Version:     "0.0.0",
		Description: "built-in actions available without any plugin installed",
		Actions: []registry.ActionDef{
			{
				Name:        "log",
				Description: "writes config.message to the run log",
				Execute: func(ctx context.Context, actx registry.ActionContext) (common.Output, error) {
					msg, _ := actx.Config["message"].(string)
					actx.Log(msg)
					return common.Output{"logged": true}, nil
				},
			},
			{
				Name:        "noop",
				Description: "does nothing; echoes its config back as output",
				Execute: func(ctx context.Context, actx registry.ActionContext) (common.Output, error) {
					return common.Output(actx.Config), nil
				},
			},
		},
	}
}
