package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// IssueLevel classifies a validation Issue.
type IssueLevel string

const (
	// IssueError means the workflow cannot be executed as written.
	IssueError IssueLevel = "error"
	// IssueWarning flags a workflow that can run but is probably wrong.
	IssueWarning IssueLevel = "warning"
)

// Issue is a single semantic finding produced by Validate. Path uses the
// same dot/bracket notation as ParseError.
type Issue struct {
	Level   IssueLevel
	Message string
	Path    string
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Level, i.Path, i.Message)
}

var templatePattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Validate runs the semantic checks Parse cannot: duplicate step ids,
// dangling depends_on references, dependency cycles, references to actions
// and triggers the caller says aren't registered, and a handful of
// best-practice warnings. It returns every Issue it finds; a non-nil error
// is only returned for a programmer error (a nil workflow), not for
// validation findings.
func Validate(wf *Workflow, availableActions, availableTriggers []string) ([]Issue, error) {
	if wf == nil {
		return nil, fmt.Errorf("validate: workflow is nil")
	}

	var issues []Issue

	issues = append(issues, checkBasics(wf)...)
	issues = append(issues, checkDuplicateIDs(wf)...)
	issues = append(issues, checkDependsOnReferences(wf)...)
	issues = append(issues, checkCycles(wf)...)
	issues = append(issues, checkActionsKnown(wf, availableActions)...)
	issues = append(issues, checkTriggersKnown(wf, availableTriggers)...)
	issues = append(issues, checkVariableReferences(wf)...)

	return issues, nil
}

func checkBasics(wf *Workflow) []Issue {
	var issues []Issue
	if wf.Description == "" {
		issues = append(issues, Issue{
			Level:   IssueWarning,
			Message: "workflow has no description",
			Path:    "description",
		})
	}
	if len(wf.Steps) == 0 {
		issues = append(issues, Issue{
			Level:   IssueWarning,
			Message: "workflow has no steps",
			Path:    "steps",
		})
	}
	return issues
}

func checkDuplicateIDs(wf *Workflow) []Issue {
	var issues []Issue
	seen := make(map[string]int)
	for i, s := range wf.Steps {
		if first, ok := seen[s.ID]; ok {
			issues = append(issues, Issue{
				Level:   IssueError,
				Message: fmt.Sprintf("duplicate step id %q (first defined at steps[%d])", s.ID, first),
				Path:    fmt.Sprintf("steps[%d].id", i),
			})
			continue
		}
		seen[s.ID] = i
	}
	return issues
}

func checkDependsOnReferences(wf *Workflow) []Issue {
	var issues []Issue
	known := make(map[string]struct{}, len(wf.Steps))
	for _, s := range wf.Steps {
		known[s.ID] = struct{}{}
	}
	for i, s := range wf.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := known[dep]; !ok {
				issues = append(issues, Issue{
					Level:   IssueError,
					Message: fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep),
					Path:    fmt.Sprintf("steps[%d].depends_on", i),
				})
			}
			if dep == s.ID {
				issues = append(issues, Issue{
					Level:   IssueError,
					Message: fmt.Sprintf("step %q depends on itself", s.ID),
					Path:    fmt.Sprintf("steps[%d].depends_on", i),
				})
			}
		}
	}
	return issues
}

// checkCycles runs a standard three-color DFS over the depends_on graph and
// reports one issue per cycle it finds, naming the full cycle path.
func checkCycles(wf *Workflow) []Issue {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	byID := make(map[string]*Step, len(wf.Steps))
	for i := range wf.Steps {
		byID[wf.Steps[i].ID] = &wf.Steps[i]
	}

	color := make(map[string]int, len(wf.Steps))
	var issues []Issue
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		step, ok := byID[id]
		if ok {
			for _, dep := range step.DependsOn {
				if _, known := byID[dep]; !known {
					continue // reported by checkDependsOnReferences
				}
				switch color[dep] {
				case white:
					visit(dep)
				case gray:
					start := len(stack) - 1
					for stack[start] != dep {
						start--
					}
					cyclePath := append(append([]string{}, stack[start:]...), dep)
					issues = append(issues, Issue{
						Level:   IssueError,
						Message: fmt.Sprintf("dependency cycle: %s", joinArrow(cyclePath)),
						Path:    "steps",
					})
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return issues
}

func joinArrow(ids []string) string {
	out := ids[0]
	for _, id := range ids[1:] {
		out += " -> " + id
	}
	return out
}

func checkActionsKnown(wf *Workflow, available []string) []Issue {
	if available == nil {
		return nil
	}
	known := toSet(available)
	var issues []Issue
	for i, s := range wf.Steps {
		if _, ok := known[s.Action]; !ok {
			issues = append(issues, Issue{
				Level:   IssueError,
				Message: fmt.Sprintf("step %q references unknown action %q (known: %s)", s.ID, s.Action, knownNames(available)),
				Path:    fmt.Sprintf("steps[%d].action", i),
			})
		}
	}
	return issues
}

func checkTriggersKnown(wf *Workflow, available []string) []Issue {
	if available == nil {
		return nil
	}
	known := toSet(available)
	var issues []Issue
	for i, t := range wf.Triggers {
		if _, ok := known[t.Type]; !ok {
			issues = append(issues, Issue{
				Level:   IssueError,
				Message: fmt.Sprintf("trigger references unknown type %q (known: %s)", t.Type, knownNames(available)),
				Path:    fmt.Sprintf("triggers[%d].type", i),
			})
		}
	}
	return issues
}

// knownNames renders at most the first five of available for an
// unknown-action or unknown-trigger message.
func knownNames(available []string) string {
	if len(available) == 0 {
		return "none"
	}
	if len(available) > 5 {
		available = available[:5]
	}
	return strings.Join(available, ", ")
}

// checkVariableReferences scans each step's If expression and string config
// values for {{ ... }} templates and flags the ones that cannot possibly
// resolve. A steps.<id> reference to a step that is unknown or not defined
// earlier in the list is an error: the run can never produce that output.
// A steps.<id> reference to a step that is known and earlier but not
// declared in depends_on is only a warning, since it will still resolve.
// A trigger reference in a workflow with no triggers, and anything outside
// the four recognized namespaces (steps/trigger/env/currentDate), are
// warnings.
func checkVariableReferences(wf *Workflow) []Issue {
	var issues []Issue

	depsOf := make(map[string]map[string]struct{}, len(wf.Steps))
	position := make(map[string]int, len(wf.Steps))
	for i, s := range wf.Steps {
		depsOf[s.ID] = toSet(s.DependsOn)
		position[s.ID] = i
	}

	for i, s := range wf.Steps {
		refs := extractRefs(s.If)
		for _, v := range s.Config {
			str, ok := v.(string)
			if !ok {
				continue
			}
			refs = append(refs, extractRefs(str)...)
		}

		for _, ref := range refs {
			switch ref.namespace {
			case "steps":
				pos, known := position[ref.stepID]
				switch {
				case !known:
					issues = append(issues, Issue{
						Level:   IssueError,
						Message: fmt.Sprintf("step %q references unknown step %q", s.ID, ref.stepID),
						Path:    fmt.Sprintf("steps[%d]", i),
					})
				case pos >= i:
					issues = append(issues, Issue{
						Level:   IssueError,
						Message: fmt.Sprintf("step %q references step %q which is not defined earlier in the workflow", s.ID, ref.stepID),
						Path:    fmt.Sprintf("steps[%d]", i),
					})
				default:
					if _, isDep := depsOf[s.ID][ref.stepID]; !isDep {
						issues = append(issues, Issue{
							Level:   IssueWarning,
							Message: fmt.Sprintf("step %q references %q which is not in its depends_on list", s.ID, ref.stepID),
							Path:    fmt.Sprintf("steps[%d]", i),
						})
					}
				}
			case "trigger":
				if len(wf.Triggers) == 0 {
					issues = append(issues, Issue{
						Level:   IssueWarning,
						Message: fmt.Sprintf("step %q references trigger data but the workflow declares no triggers", s.ID),
						Path:    fmt.Sprintf("steps[%d]", i),
					})
				}
			case "env", "currentDate":
				// always valid references
			default:
				issues = append(issues, Issue{
					Level:   IssueWarning,
					Message: fmt.Sprintf("step %q contains an unrecognized reference %q", s.ID, ref.raw),
					Path:    fmt.Sprintf("steps[%d]", i),
				})
			}
		}
	}
	return issues
}

// varRef is a single {{ ... }} reference found in a step's If expression or
// config, classified into one of the recognized namespaces: steps, trigger,
// env, currentDate, or "other" for anything unrecognized.
type varRef struct {
	namespace string
	stepID    string
	raw       string
}

// extractRefs pulls the leading path segment out of each {{ ... }} template
// in expr, e.g. "{{ steps.fetch.output.body }}" yields namespace "steps" and
// stepID "fetch".
func extractRefs(expr string) []varRef {
	var out []varRef
	for _, m := range templatePattern.FindAllStringSubmatch(expr, -1) {
		raw := m[1]
		path := splitFirstToken(raw)
		if len(path) == 0 {
			continue
		}
		switch path[0] {
		case "steps":
			if len(path) > 1 {
				out = append(out, varRef{namespace: "steps", stepID: path[1], raw: raw})
			}
		case "trigger":
			out = append(out, varRef{namespace: "trigger", raw: raw})
		case "env":
			out = append(out, varRef{namespace: "env", raw: raw})
		case "currentDate":
			out = append(out, varRef{namespace: "currentDate", raw: raw})
		case "true", "false":
			// boolean literal, not a reference
		default:
			out = append(out, varRef{namespace: "other", raw: raw})
		}
	}
	return out
}

// splitFirstToken extracts the dotted path out of a comparison/boolean
// expression like `steps.fetch.status == 200`, returning its segments.
func splitFirstToken(s string) []string {
	token := s
	for _, sep := range []string{"==", "!=", " "} {
		if idx := indexOf(token, sep); idx >= 0 {
			token = token[:idx]
		}
	}
	return splitDots(token)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func splitDots(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '.' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		if r == '[' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		if r == ']' {
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
