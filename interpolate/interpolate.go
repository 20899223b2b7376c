// Package interpolate resolves `{{ expr }}` templates against a run's
// Context: the trigger payload, completed step outputs, environment
// overlay, and current date. It also implements the minimal expression
// surface (dotted path lookup, `==`/`!=`, boolean literals) used by a
// step's `if` condition.
//
// The expression language is deliberately small — a tokenizer/evaluator,
// not a general-purpose expression engine — so this package has no
// third-party dependency of its own.
package interpolate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openweavr/workflow-engine/common"
)

// Context is the scope templates and `if` expressions are evaluated
// against.
type Context struct {
	Trigger     common.Input
	Steps       map[string]common.Output
	Env         common.EnvMap
	CurrentDate time.Time
}

var (
	templatePattern   = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)
	singleTokenRegexp = regexp.MustCompile(`^\{\{\s*(.+?)\s*\}\}$`)
)

// Resolve recursively walks value (string, []any, map[string]any, or a
// common.Input/common.Output) and resolves every `{{ expr }}` template it
// finds. A string that is nothing but a single template preserves the
// referenced value's type; otherwise the resolved value is stringified and
// spliced into the surrounding text. Values of any other type pass through
// unchanged.
func Resolve(ctx Context, value any) any {
	switch v := value.(type) {
	case string:
		return resolveString(ctx, v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(ctx, item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(ctx, item)
		}
		return out
	case common.Input:
		out := make(common.Input, len(v))
		for k, item := range v {
			out[k] = Resolve(ctx, item)
		}
		return out
	case common.Output:
		out := make(common.Output, len(v))
		for k, item := range v {
			out[k] = Resolve(ctx, item)
		}
		return out
	default:
		return v
	}
}

func resolveString(ctx Context, s string) any {
	if m := singleTokenRegexp.FindStringSubmatch(s); m != nil && !strings.Contains(m[1], "}}") {
		return evalOperand(ctx, strings.TrimSpace(m[1]))
	}
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := templatePattern.FindStringSubmatch(match)[1]
		return stringify(evalOperand(ctx, strings.TrimSpace(inner)))
	})
}

// Truthy classifies false/nil/zero/empty as falsey, along with the string
// literals "false" and "0"; everything else is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case common.Input:
		return len(t) > 0
	case common.Output:
		return len(t) > 0
	default:
		return true
	}
}

// EvaluateIf evaluates a step's `if` expression (optionally wrapped in
// `{{ }}`) and returns its truthiness. It supports a bare dotted-path
// lookup, boolean literals, and `==`/`!=` comparisons between any
// combination of path lookups, numeric literals, quoted strings, and
// booleans.
func EvaluateIf(ctx Context, expr string) (bool, error) {
	inner := stripBraces(expr)
	if inner == "" {
		return false, nil
	}

	if idx := strings.Index(inner, "!="); idx >= 0 {
		lhs := evalOperand(ctx, inner[:idx])
		rhs := evalOperand(ctx, inner[idx+2:])
		return !valuesEqual(lhs, rhs), nil
	}
	if idx := strings.Index(inner, "=="); idx >= 0 {
		lhs := evalOperand(ctx, inner[:idx])
		rhs := evalOperand(ctx, inner[idx+2:])
		return valuesEqual(lhs, rhs), nil
	}

	return Truthy(evalOperand(ctx, inner)), nil
}

func stripBraces(s string) string {
	if m := singleTokenRegexp.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// evalOperand resolves one side of an expression: a boolean literal, a
// numeric literal, a quoted string literal, or a dotted path.
func evalOperand(ctx Context, raw string) any {
	s := strings.TrimSpace(raw)
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return resolvePath(ctx, s)
}

// resolvePath resolves a dotted path such as "steps.fetch.result.items.0"
// against ctx. Missing references resolve to nil, not an error.
func resolvePath(ctx Context, path string) any {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil
	}

	switch segments[0] {
	case "steps":
		if len(segments) < 2 {
			return nil
		}
		out, ok := ctx.Steps[segments[1]]
		if !ok {
			return nil
		}
		if len(segments) == 2 {
			return out
		}
		val, ok := navigate(out, segments[2:])
		if !ok {
			return nil
		}
		return val
	case "trigger":
		if len(segments) == 1 {
			return ctx.Trigger
		}
		val, ok := navigate(ctx.Trigger, segments[1:])
		if !ok {
			return nil
		}
		return val
	case "env":
		if len(segments) < 2 {
			return nil
		}
		v, ok := ctx.Env[segments[1]]
		if !ok {
			return nil
		}
		return v
	case "currentDate":
		if len(segments) == 1 {
			return ctx.CurrentDate
		}
		return nil
	default:
		return nil
	}
}

// navigate walks a nested value by field name or numeric list index.
func navigate(v any, segments []string) (any, bool) {
	cur := v
	for _, seg := range segments {
		m, isMap := asMap(cur)
		if isMap {
			val, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = val
			continue
		}
		list, isList := asList(cur)
		if isList {
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(list) {
				return nil, false
			}
			cur = list[idx]
			continue
		}
		return nil, false
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case common.Input:
		return map[string]any(m), true
	case common.Output:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, bool) {
	list, ok := v.([]any)
	return list, ok
}

// splitPath splits a dotted path, also accepting bracket index notation
// ("items[0]" as well as "items.0").
func splitPath(s string) []string {
	var out []string
	cur := strings.Builder{}
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case '.', '[':
			flush()
		case ']':
			// no-op, closes a bracket segment started above
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64, int, int64:
		return fmt.Sprintf("%v", t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
