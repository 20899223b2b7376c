package workflow

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	yaml "github.com/goccy/go-yaml"
)

var stepIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report document key names (steps[0].id) rather than Go field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		})
		_ = validate.RegisterValidation("stepid", func(fl validator.FieldLevel) bool {
			return stepIDPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// rawTrigger is the on-the-wire trigger shape, before normalization.
type rawTrigger struct {
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

type rawRetry struct {
	Attempts *int `yaml:"attempts"`
	DelayMs  *int `yaml:"delay_ms"`
	Delay    *int `yaml:"delay"`
}

type rawStep struct {
	ID        string         `yaml:"id"        validate:"required,stepid"`
	Action    string         `yaml:"action"    validate:"required"`
	Config    map[string]any `yaml:"config"`
	With      map[string]any `yaml:"with"`
	DependsOn []string       `yaml:"depends_on"`
	Needs     []string       `yaml:"needs"`
	Retry     *rawRetry      `yaml:"retry"`
	TimeoutMs *int           `yaml:"timeout_ms"`
	Timeout   *int           `yaml:"timeout"`
	If        string         `yaml:"if"`
}

type rawDoc struct {
	Name        string            `yaml:"name" validate:"required"`
	Description string            `yaml:"description"`
	Triggers    []rawTrigger      `yaml:"triggers"`
	Trigger     *rawTrigger       `yaml:"trigger"`
	Steps       []rawStep         `yaml:"steps" validate:"dive"`
	Env         map[string]string `yaml:"env"`
}

// Parse decodes a declarative workflow document (YAML, or JSON as a YAML
// subset) into a Workflow. It normalizes the `with`/`needs`/singular
// `trigger` aliases before the caller ever sees a Workflow value, and
// enforces the structural schema described in model.go. It does not perform
// semantic validation (reference checking, cycle detection); call Validate
// for that.
func Parse(data []byte) (*Workflow, error) {
	var raw rawDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, newParseError("", fmt.Errorf("invalid document: %w", err))
	}

	if err := getValidator().Struct(&raw); err != nil {
		return nil, toParseError(err)
	}

	wf := &Workflow{
		Name:        raw.Name,
		Description: raw.Description,
		Env:         raw.Env,
		Triggers:    normalizeTriggers(raw),
	}

	steps, err := normalizeSteps(raw.Steps)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps

	return wf, nil
}

func normalizeTriggers(raw rawDoc) []TriggerSpec {
	out := make([]TriggerSpec, 0, len(raw.Triggers)+1)
	for _, t := range raw.Triggers {
		out = append(out, TriggerSpec{Type: t.Type, Config: t.Config})
	}
	if raw.Trigger != nil {
		out = append(out, TriggerSpec{Type: raw.Trigger.Type, Config: raw.Trigger.Config})
	}
	return out
}

func normalizeSteps(raw []rawStep) ([]Step, error) {
	steps := make([]Step, 0, len(raw))
	for i, rs := range raw {
		step, err := normalizeStep(rs)
		if err != nil {
			return nil, &ParseError{Path: fmt.Sprintf("steps[%d]", i), Err: err}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func normalizeStep(rs rawStep) (Step, error) {
	config := rs.Config
	if config == nil {
		config = rs.With
	}

	dependsOn := mergeUnique(rs.DependsOn, rs.Needs)

	retry, err := normalizeRetry(rs.Retry)
	if err != nil {
		return Step{}, err
	}

	timeout := rs.TimeoutMs
	if timeout == nil {
		timeout = rs.Timeout
	}
	if timeout != nil && *timeout <= 0 {
		return Step{}, fmt.Errorf("timeout_ms must be positive, got %d", *timeout)
	}

	return Step{
		ID:        rs.ID,
		Action:    rs.Action,
		Config:    config,
		DependsOn: dependsOn,
		Retry:     retry,
		TimeoutMs: timeout,
		If:        rs.If,
	}, nil
}

func normalizeRetry(rr *rawRetry) (*RetryPolicy, error) {
	if rr == nil {
		return nil, nil
	}
	attempts := 3
	if rr.Attempts != nil {
		attempts = *rr.Attempts
	}
	if attempts < 1 {
		return nil, fmt.Errorf("retry.attempts must be >= 1, got %d", attempts)
	}
	delay := 1000
	if rr.DelayMs != nil {
		delay = *rr.DelayMs
	} else if rr.Delay != nil {
		delay = *rr.Delay
	}
	if delay < 0 {
		return nil, fmt.Errorf("retry.delay_ms must be >= 0, got %d", delay)
	}
	return &RetryPolicy{Attempts: attempts, DelayMs: delay}, nil
}

func mergeUnique(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func toParseError(err error) *ParseError {
	var verrs validator.ValidationErrors
	if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
		fe := verrs[0]
		path := fe.Namespace()
		if idx := indexOf(path, "."); idx >= 0 {
			path = path[idx+1:]
		}
		return newParseError(path, fmt.Errorf("%s failed validation: %s", fe.Field(), fe.Tag()))
	}
	return newParseError("", err)
}

func asValidationErrors(err error, out *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*out = verrs
	return true
}
