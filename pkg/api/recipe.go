package api

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// StepKind selects which capability executes a step.
type StepKind string

const (
	// StepAgent invokes the agent capability with a prompt.
	StepAgent StepKind = "agent"
	// StepBash invokes the shell capability with a command.
	StepBash StepKind = "bash"
)

// OnError controls how a step's terminal failure propagates.
type OnError string

const (
	// OnErrorFail aborts the remaining graph (default).
	OnErrorFail OnError = "fail"
	// OnErrorContinue marks the step failed and proceeds with dependents
	// that do not require its output.
	OnErrorContinue OnError = "continue"
	// OnErrorSkipRemaining marks all not-yet-started steps skipped and
	// ends the session as a partial success.
	OnErrorSkipRemaining OnError = "skip_remaining"
)

// BackoffKind selects the retry delay growth curve.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
)

// RetrySpec controls how a step is retried after a retryable failure.
// MaxAttempts includes the first attempt; delays are in seconds.
type RetrySpec struct {
	MaxAttempts  int         `yaml:"max_attempts"`
	Backoff      BackoffKind `yaml:"backoff,omitempty"`
	InitialDelay float64     `yaml:"initial_delay,omitempty"`
	MaxDelay     float64     `yaml:"max_delay,omitempty"`
}

// Default step knobs, recovered from the recipe format this engine executes.
const (
	DefaultTimeout       = 600 // seconds
	DefaultMaxIterations = 100
	DefaultLoopVar       = "item"
	DefaultInitialDelay  = 1.0  // seconds
	DefaultMaxDelay      = 60.0 // seconds
	DefaultShell         = "/bin/sh"
)

// Step is one declared unit of work in a recipe graph. Exactly one kind's
// invocation fields may be set; control-flow decorations are shared.
// Steps are immutable after the recipe is parsed; runtime state lives in
// StepOutcome.
type Step struct {
	ID   string   `yaml:"id"`
	Type StepKind `yaml:"type,omitempty"` // defaults to agent

	// Agent invocation payload.
	Agent  string `yaml:"agent,omitempty"`
	Prompt string `yaml:"prompt,omitempty"`
	Model  string `yaml:"model,omitempty"` // exact name or glob pattern

	// Bash invocation payload.
	Command string            `yaml:"command,omitempty"`
	Shell   string            `yaml:"shell,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// Control flow.
	DependsOn []string `yaml:"depends_on,omitempty"`
	Condition string   `yaml:"condition,omitempty"`

	// Loop expansion.
	Foreach       string `yaml:"foreach,omitempty"`
	As            string `yaml:"as,omitempty"`
	Collect       string `yaml:"collect,omitempty"`
	Parallel      bool   `yaml:"parallel,omitempty"`
	MaxIterations int    `yaml:"max_iterations,omitempty"`
	DelayBetween  int    `yaml:"delay_between,omitempty"` // milliseconds

	// Failure policy.
	Retry   *RetrySpec `yaml:"retry,omitempty"`
	OnError OnError    `yaml:"on_error,omitempty"`
	Timeout int        `yaml:"timeout,omitempty"` // seconds

	// Output binding. Two concurrent steps writing the same output name is
	// a caller error; the engine does not arbitrate the resulting order.
	Output         string `yaml:"output,omitempty"`
	OutputStderr   string `yaml:"output_stderr,omitempty"`
	OutputExitCode string `yaml:"output_exit_code,omitempty"`
	ParseJSON      *bool  `yaml:"parse_json,omitempty"`
}

// Recipe describes a directed set of steps executed against a shared
// context. It is parsed once per session and never mutated afterwards.
type Recipe struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Version     string         `yaml:"version"`
	Context     map[string]any `yaml:"context,omitempty"`
	Steps       []*Step        `yaml:"steps"`
}

var (
	identPattern   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	namePattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Output names that would shadow engine-provided context.
var reservedOutputNames = map[string]bool{
	"recipe":  true,
	"session": true,
	"step":    true,
}

// Kind returns the effective step kind, applying the agent default.
func (s *Step) Kind() StepKind {
	if s.Type == "" {
		return StepAgent
	}
	return s.Type
}

// EffectiveTimeout returns the step timeout with the default applied.
func (s *Step) EffectiveTimeout() int {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

// LoopVar returns the foreach loop variable name with the default applied.
func (s *Step) LoopVar() string {
	if s.As != "" {
		return s.As
	}
	return DefaultLoopVar
}

// MaxAttempts returns the retry attempt ceiling, at least 1.
func (s *Step) MaxAttempts() int {
	if s.Retry != nil && s.Retry.MaxAttempts > 0 {
		return s.Retry.MaxAttempts
	}
	return 1
}

// ErrorPolicy returns the step's on_error policy with the default applied.
func (s *Step) ErrorPolicy() OnError {
	if s.OnError == "" {
		return OnErrorFail
	}
	return s.OnError
}

// Validate checks that the step is well-formed. All problems are reported,
// joined into one error.
func (s *Step) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if s.ID == "" {
		fail("step id is required")
	}

	switch s.Kind() {
	case StepAgent:
		if s.Agent == "" {
			fail("step %s: agent is required for agent steps", s.ID)
		}
		if s.Prompt == "" {
			fail("step %s: prompt is required for agent steps", s.ID)
		}
		if s.Command != "" {
			fail("step %s: agent step cannot have command", s.ID)
		}
		if s.OutputExitCode != "" {
			fail("step %s: agent step cannot have output_exit_code", s.ID)
		}
	case StepBash:
		if s.Command == "" {
			fail("step %s: command is required for bash steps", s.ID)
		}
		if s.Agent != "" {
			fail("step %s: bash step cannot have agent", s.ID)
		}
		if s.Prompt != "" {
			fail("step %s: bash step cannot have prompt", s.ID)
		}
		if s.Model != "" {
			fail("step %s: bash step cannot have model", s.ID)
		}
	default:
		fail("step %s: unknown type %q", s.ID, s.Type)
	}

	if s.Timeout < 0 {
		fail("step %s: timeout must be positive", s.ID)
	}
	switch s.OnError {
	case "", OnErrorFail, OnErrorContinue, OnErrorSkipRemaining:
	default:
		fail("step %s: invalid on_error %q", s.ID, s.OnError)
	}

	for field, name := range map[string]string{
		"output":           s.Output,
		"output_stderr":    s.OutputStderr,
		"output_exit_code": s.OutputExitCode,
		"collect":          s.Collect,
		"as":               s.As,
	} {
		if name == "" {
			continue
		}
		if !identPattern.MatchString(name) {
			fail("step %s: %s %q is not a valid variable name", s.ID, field, name)
		} else if reservedOutputNames[name] {
			fail("step %s: %s %q is a reserved name", s.ID, field, name)
		}
	}

	if s.Retry != nil {
		if s.Retry.MaxAttempts < 1 {
			fail("step %s: retry max_attempts must be >= 1", s.ID)
		}
		switch s.Retry.Backoff {
		case "", BackoffExponential, BackoffLinear:
		default:
			fail("step %s: invalid retry backoff %q", s.ID, s.Retry.Backoff)
		}
		if s.Retry.InitialDelay < 0 || s.Retry.MaxDelay < 0 {
			fail("step %s: retry delays must not be negative", s.ID)
		}
	}

	if s.Foreach == "" {
		if s.As != "" || s.Collect != "" || s.Parallel || s.DelayBetween != 0 {
			fail("step %s: as/collect/parallel/delay_between require foreach", s.ID)
		}
	} else if s.OutputStderr != "" || s.OutputExitCode != "" {
		// Per-iteration streams have no single value to bind; collect is the
		// loop's aggregation mechanism.
		fail("step %s: output_stderr and output_exit_code cannot be used with foreach", s.ID)
	}
	if s.MaxIterations < 0 || s.DelayBetween < 0 {
		fail("step %s: max_iterations and delay_between must not be negative", s.ID)
	}

	for _, dep := range s.DependsOn {
		if dep == s.ID {
			fail("step %s: cannot depend on itself", s.ID)
		}
	}

	return errors.Join(errs...)
}

// Validate checks the whole recipe: metadata, every step, dependency
// references, and acyclicity of the depends_on graph.
func (r *Recipe) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if r.Name == "" {
		fail("recipe name is required")
	} else if !namePattern.MatchString(r.Name) {
		fail("recipe name %q must be alphanumeric with - or _", r.Name)
	}
	if r.Description == "" {
		fail("recipe description is required")
	}
	if r.Version == "" {
		fail("recipe version is required")
	} else if !versionPattern.MatchString(r.Version) {
		fail("recipe version %q must be of the form x.y.z", r.Version)
	}
	if len(r.Steps) == 0 {
		fail("recipe must have at least one step")
	}

	ids := make(map[string]bool, len(r.Steps))
	for _, s := range r.Steps {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
		if s.ID == "" {
			continue
		}
		if ids[s.ID] {
			fail("duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
	}

	for _, s := range r.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				fail("step %s: depends_on references unknown step %q", s.ID, dep)
			}
		}
	}

	if len(errs) == 0 {
		if err := r.checkAcyclic(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// checkAcyclic runs Kahn's algorithm over depends_on edges.
func (r *Recipe) checkAcyclic() error {
	indegree := make(map[string]int, len(r.Steps))
	dependents := make(map[string][]string, len(r.Steps))
	for _, s := range r.Steps {
		indegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for id, n := range indegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}

	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if seen != len(r.Steps) {
		return errors.New("recipe dependency graph contains a cycle")
	}
	return nil
}

// GetStep returns the step with the given id, or nil.
func (r *Recipe) GetStep(id string) *Step {
	for _, s := range r.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ParseRecipe parses and validates a YAML recipe document.
func ParseRecipe(data []byte) (*Recipe, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Recipe
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parsing recipe: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recipe %q: %w", r.Name, err)
	}
	return &r, nil
}

// LoadRecipeFile reads and parses a YAML recipe from disk.
func LoadRecipeFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe file: %w", err)
	}
	return ParseRecipe(data)
}
