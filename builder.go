package simmer

import (
	"fmt"

	"github.com/simmerhq/simmer/pkg/api"
)

// RecipeBuilder constructs recipes fluently, as an alternative to YAML.
// Structural misuse (empty ids, duplicate output names) panics at build
// time rather than surfacing as a runtime validation error; semantic
// problems are reported by Build.
//
//	recipe, err := simmer.NewRecipe("review", "review a patch").
//		BashStep("diff", "git diff HEAD~1", simmer.Output("patch")).
//		AgentStep("review", "reviewer", "Review this patch: {{patch}}",
//			simmer.DependsOn("diff"),
//			simmer.Output("verdict"),
//		).
//		Build()
type RecipeBuilder struct {
	recipe api.Recipe
}

// NewRecipe starts a builder. Version defaults to 1.0.0.
func NewRecipe(name, description string) *RecipeBuilder {
	if name == "" {
		panic("simmer: recipe name must not be empty")
	}
	return &RecipeBuilder{recipe: api.Recipe{
		Name:        name,
		Description: description,
		Version:     "1.0.0",
	}}
}

// Version sets the recipe version (x.y.z).
func (b *RecipeBuilder) Version(v string) *RecipeBuilder {
	b.recipe.Version = v
	return b
}

// Context declares an initial context variable.
func (b *RecipeBuilder) Context(key string, value any) *RecipeBuilder {
	if b.recipe.Context == nil {
		b.recipe.Context = make(map[string]any)
	}
	b.recipe.Context[key] = value
	return b
}

// BashStep appends a shell step.
func (b *RecipeBuilder) BashStep(id, command string, opts ...StepOption) *RecipeBuilder {
	step := &api.Step{ID: id, Type: api.StepBash, Command: command}
	return b.addStep(step, opts)
}

// AgentStep appends an agent step.
func (b *RecipeBuilder) AgentStep(id, agent, prompt string, opts ...StepOption) *RecipeBuilder {
	step := &api.Step{ID: id, Type: api.StepAgent, Agent: agent, Prompt: prompt}
	return b.addStep(step, opts)
}

func (b *RecipeBuilder) addStep(step *api.Step, opts []StepOption) *RecipeBuilder {
	if step.ID == "" {
		panic("simmer: step id must not be empty")
	}
	if b.recipe.GetStep(step.ID) != nil {
		panic(fmt.Sprintf("simmer: duplicate step id %q", step.ID))
	}
	for _, opt := range opts {
		opt(step)
	}
	b.recipe.Steps = append(b.recipe.Steps, step)
	return b
}

// Build validates and returns the recipe.
func (b *RecipeBuilder) Build() (*Recipe, error) {
	r := b.recipe
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Register builds the recipe and registers it with the engine.
func (b *RecipeBuilder) Register(eng Engine) error {
	r, err := b.Build()
	if err != nil {
		return err
	}
	return eng.RegisterRecipe(r)
}

// MustRegister is Register, panicking on error. For recipes constructed from
// literals at startup.
func (b *RecipeBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(fmt.Sprintf("simmer: registering recipe %q: %v", b.recipe.Name, err))
	}
}

// Name returns the recipe name under construction.
func (b *RecipeBuilder) Name() string {
	return b.recipe.Name
}

// StepOption decorates a step under construction.
type StepOption func(*api.Step)

// DependsOn names steps that must reach a terminal state first.
func DependsOn(ids ...string) StepOption {
	return func(s *api.Step) { s.DependsOn = append(s.DependsOn, ids...) }
}

// Condition gates the step on an expression over the session context.
func Condition(expr string) StepOption {
	return func(s *api.Step) { s.Condition = expr }
}

// Output binds the step's primary result to a context variable.
func Output(name string) StepOption {
	return func(s *api.Step) { s.Output = name }
}

// OutputStderr binds captured stderr to a context variable.
func OutputStderr(name string) StepOption {
	return func(s *api.Step) { s.OutputStderr = name }
}

// OutputExitCode binds the exit code to a context variable (bash steps).
func OutputExitCode(name string) StepOption {
	return func(s *api.Step) { s.OutputExitCode = name }
}

// ParseJSON forces or suppresses JSON decoding of the bound output.
func ParseJSON(on bool) StepOption {
	return func(s *api.Step) { s.ParseJSON = &on }
}

// Foreach expands the step once per element of the named list variable,
// binding each element to loopVar. Empty loopVar selects the default.
func Foreach(list, loopVar string) StepOption {
	return func(s *api.Step) {
		s.Foreach = list
		s.As = loopVar
	}
}

// Collect gathers per-iteration results into a list under name.
func Collect(name string) StepOption {
	return func(s *api.Step) { s.Collect = name }
}

// Parallel runs foreach iterations concurrently.
func Parallel() StepOption {
	return func(s *api.Step) { s.Parallel = true }
}

// MaxIterations bounds how many foreach iterations the step may expand to.
func MaxIterations(n int) StepOption {
	return func(s *api.Step) { s.MaxIterations = n }
}

// DelayBetween waits the given milliseconds between sequential iterations.
func DelayBetween(ms int) StepOption {
	return func(s *api.Step) { s.DelayBetween = ms }
}

// WithRetry attaches a retry policy, typically from Retry(...).Spec().
func WithRetry(spec *RetrySpec) StepOption {
	return func(s *api.Step) { s.Retry = spec }
}

// WithOnError sets the step's failure policy.
func WithOnError(policy OnError) StepOption {
	return func(s *api.Step) { s.OnError = policy }
}

// Timeout bounds one attempt of the step, in seconds.
func Timeout(seconds int) StepOption {
	return func(s *api.Step) { s.Timeout = seconds }
}

// Model pins or pattern-matches the model for an agent step.
func Model(hint string) StepOption {
	return func(s *api.Step) { s.Model = hint }
}

// Env adds an environment variable for a bash step.
func Env(key, value string) StepOption {
	return func(s *api.Step) {
		if s.Env == nil {
			s.Env = make(map[string]string)
		}
		s.Env[key] = value
	}
}

// Cwd sets the working directory for a bash step.
func Cwd(dir string) StepOption {
	return func(s *api.Step) { s.Cwd = dir }
}

// Shell overrides the shell for a bash step.
func Shell(shell string) StepOption {
	return func(s *api.Step) { s.Shell = shell }
}
