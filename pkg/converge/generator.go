package converge

import (
	"context"
	"fmt"

	"github.com/simmerhq/simmer/pkg/api"
)

// EngineGenerator adapts a recipe engine as a Generator: each round runs one
// session of the named recipe and reads the artifact from the session
// context.
//
// The request fields are seeded into the session context under the spec,
// feedback and round keys; the recipe decides what to do with them.
type EngineGenerator struct {
	Engine     api.Engine
	RecipeName string

	// ArtifactKey is the context variable the recipe binds its artifact to.
	ArtifactKey string

	// Context key overrides; empty selects "spec", "feedback" and "round".
	SpecKey     string
	FeedbackKey string
	RoundKey    string
}

var _ Generator = (*EngineGenerator)(nil)

func (g *EngineGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if g.ArtifactKey == "" {
		return "", fmt.Errorf("engine generator has no artifact key")
	}

	initial := map[string]any{
		g.key(g.SpecKey, "spec"):         req.Spec,
		g.key(g.FeedbackKey, "feedback"): req.Feedback,
		g.key(g.RoundKey, "round"):       float64(req.Round),
	}

	sess, err := g.Engine.Run(ctx, g.RecipeName, initial)
	if err != nil {
		return "", fmt.Errorf("running recipe %s: %w", g.RecipeName, err)
	}
	if sess.Status != api.StatusCompleted {
		return "", fmt.Errorf("recipe %s ended %s: %s", g.RecipeName, sess.Status, sess.Err)
	}

	artifact, ok := sess.Context[g.ArtifactKey]
	if !ok {
		return "", fmt.Errorf("recipe %s bound no %q variable", g.RecipeName, g.ArtifactKey)
	}
	text, ok := artifact.(string)
	if !ok {
		return "", fmt.Errorf("artifact variable %q is %T, not a string", g.ArtifactKey, artifact)
	}
	return text, nil
}

func (g *EngineGenerator) key(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
