// Package mock provides a canned reply.Generator for tests and for running
// the server without a language-generation provider.
package mock

import (
	"context"

	"github.com/voxprep/voxprep/pkg/reply"
)

// Generator is a test double for [reply.Generator].
type Generator struct {
	// Reply is returned for every call when GenerateFunc is nil.
	Reply string

	// GenerateFunc overrides the canned behaviour when set.
	GenerateFunc func(ctx context.Context, userText string) (string, error)
}

// Generate returns the configured reply, or echoes the user's text when no
// reply is configured.
func (g *Generator) Generate(ctx context.Context, userText string) (string, error) {
	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, userText)
	}
	if g.Reply != "" {
		return g.Reply, nil
	}
	return reply.Normalize(userText), nil
}

var _ reply.Generator = (*Generator)(nil)
