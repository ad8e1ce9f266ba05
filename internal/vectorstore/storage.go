// Package vectorstore persists index generations. A generation's vectors and
// sentences are always written and read as one unit, and a new generation
// becomes visible only after it is completely written.
package vectorstore

import (
	"context"

	"medrag/internal/index"
)

// Storage persists and restores the active index generation.
type Storage interface {
	// Save writes g and makes it the active generation.
	Save(ctx context.Context, g *index.Generation) error
	// Load returns the active generation, or domain.ErrIndexUnavailable when
	// none is present or it cannot be read back intact.
	Load(ctx context.Context) (*index.Generation, error)
}
