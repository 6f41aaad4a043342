package embedding

import (
	"context"

	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
)

// Provider converts an ordered list of texts into one vector per text, in input
// order, or fails the whole call.
type Provider interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([]domain.Vector, error)
}

// Preparer is implemented by providers that must fit a vocabulary to the texts of
// a call before embedding them.
type Preparer interface {
	Prepare(corpus []string) error
}
