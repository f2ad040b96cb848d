// Package embedding abstracts text-to-vector embedding as a capability.
// The server never binds a specific model; callers inject an Embedder at
// startup and the vector dimension is fixed for the process lifetime.
package embedding

import "context"

// Embedder converts text to fixed-dimension vectors. Implementations must be
// deterministic for a given model and safe for concurrent use.
//
// Empty or whitespace-only text yields a zero vector, which the search path
// treats as "no semantic component".
type Embedder interface {
	// Dimension returns the fixed output vector length.
	Dimension() int
	// Embed converts one text to a vector.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch converts many texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IsZero reports whether a vector has no semantic component.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
