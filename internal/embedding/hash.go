package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, model-free embedder. Each token hashes to
// a handful of vector buckets; the result is L2-normalized. Texts sharing
// tokens land near each other, which is enough for local use and tests.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}
	for _, tok := range tokens {
		hsh := fnv.New64a()
		_, _ = hsh.Write([]byte(tok))
		seed := hsh.Sum64()
		// Four buckets per token, signed by alternating bits.
		for i := 0; i < 4; i++ {
			bucket := int((seed >> (i * 16)) & 0xffff) % h.dim
			sign := float32(1)
			if (seed>>(i*16+15))&1 == 1 {
				sign = -1
			}
			vec[bucket] += sign
		}
	}
	normalize(vec)
	return vec, nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Tokenize lower-cases and splits on non-alphanumeric runes. Shared with the
// keyword scorer so both paths agree on token identity.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
