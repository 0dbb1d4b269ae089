// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/leseb/storybridge/pkg/provider"
)

// DefaultHashDimensions is used when no dimension is configured.
const DefaultHashDimensions = 256

func init() {
	Providers.Register("hash", func(_ context.Context, params provider.Params) (Client, error) {
		dims, err := params.Int("dimensions", DefaultHashDimensions)
		if err != nil {
			return nil, err
		}
		return NewHashClient(dims), nil
	})
}

// HashClient is an offline Client using signed feature hashing over
// lower-cased word tokens. Texts sharing vocabulary land close together,
// which is enough for local runs and tests.
type HashClient struct {
	dimensions int
}

// NewHashClient returns a HashClient producing vectors of the given size.
func NewHashClient(dimensions int) *HashClient {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashClient{dimensions: dimensions}
}

// Dimensions returns the vector size.
func (c *HashClient) Dimensions() int {
	return c.dimensions
}

// Embed returns one L2-normalised vector per input.
func (c *HashClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = c.vector(text)
	}
	return out, nil
}

func (c *HashClient) vector(text string) []float32 {
	vec := make([]float32, c.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(c.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
