// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package embedding turns story text into fixed-dimension vectors.
package embedding

import (
	"context"

	"github.com/leseb/storybridge/pkg/provider"
)

// Providers is the registry of embedding client implementations.
//
// Recognised params: "endpoint", "api_key", "model", "dimensions".
var Providers = provider.NewRegistry[Client]("embedding")

// Client generates vector embeddings from text inputs. Embed returns one
// vector per input, in input order, each of length Dimensions().
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Dimensions() int
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, c Client, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errUnexpectedCount(1, len(vecs))
	}
	return vecs[0], nil
}
