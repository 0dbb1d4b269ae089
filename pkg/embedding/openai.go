// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/leseb/storybridge/pkg/provider"
)

const defaultModel = "text-embedding-3-small"

func init() {
	Providers.Register("openai", func(_ context.Context, params provider.Params) (Client, error) {
		dims, err := params.Int("dimensions", 0)
		if err != nil {
			return nil, err
		}
		return NewOpenAIClient(
			params.String("endpoint", ""),
			params.String("api_key", ""),
			params.String("model", defaultModel),
			dims,
		), nil
	})
}

// OpenAIClient implements Client against any OpenAI-compatible
// /embeddings endpoint.
type OpenAIClient struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIClient creates an embedding client with its own base URL and API key.
// A zero dimensions value lets the model pick its native size.
func NewOpenAIClient(baseURL, apiKey, model string, dimensions int) *OpenAIClient {
	opts := []option.RequestOption{}

	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		opts = append(opts, option.WithAPIKey("dummy"))
	}
	if model == "" {
		model = defaultModel
	}

	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

// Dimensions returns the configured vector size.
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

// Embed generates embeddings for the given text inputs.
func (c *OpenAIClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	var input openai.EmbeddingNewParamsInputUnion
	if len(inputs) == 1 {
		input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(inputs[0]),
		}
	} else {
		input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		}
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
		Input: input,
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, errUnexpectedCount(len(inputs), len(resp.Data))
	}

	// The API reports each vector's input position; honour it rather than
	// trusting response order.
	results := make([][]float32, len(inputs))
	for i, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(results) || results[idx] != nil {
			idx = i
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		results[idx] = vec
	}

	return results, nil
}

func errUnexpectedCount(want, got int) error {
	return fmt.Errorf("embedding: expected %d vectors, got %d", want, got)
}
