package ollama

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama.
//
// The returned vector is truncated or zero-padded to the configured
// dimensions; blank input yields a zero vector.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	dim := c.embeddingDim
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, dim), nil
	}

	err := c.reqLock.Acquire(ctx, 1)
	if err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	}

	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, ai.Classify(err)
	}

	c.Record(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	out := make([]float32, dim)
	if len(res.Embeddings) > 0 {
		for i, val := range res.Embeddings[0] {
			if i >= dim {
				break
			}
			out[i] = float32(val)
		}
	}
	return out, nil
}
