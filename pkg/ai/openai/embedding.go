package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model. The vector is truncated or
// zero-padded to the configured dimensions; blank input yields a zero vector.
//
// Example:
//
//	embedding, err := client.GenerateEmbedding(ctx, []byte("sshd: Failed password for alice"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println("Embedding length:", len(embedding))
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	dim := c.embeddingDim
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, dim), nil
	}
	if c.EmbeddingClient == nil {
		return nil, ai.ErrNoEmbedClient
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{string(input)}},
		Model: c.embeddingModel,
	}

	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, ai.ClassifyStatus(apiErr.StatusCode, err)
		}
		return nil, ai.Classify(err)
	}

	c.Record(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
	})

	if len(response.Data) != 1 {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want 1", len(response.Data))
	}

	vec := make([]float32, dim)
	for i, v := range response.Data[0].Embedding {
		if i >= dim {
			break
		}
		vec[i] = float32(v)
	}
	return vec, nil
}
