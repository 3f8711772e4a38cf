package providers

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIEmbedder implements Embedder against OpenAI's embeddings endpoint,
// following the same client-construction idiom as graph/model/openai's
// ChatModel (there is no existing precedent for embeddings, since
// graph/model only defines chat; this generalizes that file's SDK usage
// rather than inventing an unrelated client shape).
type openAIEmbedder struct {
	apiKey    string
	modelName string
}

func newOpenAIEmbedder(apiKey, modelName string) *openAIEmbedder {
	if modelName == "" {
		modelName = "text-embedding-3-small"
	}
	return &openAIEmbedder{apiKey: apiKey, modelName: modelName}
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(e.apiKey))
	resp, err := client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(e.modelName),
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: openaisdk.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("OpenAI embeddings: empty response")
	}

	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
