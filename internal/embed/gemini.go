package embed

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider embeds text through the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGeminiProvider creates a Gemini-backed embedding provider.
func NewGeminiProvider(ctx context.Context, apiKey, model string, dim int) (*GeminiProvider, error) {
	if model == "" {
		model = "text-embedding-005"
	}
	if dim == 0 {
		dim = 768
	}

	cc := genai.ClientConfig{APIKey: apiKey}
	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, dim: dim}, nil
}

func (p *GeminiProvider) Model() string { return p.model }
func (p *GeminiProvider) Dim() int      { return p.dim }

// EmbedBatch embeds up to MaxBatchItems texts in one upstream call and
// returns one vector per input, in order.
func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)...)
	}

	cfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	res, err := p.client.Models.EmbedContent(ctx, p.model, contents, &cfg)
	if err != nil {
		return nil, classifyError(err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", countEmbeddings(res), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func countEmbeddings(res *genai.EmbedContentResponse) int {
	if res == nil {
		return 0
	}
	return len(res.Embeddings)
}

// classifyError converts genai API errors into ProviderError so the
// generator can detect quota/auth failures.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.Code,
			Code:       apiErr.Status,
			Message:    apiErr.Message,
		}
	}
	return err
}
