package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	DefaultGeminiImageModel = "gemini-2.0-flash-exp-image-generation"
	providerGemini          = "gemini"
)

// contentGenerator is the subset of *genai.Models the adapter needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiGenerator asks a multimodal Gemini model for TEXT and IMAGE parts:
// the image becomes the asset, the text becomes its description.
type GeminiGenerator struct {
	models contentGenerator
	model  string
}

func NewGeminiGenerator(ctx context.Context, opts GeminiOptions) (*GeminiGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL},
	})
	if err != nil {
		return nil, err
	}
	return newGeminiGenerator(client.Models, opts.Model), nil
}

func newGeminiGenerator(models contentGenerator, model string) *GeminiGenerator {
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiImageModel
	}
	return &GeminiGenerator{models: models, model: model}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (*GenerateResult, error) {
	if err := requirePrompt(prompt); err != nil {
		return nil, err
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, Rejected(providerGemini, apiErr.Code, apiErr.Message)
		}
		return nil, Unreachable(providerGemini, err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, Malformed(providerGemini, "invalid response format", nil)
	}

	out := &GenerateResult{}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			out.Description = part.Text
		} else if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			out.Data = part.InlineData.Data
			out.MIMEType = part.InlineData.MIMEType
		}
	}
	if len(out.Data) == 0 {
		return nil, Malformed(providerGemini, "no image was generated", nil)
	}
	if out.MIMEType == "" {
		out.MIMEType = "image/png"
	}
	return out, nil
}

var _ ImageGenerator = (*GeminiGenerator)(nil)
