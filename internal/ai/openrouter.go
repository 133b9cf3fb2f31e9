package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const providerOpenRouter = "openrouter"

type OpenRouterOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Timeout time.Duration
}

// OpenRouterCaptioner captions an image through an OpenAI-compatible vision
// chat model. It accepts a remote URL or inline bytes.
type OpenRouterCaptioner struct {
	client *resty.Client
	model  string
}

type openRouterContent struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterMsg struct {
	Role    string              `json:"role"`
	Content []openRouterContent `json:"content"`
}

type openRouterChatReq struct {
	Model    string          `json:"model"`
	Messages []openRouterMsg `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenRouterCaptioner(opts OpenRouterOptions) *OpenRouterCaptioner {
	base := opts.BaseURL
	if base == "" {
		base = "https://openrouter.ai/api/v1"
	}
	client := newRESTClient(strings.TrimRight(base, "/"), opts.Timeout).SetAuthToken(opts.APIKey)
	if opts.SiteURL != "" {
		client.SetHeader("HTTP-Referer", opts.SiteURL)
	}
	if opts.AppName != "" {
		client.SetHeader("X-Title", opts.AppName)
	}
	return &OpenRouterCaptioner{client: client, model: opts.Model}
}

func (p *OpenRouterCaptioner) Read(ctx context.Context, img Image) (*TextResult, error) {
	if err := requireImage(img); err != nil {
		return nil, err
	}
	model := strings.TrimSpace(p.model)
	if model == "" {
		return nil, invalidInput("openrouter: model is required")
	}

	reqBody := openRouterChatReq{
		Model: model,
		Messages: []openRouterMsg{{
			Role: "user",
			Content: []openRouterContent{
				{Type: "text", Text: captionPrompt},
				{Type: "image_url", ImageURL: &openRouterImageURL{URL: img.DataURL()}},
			},
		}},
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post("/chat/completions")
	if err := checkResponse(providerOpenRouter, resp, err); err != nil {
		return nil, err
	}

	var decoded openRouterChatResp
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, Malformed(providerOpenRouter, "invalid chat response", resp.Body())
	}
	// OpenRouter can report upstream failures inside a 200 body.
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, Rejected(providerOpenRouter, decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, Malformed(providerOpenRouter, "empty response", resp.Body())
	}
	return &TextResult{Text: strings.TrimSpace(decoded.Choices[0].Message.Content), Kind: KindCaption}, nil
}

var _ ImageReader = (*OpenRouterCaptioner)(nil)
