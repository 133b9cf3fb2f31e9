package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	providerOllama = "ollama"

	captionPrompt = "Describe this image in one concise sentence."
)

// OllamaCaptioner captions images with a local vision model (LLaVA by default).
type OllamaCaptioner struct {
	client *resty.Client
	model  string
}

type ollamaMsg struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Error   string    `json:"error,omitempty"`
}

func NewOllamaCaptioner(baseURL, model string, timeout time.Duration) *OllamaCaptioner {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llava:latest"
	}
	return &OllamaCaptioner{
		client: newRESTClient(strings.TrimRight(baseURL, "/"), timeout),
		model:  model,
	}
}

func (p *OllamaCaptioner) Read(ctx context.Context, img Image) (*TextResult, error) {
	if err := requireBytes(p.model, img); err != nil {
		return nil, err
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ollamaChatReq{
			Model:  p.model,
			Stream: false,
			Messages: []ollamaMsg{{
				Role:    "user",
				Content: captionPrompt,
				Images:  []string{img.Base64()},
			}},
		}).
		Post("/api/chat")
	if err := checkResponse(providerOllama, resp, err); err != nil {
		return nil, err
	}

	var decoded ollamaChatResp
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, Malformed(providerOllama, "invalid chat response", resp.Body())
	}
	if decoded.Error != "" {
		return nil, Rejected(providerOllama, resp.StatusCode(), decoded.Error)
	}
	return &TextResult{Text: strings.TrimSpace(decoded.Message.Content), Kind: KindCaption}, nil
}

var _ ImageReader = (*OllamaCaptioner)(nil)
