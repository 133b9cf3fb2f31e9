package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const providerGoogleVision = "google-vision"

type VisionOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GoogleVision runs TEXT_DETECTION through the Cloud Vision REST API.
type GoogleVision struct {
	client *resty.Client
	apiKey string
}

func NewGoogleVision(opts VisionOptions) *GoogleVision {
	base := opts.BaseURL
	if base == "" {
		base = "https://vision.googleapis.com"
	}
	return &GoogleVision{
		client: newRESTClient(strings.TrimRight(base, "/"), opts.Timeout),
		apiKey: opts.APIKey,
	}
}

type visionImage struct {
	Content string             `json:"content,omitempty"`
	Source  *visionImageSource `json:"source,omitempty"`
}

type visionImageSource struct {
	ImageURI string `json:"imageUri"`
}

type visionFeature struct {
	Type string `json:"type"`
}

type visionRequest struct {
	Image    visionImage     `json:"image"`
	Features []visionFeature `json:"features"`
}

type visionResponse struct {
	Responses []struct {
		TextAnnotations []struct {
			Description string `json:"description"`
		} `json:"textAnnotations"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"responses"`
}

func (g *GoogleVision) Read(ctx context.Context, img Image) (*TextResult, error) {
	if err := requireImage(img); err != nil {
		return nil, err
	}

	vi := visionImage{}
	if img.HasBytes() {
		vi.Content = img.Base64()
	} else {
		vi.Source = &visionImageSource{ImageURI: img.URL}
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("key", g.apiKey).
		SetBody(map[string]any{
			"requests": []visionRequest{{
				Image:    vi,
				Features: []visionFeature{{Type: "TEXT_DETECTION"}},
			}},
		}).
		Post("/v1/images:annotate")
	if err := checkResponse(providerGoogleVision, resp, err); err != nil {
		return nil, err
	}

	var decoded visionResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, Malformed(providerGoogleVision, "invalid annotate response", resp.Body())
	}
	if len(decoded.Responses) == 0 {
		return nil, Malformed(providerGoogleVision, "empty annotate response", resp.Body())
	}
	first := decoded.Responses[0]
	if first.Error != nil && first.Error.Message != "" {
		return nil, Rejected(providerGoogleVision, first.Error.Code, first.Error.Message)
	}
	// The first annotation holds the full detected text.
	if len(first.TextAnnotations) == 0 {
		return &TextResult{Kind: KindText}, nil
	}
	return &TextResult{Text: first.TextAnnotations[0].Description, Kind: KindText}, nil
}

var _ ImageReader = (*GoogleVision)(nil)
