package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

// Hugging Face hosted inference models used by the app.
const (
	ModelStableDiffusionXL = "stabilityai/stable-diffusion-xl-base-1.0"
	ModelBLIPCaptioning    = "Salesforce/blip-image-captioning-large"
	ModelTrOCRHandwritten  = "microsoft/trocr-base-handwritten"
	ModelDonutBase         = "naver-clova-ix/donut-base"

	providerHuggingFace = "huggingface"
)

type HuggingFaceOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func newHuggingFaceClient(opts HuggingFaceOptions) *resty.Client {
	base := opts.BaseURL
	if base == "" {
		base = "https://api-inference.huggingface.co"
	}
	return newRESTClient(strings.TrimRight(base, "/"), opts.Timeout).
		SetAuthToken(opts.Token)
}

// HFTextToImage calls a diffusion model that answers with raw image bytes.
type HFTextToImage struct {
	client *resty.Client
	model  string
}

func NewHFTextToImage(opts HuggingFaceOptions, model string) *HFTextToImage {
	if model == "" {
		model = ModelStableDiffusionXL
	}
	return &HFTextToImage{client: newHuggingFaceClient(opts), model: model}
}

func (h *HFTextToImage) Generate(ctx context.Context, prompt string) (*GenerateResult, error) {
	if err := requirePrompt(prompt); err != nil {
		return nil, err
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "image/png").
		SetBody(map[string]any{"inputs": prompt}).
		Post("/models/" + h.model)
	if err := checkResponse(providerHuggingFace, resp, err); err != nil {
		return nil, err
	}

	body := resp.Body()
	mt := mimetype.Detect(body)
	if len(body) == 0 || !strings.HasPrefix(mt.String(), "image/") {
		return nil, Malformed(providerHuggingFace, "expected image bytes, got "+mt.String(), body)
	}
	return &GenerateResult{Data: body, MIMEType: mt.String()}, nil
}

// HFImageToText calls an image-to-text model. BLIP and TrOCR take a JSON
// envelope with base64 image; Donut takes the raw bytes as the body.
type HFImageToText struct {
	client  *resty.Client
	model   string
	rawBody bool
	kind    ResultKind
}

func NewHFCaptioner(opts HuggingFaceOptions) *HFImageToText {
	return &HFImageToText{client: newHuggingFaceClient(opts), model: ModelBLIPCaptioning, kind: KindCaption}
}

func NewHFTrOCR(opts HuggingFaceOptions) *HFImageToText {
	return &HFImageToText{client: newHuggingFaceClient(opts), model: ModelTrOCRHandwritten, kind: KindText}
}

func NewHFDonut(opts HuggingFaceOptions) *HFImageToText {
	return &HFImageToText{client: newHuggingFaceClient(opts), model: ModelDonutBase, rawBody: true, kind: KindText}
}

func (h *HFImageToText) Read(ctx context.Context, img Image) (*TextResult, error) {
	if err := requireBytes(h.model, img); err != nil {
		return nil, err
	}

	req := h.client.R().SetContext(ctx)
	if h.rawBody {
		contentType := img.MIMEType
		if contentType == "" {
			contentType = "image/png"
		}
		req.SetHeader("Content-Type", contentType).SetBody(img.Data)
	} else {
		req.SetHeader("Content-Type", "application/json").
			SetBody(map[string]any{"inputs": map[string]string{"image": img.Base64()}})
	}

	resp, err := req.Post("/models/" + h.model)
	if err := checkResponse(providerHuggingFace, resp, err); err != nil {
		return nil, err
	}

	text, ok := generatedText(resp.Body())
	if !ok {
		return nil, Malformed(providerHuggingFace, "missing generated_text", resp.Body())
	}
	return &TextResult{Text: strings.TrimSpace(text), Kind: h.kind}, nil
}

type hfGenerated struct {
	GeneratedText *string `json:"generated_text"`
}

// generatedText accepts both [{"generated_text":...}] and {"generated_text":...}.
func generatedText(body []byte) (string, bool) {
	var list []hfGenerated
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 || list[0].GeneratedText == nil {
			return "", false
		}
		return *list[0].GeneratedText, true
	}
	var single hfGenerated
	if err := json.Unmarshal(body, &single); err == nil && single.GeneratedText != nil {
		return *single.GeneratedText, true
	}
	return "", false
}

var (
	_ ImageGenerator = (*HFTextToImage)(nil)
	_ ImageReader    = (*HFImageToText)(nil)
)
