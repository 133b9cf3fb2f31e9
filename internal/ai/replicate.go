package ai

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const providerReplicate = "replicate"

// Prediction statuses reported by Replicate.
const (
	PredictionStarting   = "starting"
	PredictionProcessing = "processing"
	PredictionSucceeded  = "succeeded"
	PredictionFailed     = "failed"
	PredictionCanceled   = "canceled"
)

// Prediction is the normalized state of an asynchronous generation, whether
// read from a webhook body or fetched from the API.
type Prediction struct {
	ID     string
	Status string
	Output json.RawMessage
	Error  string
}

func (p *Prediction) Terminal() bool {
	switch p.Status {
	case PredictionSucceeded, PredictionFailed, PredictionCanceled:
		return true
	}
	return false
}

// Failed reports a terminal prediction that produced no usable result.
func (p *Prediction) Failed() bool {
	if p.Status == PredictionFailed || p.Status == PredictionCanceled {
		return true
	}
	return p.Status == PredictionSucceeded && p.Error != ""
}

// FailureMessage is the message stored on a failed record.
func (p *Prediction) FailureMessage() string {
	if p.Error != "" {
		return p.Error
	}
	if p.Status == PredictionCanceled {
		return "prediction canceled"
	}
	return "prediction failed"
}

// AssetURL extracts the output location. Output may be a single URL or a list
// of URLs, in which case the first is used.
func (p *Prediction) AssetURL() (string, error) {
	raw := p.Output
	if len(raw) == 0 || string(raw) == "null" {
		return "", Malformed(providerReplicate, "prediction has no output", nil)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return "", Malformed(providerReplicate, "prediction output is empty", raw)
		}
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 || list[0] == "" {
			return "", Malformed(providerReplicate, "prediction output is empty", raw)
		}
		return list[0], nil
	}
	return "", Malformed(providerReplicate, "unexpected prediction output", raw)
}

type predictionWire struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// ParsePrediction decodes a prediction body (API response or webhook payload).
func ParsePrediction(body []byte) (*Prediction, error) {
	var w predictionWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, Malformed(providerReplicate, "invalid prediction json", body)
	}
	if strings.TrimSpace(w.ID) == "" {
		return nil, Malformed(providerReplicate, "prediction id is missing", body)
	}
	return &Prediction{
		ID:     w.ID,
		Status: strings.ToLower(strings.TrimSpace(w.Status)),
		Output: w.Output,
		Error:  rawErrorText(w.Error),
	}, nil
}

type ReplicateOptions struct {
	BaseURL      string
	Token        string
	ModelVersion string
	WebhookURL   string
	Timeout      time.Duration
}

// Replicate submits predictions that complete out-of-band and call back the
// configured webhook when they reach a terminal state.
type Replicate struct {
	client     *resty.Client
	version    string
	webhookURL string
}

func NewReplicate(opts ReplicateOptions) *Replicate {
	base := opts.BaseURL
	if base == "" {
		base = "https://api.replicate.com"
	}
	return &Replicate{
		client:     newRESTClient(strings.TrimRight(base, "/"), opts.Timeout).SetAuthToken(opts.Token),
		version:    opts.ModelVersion,
		webhookURL: opts.WebhookURL,
	}
}

type replicateCreateReq struct {
	Version             string            `json:"version"`
	Input               map[string]string `json:"input"`
	Webhook             string            `json:"webhook,omitempty"`
	WebhookEventsFilter []string          `json:"webhook_events_filter,omitempty"`
}

func (r *Replicate) Submit(ctx context.Context, prompt string) (*Submission, error) {
	if err := requirePrompt(prompt); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.version) == "" {
		return nil, fmt.Errorf("%w: replicate model version", ErrNotConfigured)
	}

	body := replicateCreateReq{
		Version: r.version,
		Input:   map[string]string{"prompt": prompt},
	}
	if r.webhookURL != "" {
		body.Webhook = r.webhookURL
		body.WebhookEventsFilter = []string{"completed"}
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/v1/predictions")
	if err := checkResponse(providerReplicate, resp, err); err != nil {
		return nil, err
	}

	p, err := ParsePrediction(resp.Body())
	if err != nil {
		return nil, err
	}
	return &Submission{ExternalID: p.ID, Status: p.Status}, nil
}

func (r *Replicate) Fetch(ctx context.Context, externalID string) (*Prediction, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, invalidInput("prediction id is required")
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetPathParam("id", externalID).
		Get("/v1/predictions/{id}")
	if err := checkResponse(providerReplicate, resp, err); err != nil {
		return nil, err
	}
	return ParsePrediction(resp.Body())
}

var _ AsyncImageGenerator = (*Replicate)(nil)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookVerifier checks Replicate's signed webhook headers
// (webhook-id, webhook-timestamp, webhook-signature).
type WebhookVerifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier returns nil when secret is empty: verification disabled.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return &WebhookVerifier{key: key, tolerance: 5 * time.Minute, now: time.Now}, nil
}

func (v *WebhookVerifier) Verify(header http.Header, body []byte) error {
	if v == nil {
		return nil
	}
	id := header.Get("webhook-id")
	ts := header.Get("webhook-timestamp")
	sigs := header.Get("webhook-signature")
	if id == "" || ts == "" || sigs == "" {
		return ErrInvalidSignature
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	sent := time.Unix(sec, 0)
	if d := v.now().Sub(sent); d > v.tolerance || d < -v.tolerance {
		return ErrInvalidSignature
	}

	expected := v.Sign(id, ts, body)
	for _, candidate := range strings.Fields(sigs) {
		_, sig, ok := strings.Cut(candidate, ",")
		if !ok {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign computes the base64 HMAC-SHA256 over "id.timestamp.body".
func (v *WebhookVerifier) Sign(id, ts string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
