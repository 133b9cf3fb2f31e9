// Package client is a Go client for the GenImage HTTP API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrStillProcessing is returned by WaitForChat when the poll budget runs
// out while the chat is still pending.
var ErrStillProcessing = errors.New("generation still processing")

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// APIError is a non-zero envelope code.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("genimage: %d %s (http %d)", e.Code, e.Message, e.HTTPStatus)
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type Generation struct {
	ChatID      string `json:"chatId"`
	Status      string `json:"status"`
	AssetURL    string `json:"assetUrl"`
	Description string `json:"description,omitempty"`
}

type Job struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type ChatStatus struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	AssetURL string `json:"assetUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *ChatStatus) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

type Chat struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model"`
	AssetURL    string    `json:"assetUrl,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

type History struct {
	Chats      []Chat     `json:"chats"`
	Pagination Pagination `json:"pagination"`
}

type Client struct {
	http *resty.Client
}

// New returns a client for baseURL authenticating with the bearer token.
func New(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "genimage-go/1.0").
		SetTimeout(2 * time.Minute)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// Generate runs a synchronous generation. idempotencyKey may be empty.
func (c *Client) Generate(ctx context.Context, model, prompt, idempotencyKey string) (*Generation, error) {
	var out Generation
	err := do(c.request(ctx, idempotencyKey).SetBody(map[string]string{"prompt": prompt}), http.MethodPost, "/generate/"+model, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateAsync submits a generation that completes out-of-band.
func (c *Client) GenerateAsync(ctx context.Context, model, prompt, idempotencyKey string) (*Job, error) {
	var out Job
	err := do(c.request(ctx, idempotencyKey).SetBody(map[string]string{"prompt": prompt}), http.MethodPost, "/generate/"+model+"/async", &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetChat(ctx context.Context, id string) (*ChatStatus, error) {
	var out ChatStatus
	if err := do(c.request(ctx, ""), http.MethodGet, "/chats/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListChats(ctx context.Context, page int) (*History, error) {
	if page < 1 {
		page = 1
	}
	var out History
	req := c.request(ctx, "").SetQueryParam("page", strconv.Itoa(page))
	if err := do(req, http.MethodGet, "/chats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitOptions bounds WaitForChat. Zero fields take the defaults.
type WaitOptions struct {
	MaxPolls    int
	Interval    time.Duration
	Backoff     float64
	MaxInterval time.Duration
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.MaxPolls <= 0 {
		o.MaxPolls = 60
	}
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Backoff < 1 {
		o.Backoff = 1.5
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 10 * time.Second
	}
	return o
}

// WaitForChat polls the chat until it is completed or failed. When the poll
// budget is spent it returns the last status with ErrStillProcessing.
func (c *Client) WaitForChat(ctx context.Context, id string, opts WaitOptions) (*ChatStatus, error) {
	opts = opts.withDefaults()
	interval := opts.Interval

	var last *ChatStatus
	for i := 0; i < opts.MaxPolls; i++ {
		st, err := c.GetChat(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Terminal() {
			return st, nil
		}
		last = st
		if i == opts.MaxPolls-1 {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
		interval = time.Duration(float64(interval) * opts.Backoff)
		if interval > opts.MaxInterval {
			interval = opts.MaxInterval
		}
	}
	return last, ErrStillProcessing
}

func (c *Client) request(ctx context.Context, idempotencyKey string) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if idempotencyKey != "" {
		req.SetHeader("Idempotency-Key", idempotencyKey)
	}
	return req
}

func do[T any](req *resty.Request, method, path string, out *T) error {
	var env envelope[T]
	resp, err := req.SetResult(&env).SetError(&env).Execute(method, path)
	if err != nil {
		return fmt.Errorf("genimage %s %s: %w", method, path, err)
	}
	if resp.IsError() || env.Code != 0 {
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &APIError{HTTPStatus: resp.StatusCode(), Code: env.Code, Message: msg}
	}
	*out = env.Data
	return nil
}
