package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplicate_SubmitSendsWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8-token", r.Header.Get("Authorization"))

		var body replicateCreateReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sdxl-version", body.Version)
		assert.Equal(t, "a red bicycle", body.Input["prompt"])
		assert.Equal(t, "https://app/webhooks/replicate", body.Webhook)
		assert.Equal(t, []string{"completed"}, body.WebhookEventsFilter)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"ext-123","status":"starting","output":null,"error":null}`)
	}))
	defer srv.Close()

	r := NewReplicate(ReplicateOptions{
		BaseURL:      srv.URL,
		Token:        "r8-token",
		ModelVersion: "sdxl-version",
		WebhookURL:   "https://app/webhooks/replicate",
	})
	sub, err := r.Submit(context.Background(), "a red bicycle")
	require.NoError(t, err)
	assert.Equal(t, "ext-123", sub.ExternalID)
	assert.Equal(t, PredictionStarting, sub.Status)
}

func TestReplicate_SubmitWithoutVersion(t *testing.T) {
	_, err := NewReplicate(ReplicateOptions{BaseURL: "http://127.0.0.1:1"}).Submit(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReplicate_SubmitMissingIDIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"starting"}`)
	}))
	defer srv.Close()

	_, err := NewReplicate(ReplicateOptions{BaseURL: srv.URL, ModelVersion: "v"}).Submit(context.Background(), "x")
	kind, _ := KindOf(err)
	assert.Equal(t, KindMalformed, kind)
}

func TestReplicate_FetchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predictions/ext-404", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Not found."}`)
	}))
	defer srv.Close()

	_, err := NewReplicate(ReplicateOptions{BaseURL: srv.URL}).Fetch(context.Background(), "ext-404")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindRejected, pe.Kind)
	assert.Equal(t, "Not found.", pe.Message)
}

func TestPrediction_AssetURL(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "list", body: `{"id":"a","status":"succeeded","output":["https://cdn/x.png","https://cdn/y.png"]}`, want: "https://cdn/x.png"},
		{name: "single", body: `{"id":"a","status":"succeeded","output":"https://cdn/z.png"}`, want: "https://cdn/z.png"},
		{name: "null", body: `{"id":"a","status":"succeeded","output":null}`, wantErr: true},
		{name: "empty list", body: `{"id":"a","status":"succeeded","output":[]}`, wantErr: true},
		{name: "object", body: `{"id":"a","status":"succeeded","output":{"url":"x"}}`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePrediction([]byte(tc.body))
			require.NoError(t, err)
			got, err := p.AssetURL()
			if tc.wantErr {
				kind, _ := KindOf(err)
				assert.Equal(t, KindMalformed, kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPrediction_FailureStates(t *testing.T) {
	p, err := ParsePrediction([]byte(`{"id":"a","status":"failed","error":"NSFW content detected"}`))
	require.NoError(t, err)
	assert.True(t, p.Terminal())
	assert.True(t, p.Failed())
	assert.Equal(t, "NSFW content detected", p.FailureMessage())

	p, err = ParsePrediction([]byte(`{"id":"a","status":"canceled"}`))
	require.NoError(t, err)
	assert.True(t, p.Failed())
	assert.Equal(t, "prediction canceled", p.FailureMessage())

	p, err = ParsePrediction([]byte(`{"id":"a","status":"processing"}`))
	require.NoError(t, err)
	assert.False(t, p.Terminal())
	assert.False(t, p.Failed())
}

func TestParsePrediction_Invalid(t *testing.T) {
	_, err := ParsePrediction([]byte(`not json`))
	kind, _ := KindOf(err)
	assert.Equal(t, KindMalformed, kind)

	_, err = ParsePrediction([]byte(`{"status":"succeeded"}`))
	kind, _ = KindOf(err)
	assert.Equal(t, KindMalformed, kind)
}

func TestWebhookVerifier(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret-key"))
	v, err := NewWebhookVerifier(secret)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }

	body := []byte(`{"id":"ext-123","status":"succeeded"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	h := http.Header{}
	h.Set("webhook-id", "msg_1")
	h.Set("webhook-timestamp", ts)
	h.Set("webhook-signature", "v1,bogus v1,"+v.Sign("msg_1", ts, body))
	assert.NoError(t, v.Verify(h, body))

	assert.ErrorIs(t, v.Verify(h, []byte(`{"id":"tampered"}`)), ErrInvalidSignature)

	stale := http.Header{}
	staleTS := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	stale.Set("webhook-id", "msg_1")
	stale.Set("webhook-timestamp", staleTS)
	stale.Set("webhook-signature", "v1,"+v.Sign("msg_1", staleTS, body))
	assert.ErrorIs(t, v.Verify(stale, body), ErrInvalidSignature)

	assert.ErrorIs(t, v.Verify(http.Header{}, body), ErrInvalidSignature)
}

func TestWebhookVerifier_DisabledWithoutSecret(t *testing.T) {
	v, err := NewWebhookVerifier("")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.NoError(t, v.Verify(http.Header{}, nil))
}
