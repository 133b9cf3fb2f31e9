package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/genimage/internal/ai"
	"github.com/suPer8Hu/genimage/internal/auth"
	"github.com/suPer8Hu/genimage/internal/chat"
	"github.com/suPer8Hu/genimage/internal/db"
	"github.com/suPer8Hu/genimage/internal/extract"
	"github.com/suPer8Hu/genimage/internal/httpapi/handlers"
)

const testSecret = "router-test-secret"

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type stubGenerator struct {
	err error
}

func (g stubGenerator) Generate(ctx context.Context, prompt string) (*ai.GenerateResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &ai.GenerateResult{Data: []byte{0, 0, 0}, MIMEType: "image/png", Description: "A red bicycle"}, nil
}

type stubAsync struct{}

func (stubAsync) Submit(ctx context.Context, prompt string) (*ai.Submission, error) {
	return &ai.Submission{ExternalID: "ext-123", Status: ai.PredictionStarting}, nil
}

func (stubAsync) Fetch(ctx context.Context, externalID string) (*ai.Prediction, error) {
	return &ai.Prediction{ID: externalID, Status: ai.PredictionProcessing}, nil
}

type stubReader struct{}

func (stubReader) Read(ctx context.Context, img ai.Image) (*ai.TextResult, error) {
	return &ai.TextResult{Text: "a cat on a sofa", Kind: ai.KindCaption}, nil
}

type testEnv struct {
	router   *gin.Engine
	verifier *ai.WebhookVerifier
	gdb      *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	gens := ai.NewRegistry[ai.ImageGenerator]()
	gens.RegisterInstance("gemini", stubGenerator{})
	gens.RegisterInstance("broken", stubGenerator{err: ai.Rejected("gemini", 400, "prompt blocked by safety filters")})
	asyncGens := ai.NewRegistry[ai.AsyncImageGenerator]()
	asyncGens.RegisterInstance("replicate", stubAsync{})
	readers := ai.NewRegistry[ai.ImageReader]()
	readers.RegisterInstance("blip", stubReader{})
	readers.RegisterInstance("trocr", ai.NewHFTrOCR(ai.HuggingFaceOptions{BaseURL: "http://127.0.0.1:1"}))

	svc := chat.NewService(chat.NewRepo(gdb), gens, asyncGens, chat.Options{Logger: zerolog.Nop()})

	whVerifier, err := ai.NewWebhookVerifier("whsec_" + base64.StdEncoding.EncodeToString([]byte("webhook-key")))
	require.NoError(t, err)

	h := handlers.NewHandler(handlers.Deps{
		Chats:              svc,
		Extract:            extract.NewService(readers, zerolog.Nop()),
		Webhooks:           whVerifier,
		MaxImageBytes:      1 << 20,
		StreamPollInterval: 20 * time.Millisecond,
		StreamMaxWait:      100 * time.Millisecond,
		HeartbeatInterval:  time.Hour,
	})

	verifier, err := auth.NewVerifier(context.Background(), auth.Options{Secret: testSecret}, zerolog.Nop())
	require.NoError(t, err)

	return &testEnv{router: NewRouter(h, verifier, zerolog.Nop()), verifier: whVerifier, gdb: gdb}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := auth.SignJWT(subject, subject+"@example.com", testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, subject string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, subject))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func (e *testEnv) signedWebhook(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/replicate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("webhook-id", "msg_1")
	req.Header.Set("webhook-timestamp", ts)
	req.Header.Set("webhook-signature", "v1,"+e.verifier.Sign("msg_1", ts, []byte(body)))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/ping", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	build := func(check func(context.Context) error) *gin.Engine {
		h := handlers.NewHandler(handlers.Deps{
			Health: []handlers.HealthCheck{{Name: "database", Check: check}},
		})
		v, err := auth.NewVerifier(context.Background(), auth.Options{Secret: testSecret}, zerolog.Nop())
		require.NoError(t, err)
		return NewRouter(h, v, zerolog.Nop())
	}

	w := httptest.NewRecorder()
	build(func(context.Context) error { return nil }).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"database":"ok"}`, string(decode(t, w).Data))

	w = httptest.NewRecorder()
	build(func(context.Context) error { return fmt.Errorf("connection refused") }).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	env := decode(t, w)
	assert.Equal(t, 50300, env.Code)
	assert.JSONEq(t, `{"database":"connection refused"}`, string(env.Data))
}

func TestGenerate_RequiresToken(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/generate/gemini", "", []byte(`{"prompt":"x"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40101, decode(t, w).Code)
}

func TestGenerate_UnknownUserIsNotFound(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/generate/gemini", "user_ghost", []byte(`{"prompt":"x"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40401, decode(t, w).Code)

	w = e.do(t, http.MethodGet, "/chats", "user_ghost", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerateSyncAndHistory(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/users/me", "user_abc", nil, "").Code)

	w := e.do(t, http.MethodPost, "/generate/gemini", "user_abc", []byte(`{"prompt":"a red bicycle"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var gen struct {
		ChatID      string `json:"chatId"`
		Status      string `json:"status"`
		AssetURL    string `json:"assetUrl"`
		Description string `json:"description"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &gen))
	assert.Equal(t, "completed", gen.Status)
	assert.Equal(t, "data:image/png;base64,AAAA", gen.AssetURL)
	assert.Equal(t, "A red bicycle", gen.Description)

	w = e.do(t, http.MethodGet, "/chats?page=1", "user_abc", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var hist chat.HistoryPage
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &hist))
	require.Len(t, hist.Chats, 1)
	assert.Equal(t, gen.ChatID, hist.Chats[0].ID)
	assert.Equal(t, chat.Pagination{Total: 1, Page: 1, TotalPages: 1, HasMore: false}, hist.Pagination)

	w = e.do(t, http.MethodGet, "/chats?page=zero", "user_abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerate_ErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/users/me", "user_abc", nil, "").Code)

	w := e.do(t, http.MethodPost, "/generate/broken", "user_abc", []byte(`{"prompt":"x"}`), "application/json")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	env := decode(t, w)
	assert.Equal(t, 50201, env.Code)
	assert.Contains(t, env.Message, "prompt blocked by safety filters")

	w = e.do(t, http.MethodPost, "/generate/gemini", "user_abc", []byte(`{"prompt":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/generate/midjourney", "user_abc", []byte(`{"prompt":"x"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40403, decode(t, w).Code)

	var n int64
	require.NoError(t, e.gdb.Model(&chat.Chat{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestAsyncGenerateWebhookAndStatus(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/users/me", "user_abc", nil, "").Code)

	w := e.do(t, http.MethodPost, "/generate/replicate/async", "user_abc", []byte(`{"prompt":"a red bicycle"}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var job struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &job))
	assert.Equal(t, "pending", job.Status)

	w = e.do(t, http.MethodGet, "/chats/"+job.JobID, "user_abc", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "assetUrl")

	w = e.signedWebhook(t, `{"id":"ext-123","status":"succeeded","output":["https://cdn/x.png"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	// duplicate delivery is acknowledged without changing the record
	w = e.signedWebhook(t, `{"id":"ext-123","status":"succeeded","output":["https://cdn/other.png"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/chats/"+job.JobID, "user_abc", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		AssetURL string `json:"assetUrl"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &status))
	assert.Equal(t, job.JobID, status.ID)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, "https://cdn/x.png", status.AssetURL)

	w = e.do(t, http.MethodGet, "/chats/"+job.JobID, "user_other", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook_SignatureAndCorrelation(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/replicate", strings.NewReader(`{"id":"ext-1","status":"succeeded"}`))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.signedWebhook(t, `{"id":"ext-missing","status":"succeeded","output":"https://cdn/x.png"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"chat not found"}`, w.Body.String())

	w = e.signedWebhook(t, `{"id":"ext-missing","status":"processing"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = e.signedWebhook(t, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamChatStatus(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/users/me", "user_abc", nil, "").Code)

	w := e.do(t, http.MethodPost, "/generate/replicate/async", "user_abc", []byte(`{"prompt":"x"}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)
	var job struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &job))

	// still pending: first status, then timeout once the wait budget is spent
	w = e.do(t, http.MethodGet, "/chats/"+job.JobID+"/events", "user_abc", nil, "")
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	out := w.Body.String()
	assert.Contains(t, out, "event: status\n")
	assert.Contains(t, out, "event: timeout\n")

	e.signedWebhook(t, `{"id":"ext-123","status":"succeeded","output":["https://cdn/x.png"]}`)

	w = e.do(t, http.MethodGet, "/chats/"+job.JobID+"/events", "user_abc", nil, "")
	out = w.Body.String()
	assert.Contains(t, out, `"status":"completed"`)
	assert.NotContains(t, out, "event: timeout")
}

func multipartImage(t *testing.T, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestExtract(t *testing.T) {
	e := newTestEnv(t)

	body, ct := multipartImage(t, pngBytes)
	w := e.do(t, http.MethodPost, "/extract/blip", "user_abc", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res map[string]string
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.Equal(t, "a cat on a sofa", res["caption"])

	body, ct = multipartImage(t, []byte("plain text, not an image"))
	w = e.do(t, http.MethodPost, "/extract/blip", "user_abc", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// byte-only model refuses a URL-only request
	w = e.do(t, http.MethodPost, "/extract/trocr", "user_abc", []byte(`{"imageUrl":"https://cdn/note.jpg"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big, ct := multipartImage(t, append(append([]byte{}, pngBytes...), make([]byte, 1<<20)...))
	w = e.do(t, http.MethodPost, "/extract/blip", "user_abc", big, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
