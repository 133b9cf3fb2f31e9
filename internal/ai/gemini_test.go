package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	resp      *genai.GenerateContentResponse
	err       error
	gotModel  string
	gotConfig *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotConfig = config
	return f.resp, f.err
}

func geminiResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestGemini_ReturnsImageAndDescription(t *testing.T) {
	fake := &fakeModels{resp: geminiResponse(
		&genai.Part{Text: "A red bicycle"},
		&genai.Part{InlineData: &genai.Blob{Data: []byte{0, 0, 0}, MIMEType: "image/png"}},
	)}
	g := newGeminiGenerator(fake, "")

	res, err := g.Generate(context.Background(), "a red bicycle")
	require.NoError(t, err)
	assert.Equal(t, DefaultGeminiImageModel, fake.gotModel)
	assert.Equal(t, []string{"TEXT", "IMAGE"}, fake.gotConfig.ResponseModalities)
	assert.Equal(t, "A red bicycle", res.Description)
	assert.Equal(t, "data:image/png;base64,AAAA", res.AssetURL())
}

func TestGemini_NoImageIsMalformed(t *testing.T) {
	g := newGeminiGenerator(&fakeModels{resp: geminiResponse(&genai.Part{Text: "sorry"})}, "m")

	_, err := g.Generate(context.Background(), "x")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindMalformed, kind)
}

func TestGemini_EmptyCandidatesIsMalformed(t *testing.T) {
	g := newGeminiGenerator(&fakeModels{resp: &genai.GenerateContentResponse{}}, "m")

	_, err := g.Generate(context.Background(), "x")
	kind, _ := KindOf(err)
	assert.Equal(t, KindMalformed, kind)
}

func TestGemini_ErrorKinds(t *testing.T) {
	g := newGeminiGenerator(&fakeModels{err: genai.APIError{Code: 400, Message: "blocked", Status: "INVALID_ARGUMENT"}}, "m")
	_, err := g.Generate(context.Background(), "x")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindRejected, pe.Kind)
	assert.Equal(t, 400, pe.StatusCode)
	assert.Equal(t, "blocked", pe.Message)

	g = newGeminiGenerator(&fakeModels{err: errors.New("dial tcp: connection refused")}, "m")
	_, err = g.Generate(context.Background(), "x")
	kind, _ := KindOf(err)
	assert.Equal(t, KindUnreachable, kind)
}

func TestGemini_EmptyPrompt(t *testing.T) {
	fake := &fakeModels{}
	g := newGeminiGenerator(fake, "m")

	_, err := g.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, fake.gotModel, "provider must not be called")
}
