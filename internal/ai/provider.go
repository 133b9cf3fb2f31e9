package ai

import (
	"context"
	"encoding/base64"
	"strings"
)

// Image is the normalized input of an image->text capability. Adapters that
// only accept bytes reject an Image carrying just a URL.
type Image struct {
	Data     []byte
	MIMEType string
	URL      string
}

func (i Image) HasBytes() bool { return len(i.Data) > 0 }

func (i Image) Base64() string { return base64.StdEncoding.EncodeToString(i.Data) }

// DataURL returns the remote URL when set, otherwise the bytes inlined as a data URL.
func (i Image) DataURL() string {
	if i.URL != "" {
		return i.URL
	}
	return DataURL(i.MIMEType, i.Data)
}

// GenerateResult is the normalized synchronous text->image result.
type GenerateResult struct {
	// Data holds raw image bytes when the provider returns them inline.
	Data     []byte
	MIMEType string
	// URL is set instead of Data when the provider hosts the asset.
	URL         string
	Description string
}

// AssetURL returns the location to persist: the remote URL, or a data URL.
func (r *GenerateResult) AssetURL() string {
	if r.URL != "" {
		return r.URL
	}
	return DataURL(r.MIMEType, r.Data)
}

// Submission acknowledges an asynchronous request.
type Submission struct {
	ExternalID string
	Status     string
}

// ResultKind tells the caller whether text came from OCR or captioning.
type ResultKind string

const (
	KindText    ResultKind = "text"
	KindCaption ResultKind = "caption"
)

type TextResult struct {
	Text string
	Kind ResultKind
}

// ImageGenerator returns the finished artifact in the same call.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*GenerateResult, error)
}

// AsyncImageGenerator accepts work that completes out-of-band. Fetch reads the
// current state of a submission and is used to reconcile missed callbacks.
type AsyncImageGenerator interface {
	Submit(ctx context.Context, prompt string) (*Submission, error)
	Fetch(ctx context.Context, externalID string) (*Prediction, error)
}

// ImageReader extracts text or a caption from an image.
type ImageReader interface {
	Read(ctx context.Context, img Image) (*TextResult, error)
}

func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func requirePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return invalidInput("prompt is required")
	}
	return nil
}

func requireBytes(provider string, img Image) error {
	if !img.HasBytes() {
		return invalidInput(provider + " requires image bytes")
	}
	return nil
}

func requireImage(img Image) error {
	if !img.HasBytes() && strings.TrimSpace(img.URL) == "" {
		return invalidInput("image or imageUrl is required")
	}
	return nil
}
