package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/genimage/internal/ai"
	"github.com/suPer8Hu/genimage/internal/metrics"
)

const NoTextMessage = "No text detected in the image"

// Result is what a reader produced. Kind tells the HTTP layer whether to
// answer with {text} or {caption}.
type Result struct {
	Model   string
	Kind    ai.ResultKind
	Text    string
	Message string
}

// Service routes image->text requests to the reader named by the caller.
// Nothing is persisted.
type Service struct {
	readers *ai.Registry[ai.ImageReader]
	log     zerolog.Logger
}

func NewService(readers *ai.Registry[ai.ImageReader], log zerolog.Logger) *Service {
	return &Service{readers: readers, log: log}
}

func (s *Service) Models() []string { return s.readers.Names() }

func (s *Service) Extract(ctx context.Context, model string, img ai.Image) (*Result, error) {
	img, err := normalizeImage(img)
	if err != nil {
		return nil, err
	}

	reader, err := s.readers.Get(ctx, model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := reader.Read(ctx, img)
	metrics.RecordProviderCall(model, ai.Outcome(err), time.Since(start).Seconds())
	if err != nil {
		s.log.Debug().Err(err).Str("model", model).Msg("image read failed")
		return nil, err
	}

	out := &Result{Model: model, Kind: res.Kind, Text: strings.TrimSpace(res.Text)}
	if out.Kind == "" {
		out.Kind = ai.KindText
	}
	if out.Text == "" {
		out.Message = NoTextMessage
	}
	return out, nil
}

// normalizeImage checks that uploaded bytes really are an image and that a
// URL is absolute http(s).
func normalizeImage(img ai.Image) (ai.Image, error) {
	if img.HasBytes() {
		mt := mimetype.Detect(img.Data)
		if !strings.HasPrefix(mt.String(), "image/") {
			return img, fmt.Errorf("%w: file must be an image, got %s", ai.ErrInvalidInput, mt.String())
		}
		img.MIMEType = mt.String()
		return img, nil
	}

	raw := strings.TrimSpace(img.URL)
	if raw == "" {
		return img, fmt.Errorf("%w: image or imageUrl is required", ai.ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return img, fmt.Errorf("%w: imageUrl must be an absolute http(s) url", ai.ErrInvalidInput)
	}
	img.URL = raw
	return img, nil
}
