package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/genimage/internal/ai"
	"github.com/suPer8Hu/genimage/internal/config"
)

// Provider names as they appear in /generate/:model and /extract/:model.
const (
	ModelGemini          = "gemini"
	ModelStableDiffusion = "stable-diffusion"
	ModelReplicate       = "replicate"
	ModelGoogleVision    = "google-vision"
	ModelBLIP            = "blip"
	ModelTrOCR           = "trocr"
	ModelDonut           = "donut"
	ModelLLaVA           = "llava"
	ModelOpenRouter      = "openrouter"
)

// Providers holds the three capability registries shared by server and worker.
type Providers struct {
	Generators *ai.Registry[ai.ImageGenerator]
	Async      *ai.Registry[ai.AsyncImageGenerator]
	Readers    *ai.Registry[ai.ImageReader]
}

// NewProviders registers every known model. A model whose credentials are
// missing stays routable and answers ErrNotConfigured.
func NewProviders(cfg config.Config, log zerolog.Logger) *Providers {
	p := &Providers{
		Generators: ai.NewRegistry[ai.ImageGenerator](),
		Async:      ai.NewRegistry[ai.AsyncImageGenerator](),
		Readers:    ai.NewRegistry[ai.ImageReader](),
	}

	if cfg.GoogleAIAPIKey != "" {
		opts := ai.GeminiOptions{
			APIKey:  cfg.GoogleAIAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Timeout: cfg.ProviderTimeout,
		}
		// the genai client is built on first use
		var (
			mu     sync.Mutex
			gemini *ai.GeminiGenerator
		)
		p.Generators.Register(ModelGemini, func(ctx context.Context) (ai.ImageGenerator, error) {
			mu.Lock()
			defer mu.Unlock()
			if gemini != nil {
				return gemini, nil
			}
			g, err := ai.NewGeminiGenerator(ctx, opts)
			if err != nil {
				return nil, err
			}
			gemini = g
			return g, nil
		})
	} else {
		p.Generators.RegisterUnconfigured(ModelGemini)
	}

	hf := ai.HuggingFaceOptions{
		BaseURL: cfg.HuggingFaceBaseURL,
		Token:   cfg.HuggingFaceToken,
		Timeout: cfg.ProviderTimeout,
	}
	if cfg.HuggingFaceToken != "" {
		p.Generators.RegisterInstance(ModelStableDiffusion, ai.NewHFTextToImage(hf, ""))
		p.Readers.RegisterInstance(ModelBLIP, ai.NewHFCaptioner(hf))
		p.Readers.RegisterInstance(ModelTrOCR, ai.NewHFTrOCR(hf))
		p.Readers.RegisterInstance(ModelDonut, ai.NewHFDonut(hf))
	} else {
		p.Generators.RegisterUnconfigured(ModelStableDiffusion)
		for _, name := range []string{ModelBLIP, ModelTrOCR, ModelDonut} {
			p.Readers.RegisterUnconfigured(name)
		}
	}

	if cfg.ReplicateToken != "" && cfg.ReplicateModelVersion != "" {
		p.Async.RegisterInstance(ModelReplicate, ai.NewReplicate(ai.ReplicateOptions{
			BaseURL:      cfg.ReplicateBaseURL,
			Token:        cfg.ReplicateToken,
			ModelVersion: cfg.ReplicateModelVersion,
			WebhookURL:   cfg.ReplicateWebhookURL,
			Timeout:      cfg.ProviderTimeout,
		}))
	} else {
		p.Async.RegisterUnconfigured(ModelReplicate)
	}

	if cfg.GoogleVisionAPIKey != "" {
		p.Readers.RegisterInstance(ModelGoogleVision, ai.NewGoogleVision(ai.VisionOptions{
			BaseURL: cfg.GoogleVisionBaseURL,
			APIKey:  cfg.GoogleVisionAPIKey,
			Timeout: cfg.ProviderTimeout,
		}))
	} else {
		p.Readers.RegisterUnconfigured(ModelGoogleVision)
	}

	// local model server, no credentials
	p.Readers.RegisterInstance(ModelLLaVA, ai.NewOllamaCaptioner(cfg.OllamaBaseURL, cfg.OllamaVisionModel, cfg.ProviderTimeout))

	if cfg.OpenRouterAPIKey != "" {
		p.Readers.RegisterInstance(ModelOpenRouter, ai.NewOpenRouterCaptioner(ai.OpenRouterOptions{
			BaseURL: cfg.OpenRouterBaseURL,
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.OpenRouterVisionModel,
			SiteURL: cfg.OpenRouterSiteURL,
			AppName: cfg.OpenRouterAppName,
			Timeout: cfg.ProviderTimeout,
		}))
	} else {
		p.Readers.RegisterUnconfigured(ModelOpenRouter)
	}

	log.Info().
		Strs("generators", p.Generators.Names()).
		Strs("async", p.Async.Names()).
		Strs("readers", p.Readers.Names()).
		Msg("providers registered")
	return p
}
