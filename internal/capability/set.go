package capability

import (
	"context"
	"fmt"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/reliability"
)

// Set bundles the three providers with their guards. All calls made
// through a Set share the per-capability policy.
type Set struct {
	Text     TextGenerator
	Image    ImageGenerator
	Audio    AudioGenerator
	Features Features

	TextGuard  *Guard
	ImageGuard *Guard
	AudioGuard *Guard
}

// WordBlock calls the text capability. Text is never feature-flagged off.
func (s *Set) WordBlock(ctx context.Context, req MnemonicRequest) (artifact.WordBlock, error) {
	return Call(ctx, s.TextGuard, true, func(ctx context.Context) (artifact.WordBlock, error) {
		return s.Text.GenerateWordBlock(ctx, req)
	})
}

func (s *Set) Complete(ctx context.Context, system, prompt string) (string, error) {
	return Call(ctx, s.TextGuard, true, func(ctx context.Context) (string, error) {
		return s.Text.Complete(ctx, system, prompt)
	})
}

func (s *Set) GenerateImage(ctx context.Context, enabled bool, req ImageRequest) (ImageResult, error) {
	return Call(ctx, s.ImageGuard, enabled, func(ctx context.Context) (ImageResult, error) {
		return s.Image.GenerateImage(ctx, req)
	})
}

func (s *Set) Synthesize(ctx context.Context, enabled bool, req AudioRequest) (AudioResult, error) {
	return Call(ctx, s.AudioGuard, enabled, func(ctx context.Context) (AudioResult, error) {
		return s.Audio.Synthesize(ctx, req)
	})
}

// NewSet builds providers from configuration. Mode auto selects HTTP when
// a base URL is configured and the mock provider otherwise.
func NewSet(cfg config.Config, metrics *observability.Metrics) (*Set, error) {
	s := &Set{
		Features: Features{
			Image:         cfg.Features.Image,
			Audio:         cfg.Features.Audio,
			PremiumVoices: cfg.Features.PremiumVoices,
		},
	}

	mode, err := resolveMode("text", cfg.Text)
	if err != nil {
		return nil, err
	}
	if mode == "http" {
		s.Text = NewHTTPText(httpConfig(cfg.Text))
	} else {
		s.Text = NewMockText()
	}
	s.TextGuard = guardFor(Text, mode, cfg.Text, metrics)

	mode, err = resolveMode("image", cfg.Image)
	if err != nil {
		return nil, err
	}
	if mode == "http" {
		s.Image = NewHTTPImage(httpConfig(cfg.Image))
	} else {
		s.Image = NewMockImage()
	}
	s.ImageGuard = guardFor(Image, mode, cfg.Image, metrics)

	mode, err = resolveMode("audio", cfg.Audio)
	if err != nil {
		return nil, err
	}
	if mode == "http" {
		s.Audio = NewHTTPAudio(httpConfig(cfg.Audio))
	} else {
		s.Audio = NewMockAudio()
	}
	s.AudioGuard = guardFor(Audio, mode, cfg.Audio, metrics)

	return s, nil
}

// NewStaticSet wraps already-built providers, mainly for tests and the CLI.
func NewStaticSet(text TextGenerator, image ImageGenerator, audio AudioGenerator, features Features, policy reliability.Policy) *Set {
	return &Set{
		Text:       text,
		Image:      image,
		Audio:      audio,
		Features:   features,
		TextGuard:  NewGuard(Text, "static", policy, 0, 0, nil),
		ImageGuard: NewGuard(Image, "static", policy, 0, 0, nil),
		AudioGuard: NewGuard(Audio, "static", policy, 0, 0, nil),
	}
}

func resolveMode(name string, pc config.ProviderConfig) (string, error) {
	switch pc.Mode {
	case "http":
		if pc.BaseURL == "" {
			return "", fmt.Errorf("%s provider: http mode requires a base url", name)
		}
		return "http", nil
	case "mock":
		return "mock", nil
	case "", "auto":
		if pc.BaseURL != "" {
			return "http", nil
		}
		return "mock", nil
	default:
		return "", fmt.Errorf("%s provider: unknown mode %q", name, pc.Mode)
	}
}

func httpConfig(pc config.ProviderConfig) HTTPConfig {
	return HTTPConfig{
		BaseURL:   pc.BaseURL,
		APIKey:    pc.APIKey,
		Model:     pc.Model,
		Voice:     pc.Voice,
		OutputDir: pc.OutputDir,
		Timeout:   pc.Timeout,
	}
}

func guardFor(name Name, provider string, pc config.ProviderConfig, metrics *observability.Metrics) *Guard {
	return NewGuard(name, provider, reliability.Policy{
		Timeout:     pc.Timeout,
		MaxRetries:  pc.MaxRetries,
		BaseBackoff: pc.BackoffBase,
		MaxBackoff:  pc.BackoffMax,
	}, pc.RPS, pc.Burst, metrics)
}
