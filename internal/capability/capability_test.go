package capability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/audio"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/reliability"
)

func fastPolicy(retries int) reliability.Policy {
	return reliability.Policy{
		Timeout:     2 * time.Second,
		MaxRetries:  retries,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}
}

func TestCallSkipsDisabledCapability(t *testing.T) {
	g := NewGuard(Image, "test", fastPolicy(2), 0, 0, nil)
	called := false
	_, err := Call(context.Background(), g, false, func(context.Context) (string, error) {
		called = true
		return "x", nil
	})
	require.ErrorIs(t, err, ErrSkipped)
	assert.False(t, called)
}

func TestCallReturnsCapabilityErrorAfterRetries(t *testing.T) {
	g := NewGuard(Audio, "test", fastPolicy(2), 0, 0, nil)
	var calls atomic.Int32
	_, err := Call(context.Background(), g, true, func(context.Context) (string, error) {
		calls.Add(1)
		return "", &reliability.StatusError{Code: 503}
	})
	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, Audio, capErr.Capability)
	assert.Equal(t, 3, capErr.Attempts)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCallStopsPromptlyOnCancellation(t *testing.T) {
	g := NewGuard(Text, "test", reliability.Policy{MaxRetries: 5, BaseBackoff: time.Second, MaxBackoff: time.Second}, 0, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := Call(ctx, g, true, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPImageRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var body imageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1664*928", body.Size)
		assert.Contains(t, body.Prompt, "Style tags: comic, scary")
		_, _ = w.Write([]byte(`{"data":[{"url":"https://cdn.example/ambulance.png"}]}`))
	}))
	defer srv.Close()

	set := &Set{
		Image:      NewHTTPImage(HTTPConfig{BaseURL: srv.URL, APIKey: "secret", Model: "img"}),
		ImageGuard: NewGuard(Image, "http", fastPolicy(2), 0, 0, nil),
	}
	res, err := set.GenerateImage(context.Background(), true, ImageRequest{
		Word:  "ambulance",
		Story: "A siren wails.",
		Style: artifact.ImageStyle{Style: "comic", Mood: "scary", AspectRatio: "16:9"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/ambulance.png", res.URL)
	assert.EqualValues(t, 2, hits.Load())
}

func TestHTTPImageDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	set := &Set{
		Image:      NewHTTPImage(HTTPConfig{BaseURL: srv.URL}),
		ImageGuard: NewGuard(Image, "http", fastPolicy(3), 0, 0, nil),
	}
	_, err := set.GenerateImage(context.Background(), true, ImageRequest{Word: "x"})
	var statusErr *reliability.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.EqualValues(t, 1, hits.Load())
}

func TestHTTPTextParsesWordBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if assert.Len(t, body.Messages, 2) {
			assert.Contains(t, body.Messages[1].Content, "Target word: ambulance")
			assert.Contains(t, body.Messages[1].Content, "[Skill: homophone]")
		}
		content := "```json\n{\"word\":\"Ambulance\",\"homophone\":{\"text\":\"俺不能死\"},\"story\":\"On the way to hospital...\",\"meaning\":{\"pos\":\"n.\",\"cn\":\"救护车\"}}\n```"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	defer srv.Close()

	p := NewHTTPText(HTTPConfig{BaseURL: srv.URL, Model: "m"})
	wb, err := p.GenerateWordBlock(context.Background(), MnemonicRequest{Word: "ambulance", Skill: "[Skill: homophone]\nbody"})
	require.NoError(t, err)
	assert.Equal(t, "ambulance", wb.Word)
	assert.Equal(t, "俺不能死", wb.Homophone.Text)
	assert.Equal(t, "救护车", wb.Meaning.Native)
}

func TestParseWordBlockMalformedIsTransient(t *testing.T) {
	_, err := ParseWordBlock("sorry, I cannot help", "ambulance")
	require.Error(t, err)
	assert.True(t, reliability.IsRetryable(err))

	_, err = ParseWordBlock(`{"word":"ambulance","homophone":{"text":""},"story":""}`, "ambulance")
	require.Error(t, err)
	assert.True(t, reliability.IsRetryable(err))
}

func TestHTTPAudioWrapsPCMAsWAV(t *testing.T) {
	pcm := make([]byte, audio.DefaultSampleRate*2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		var body speechRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ambulance。俺不能死。A siren wails.", body.Input)
		assert.Equal(t, "pcm", body.ResponseFormat)
		assert.Equal(t, "alloy", body.Voice)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	dir := t.TempDir()
	p := NewHTTPAudio(HTTPConfig{BaseURL: srv.URL, Voice: "alloy", OutputDir: dir})
	res, err := p.Synthesize(context.Background(), AudioRequest{
		Word: "ambulance", Mnemonic: "俺不能死", Story: "A siren wails.", PresetID: StandardVoicePreset,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.URL, "file://"))
	assert.Equal(t, time.Second, res.Duration)

	b, err := os.ReadFile(strings.TrimPrefix(res.URL, "file://"))
	require.NoError(t, err)
	assert.True(t, audio.IsWAV(b))
}

func TestHTTPAudioAcceptsHostedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://cdn.example/a.wav","duration_sec":2.5}`))
	}))
	defer srv.Close()

	p := NewHTTPAudio(HTTPConfig{BaseURL: srv.URL, OutputDir: t.TempDir()})
	res, err := p.Synthesize(context.Background(), AudioRequest{Word: "ambulance", PresetID: "warm_female"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.wav", res.URL)
	assert.Equal(t, 2500*time.Millisecond, res.Duration)
	assert.Equal(t, "warm_female", res.VoiceProfileID)
}

func TestImageSize(t *testing.T) {
	cases := map[string]string{
		"1:1":  "1328*1328",
		"16:9": "1664*928",
		"4:3":  "1472*1140",
		"3:4":  "1140*1472",
		"9:16": "928*1664",
		"":     "1328*1328",
		"2:1":  "1328*1328",
	}
	for in, want := range cases {
		assert.Equal(t, want, ImageSize(in), in)
	}
}

func TestResolveVoicePreset(t *testing.T) {
	assert.Equal(t, StandardVoicePreset, ResolveVoicePreset("dynamic_storyteller", false))
	assert.Equal(t, StandardVoicePreset, ResolveVoicePreset("Expressive_F", false))
	assert.Equal(t, "dynamic_storyteller", ResolveVoicePreset("dynamic_storyteller", true))
	assert.Equal(t, "warm_female", ResolveVoicePreset("warm_female", false))
	assert.Equal(t, StandardVoicePreset, ResolveVoicePreset("", true))
}

func TestFeaturesApply(t *testing.T) {
	off := false
	f := Features{Image: true, Audio: true}.Apply(&FeatureOverride{Audio: &off})
	assert.True(t, f.Image)
	assert.False(t, f.Audio)
	assert.Equal(t, Features{Image: true}, Features{Image: true}.Apply(nil))
}

func TestNewSetResolvesModes(t *testing.T) {
	cfg := config.Config{
		Text:  config.ProviderConfig{Mode: "auto", BaseURL: "http://llm.local/v1", Timeout: time.Second},
		Image: config.ProviderConfig{Mode: "auto", Timeout: time.Second},
		Audio: config.ProviderConfig{Mode: "mock", BaseURL: "http://tts.local", Timeout: time.Second},
	}
	set, err := NewSet(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPText{}, set.Text)
	assert.IsType(t, &MockImage{}, set.Image)
	assert.IsType(t, &MockAudio{}, set.Audio)
	assert.Equal(t, "http", set.TextGuard.Provider)

	cfg.Image.Mode = "http"
	_, err = NewSet(cfg, nil)
	require.Error(t, err)
}

func TestMockProvidersHonourErr(t *testing.T) {
	text := NewMockText()
	text.Err = errors.New("boom")
	set := NewStaticSet(text, NewMockImage(), NewMockAudio(), Features{}, fastPolicy(0))
	_, err := set.WordBlock(context.Background(), MnemonicRequest{Word: "x"})
	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, Text, capErr.Capability)
}
