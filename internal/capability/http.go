package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/audio"
	"github.com/ent0n29/mnemo/internal/reliability"
)

// HTTPConfig points a provider at an OpenAI-compatible endpoint.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	// OutputDir receives synthesized audio files.
	OutputDir string
	// Timeout bounds a single HTTP exchange; the guard policy bounds the
	// whole call including retries.
	Timeout time.Duration
}

// newRestyClient returns a client without its own retry loop. Retries are
// owned by the capability guard so every provider shares one policy.
func newRestyClient(cfg HTTPConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return c
}

func checkStatus(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	body := strings.TrimSpace(resp.String())
	if len(body) > 512 {
		body = body[:512]
	}
	return &reliability.StatusError{Code: resp.StatusCode(), Body: body}
}

// HTTPText calls /chat/completions.
type HTTPText struct {
	client *resty.Client
	model  string
}

func NewHTTPText(cfg HTTPConfig) *HTTPText {
	return &HTTPText{client: newRestyClient(cfg), model: cfg.Model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *HTTPText) chat(ctx context.Context, req chatRequest) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var out chatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", reliability.Transient(errors.New("chat completion returned no choices"))
	}
	return out.Choices[0].Message.Content, nil
}

func (p *HTTPText) GenerateWordBlock(ctx context.Context, req MnemonicRequest) (artifact.WordBlock, error) {
	reply, err := p.chat(ctx, chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: wordBlockSystemPrompt},
			{Role: "user", Content: buildMnemonicPrompt(req)},
		},
		Temperature:    0.8,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return artifact.WordBlock{}, err
	}
	return ParseWordBlock(reply, req.Word)
}

func (p *HTTPText) Complete(ctx context.Context, system, prompt string) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})
	return p.chat(ctx, chatRequest{Model: p.model, Messages: msgs, Temperature: 0})
}

// HTTPImage calls /images/generations and returns the hosted image URL.
type HTTPImage struct {
	client *resty.Client
	model  string
}

func NewHTTPImage(cfg HTTPConfig) *HTTPImage {
	return &HTTPImage{client: newRestyClient(cfg), model: cfg.Model}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (p *HTTPImage) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	prompt := BuildImagePrompt(req)
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(imageRequest{Model: p.model, Prompt: prompt, Size: ImageSize(req.Style.AspectRatio), N: 1}).
		Post("/images/generations")
	if err != nil {
		return ImageResult{}, fmt.Errorf("image generation request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return ImageResult{}, err
	}
	var out imageResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return ImageResult{}, fmt.Errorf("decode image response: %w", err)
	}
	if len(out.Data) == 0 || strings.TrimSpace(out.Data[0].URL) == "" {
		return ImageResult{}, errors.New("image response carries no url")
	}
	return ImageResult{URL: strings.TrimSpace(out.Data[0].URL), Prompt: prompt}, nil
}

// HTTPAudio calls /audio/speech. Raw PCM replies are wrapped as WAV and
// written to the output directory; JSON replies carrying a url are used
// as they are.
type HTTPAudio struct {
	client     *resty.Client
	model      string
	voice      string
	outputDir  string
	sampleRate int
}

func NewHTTPAudio(cfg HTTPConfig) *HTTPAudio {
	dir := cfg.OutputDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "mnemo-audio")
	}
	return &HTTPAudio{
		client:     newRestyClient(cfg),
		model:      cfg.Model,
		voice:      cfg.Voice,
		outputDir:  dir,
		sampleRate: audio.DefaultSampleRate,
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
	Instructions   string  `json:"instructions,omitempty"`
}

type speechJSONResponse struct {
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_sec"`
}

func (p *HTTPAudio) Synthesize(ctx context.Context, req AudioRequest) (AudioResult, error) {
	text := SpeechText(req)
	if text == "" {
		return AudioResult{}, errors.New("nothing to narrate")
	}
	voice := req.PresetID
	if voice == "" || voice == StandardVoicePreset {
		voice = p.voice
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(speechRequest{
			Model:          p.model,
			Input:          text,
			Voice:          voice,
			ResponseFormat: "pcm",
			Speed:          speechSpeed(req.Voice.Speed),
			Instructions:   voiceInstructions(req.Voice),
		}).
		Post("/audio/speech")
	if err != nil {
		return AudioResult{}, fmt.Errorf("speech request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return AudioResult{}, err
	}

	if strings.Contains(strings.ToLower(resp.Header().Get("Content-Type")), "application/json") {
		var out speechJSONResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return AudioResult{}, fmt.Errorf("decode speech response: %w", err)
		}
		if strings.TrimSpace(out.URL) == "" {
			return AudioResult{}, errors.New("speech response carries no url")
		}
		return AudioResult{
			URL:            out.URL,
			VoiceProfileID: req.PresetID,
			Duration:       time.Duration(out.DurationSec * float64(time.Second)),
		}, nil
	}

	body := resp.Body()
	if len(body) == 0 {
		return AudioResult{}, reliability.Transient(errors.New("speech response is empty"))
	}
	path := filepath.Join(p.outputDir, uuid.NewString()+".wav")
	var duration time.Duration
	if audio.IsWAV(body) {
		if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
			return AudioResult{}, err
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return AudioResult{}, fmt.Errorf("write speech file: %w", err)
		}
		duration = audio.WAVDuration(body)
	} else {
		if err := audio.WriteWAVFile(path, body, p.sampleRate); err != nil {
			return AudioResult{}, fmt.Errorf("write speech file: %w", err)
		}
		duration = audio.PCMDuration(len(body), p.sampleRate)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return AudioResult{
		URL:            "file://" + filepath.ToSlash(abs),
		VoiceProfileID: req.PresetID,
		Duration:       duration,
	}, nil
}

func voiceInstructions(v artifact.VoiceStyle) string {
	var parts []string
	for _, kv := range [][2]string{{"gender", v.Gender}, {"energy", v.Energy}, {"pitch", v.Pitch}, {"tone", v.Tone}} {
		if strings.TrimSpace(kv[1]) != "" {
			parts = append(parts, kv[0]+": "+kv[1])
		}
	}
	return strings.Join(parts, "; ")
}
