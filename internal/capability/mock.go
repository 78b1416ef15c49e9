package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/mnemo/internal/artifact"
)

// MockText is a deterministic offline text provider.
type MockText struct {
	// Err, when set, is returned by every call.
	Err     error
	Delay   time.Duration
	Replies map[string]string

	calls atomic.Int64
}

func NewMockText() *MockText { return &MockText{} }

func (m *MockText) Calls() int { return int(m.calls.Load()) }

func (m *MockText) GenerateWordBlock(ctx context.Context, req MnemonicRequest) (artifact.WordBlock, error) {
	n := m.calls.Add(1)
	if err := mockWait(ctx, m.Delay); err != nil {
		return artifact.WordBlock{}, err
	}
	if m.Err != nil {
		return artifact.WordBlock{}, m.Err
	}
	humor := req.Style.Humor
	if humor == "" {
		humor = "playful"
	}
	return artifact.WordBlock{
		Word:     req.Word,
		Phonetic: &artifact.Phonetic{IPA: "/" + strings.ToLower(req.Word) + "/"},
		Homophone: artifact.Homophone{
			Text:        fmt.Sprintf("%s 谐音 #%d", req.Word, n),
			Explanation: "sounds like the word",
		},
		Story: fmt.Sprintf("A %s scene that makes %q stick (take %d).", humor, req.Word, n),
		Meaning: artifact.Meaning{
			PartOfSpeech: "n.",
			Native:       req.Word + " 的中文释义",
			Source:       "meaning of " + req.Word,
		},
	}, nil
}

func (m *MockText) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	m.calls.Add(1)
	if err := mockWait(ctx, m.Delay); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	for key, reply := range m.Replies {
		if strings.Contains(prompt, key) {
			return reply, nil
		}
	}
	return "", nil
}

// MockImage returns stable fake image URLs.
type MockImage struct {
	Err   error
	Delay time.Duration

	calls atomic.Int64
	mu    sync.Mutex
	last  ImageRequest
}

func NewMockImage() *MockImage { return &MockImage{} }

func (m *MockImage) Calls() int { return int(m.calls.Load()) }

func (m *MockImage) LastRequest() ImageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *MockImage) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	n := m.calls.Add(1)
	m.mu.Lock()
	m.last = req
	m.mu.Unlock()
	if err := mockWait(ctx, m.Delay); err != nil {
		return ImageResult{}, err
	}
	if m.Err != nil {
		return ImageResult{}, m.Err
	}
	style := req.Style.Style
	if style == "" {
		style = "default"
	}
	return ImageResult{
		URL:    fmt.Sprintf("https://mock.invalid/images/%s-%s-%d.png", strings.ToLower(req.Word), style, n),
		Prompt: BuildImagePrompt(req),
	}, nil
}

// MockAudio returns stable fake audio URLs with a duration derived from
// the narration length.
type MockAudio struct {
	Err   error
	Delay time.Duration

	calls atomic.Int64
}

func NewMockAudio() *MockAudio { return &MockAudio{} }

func (m *MockAudio) Calls() int { return int(m.calls.Load()) }

func (m *MockAudio) Synthesize(ctx context.Context, req AudioRequest) (AudioResult, error) {
	n := m.calls.Add(1)
	if err := mockWait(ctx, m.Delay); err != nil {
		return AudioResult{}, err
	}
	if m.Err != nil {
		return AudioResult{}, m.Err
	}
	text := SpeechText(req)
	return AudioResult{
		URL:            fmt.Sprintf("https://mock.invalid/audio/%s-%d.wav", strings.ToLower(req.Word), n),
		VoiceProfileID: req.PresetID,
		Duration:       time.Duration(len([]rune(text))) * 120 * time.Millisecond,
	}, nil
}

func mockWait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
