package capability

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/mnemo/internal/artifact"
)

// AudioRequest asks the audio capability to narrate a card.
type AudioRequest struct {
	Word     string
	Mnemonic string
	Story    string
	Voice    artifact.VoiceStyle
	PresetID string
}

type AudioResult struct {
	URL            string
	VoiceProfileID string
	Duration       time.Duration
}

type AudioGenerator interface {
	Synthesize(ctx context.Context, req AudioRequest) (AudioResult, error)
}

// SpeechText is the narration: word, mnemonic and story joined by a
// full-width stop so the voice pauses between them.
func SpeechText(req AudioRequest) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{req.Word, req.Mnemonic, req.Story} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "。")
}

// speechSpeed maps the style's coarse speed onto a TTS speed multiplier.
func speechSpeed(speed string) float64 {
	switch strings.ToLower(strings.TrimSpace(speed)) {
	case "slow":
		return 0.8
	case "fast":
		return 1.2
	default:
		return 1.0
	}
}
