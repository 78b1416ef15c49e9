package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/mnemo/internal/artifact"
)

// Completer is the slice of the text capability the LLM classifier needs.
// *capability.Set satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLMClassifier asks the text capability for a structured decision.
type LLMClassifier struct {
	text       Completer
	maxHistory int
}

func NewLLMClassifier(text Completer) *LLMClassifier {
	return &LLMClassifier{text: text, maxHistory: 6}
}

const classifierSystemPrompt = `You route requests for a vocabulary memory-card app.
Reply with one JSON object only:
{"intent": "new_word|refine_mnemonic|change_image|change_audio|update_preferences|explain|small_talk|out_of_scope",
 "word": string or null,
 "difficulty": "easy|medium|hard|unknown",
 "style_profile_id": "simple_clean|funny|aggressive|dongbei_funny|other" or null,
 "need_new_mnemonic": bool, "need_new_image": bool, "need_new_audio": bool,
 "mnemonic_style": {"humor": string, "dialect": string, "complexity": string} or null,
 "image_style": {"style": string, "mood": string, "aspect_ratio": string} or null,
 "voice_style": {"preset_id": string, "gender": string, "energy": string, "speed": string, "tone": string} or null,
 "scope": "this_turn|session_default",
 "reason": string}
Use new_word when the learner names a word to memorise. Use difficulty "unknown" when the
word is not a real English word.`

type llmDecision struct {
	Intent          string                  `json:"intent"`
	Word            *string                 `json:"word"`
	Difficulty      string                  `json:"difficulty"`
	StyleProfileID  *string                 `json:"style_profile_id"`
	NeedNewMnemonic bool                    `json:"need_new_mnemonic"`
	NeedNewImage    bool                    `json:"need_new_image"`
	NeedNewAudio    bool                    `json:"need_new_audio"`
	MnemonicStyle   *artifact.MnemonicStyle `json:"mnemonic_style"`
	ImageStyle      *artifact.ImageStyle    `json:"image_style"`
	VoiceStyle      *artifact.VoiceStyle    `json:"voice_style"`
	Scope           string                  `json:"scope"`
	Reason          string                  `json:"reason"`
}

func (c *LLMClassifier) Classify(ctx context.Context, in Input) (Decision, error) {
	if c == nil || c.text == nil {
		return Decision{}, &ClassificationError{Reason: "llm classifier has no text capability"}
	}
	reply, err := c.text.Complete(ctx, classifierSystemPrompt, c.prompt(in))
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		return Decision{}, &ClassificationError{Reason: "text capability failed", Err: err}
	}
	return parseLLMDecision(reply)
}

func (c *LLMClassifier) prompt(in Input) string {
	var b strings.Builder
	if in.HasCard() {
		fmt.Fprintf(&b, "Current card word: %s\n", in.Current.Word())
		if in.Current.Media.Image != nil {
			b.WriteString("The card has an image.\n")
		}
	} else {
		b.WriteString("There is no card yet in this session.\n")
	}
	history := in.History
	if len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, strings.TrimSpace(t.Content))
		}
	}
	latest := in.Latest
	if latest == "" {
		latest = artifact.LatestUserText(in.History)
	}
	fmt.Fprintf(&b, "Latest message: %s\n", latest)
	return b.String()
}

func parseLLMDecision(reply string) (Decision, error) {
	reply = strings.TrimSpace(reply)
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return Decision{}, &ClassificationError{Reason: "reply carries no JSON object"}
	}
	var raw llmDecision
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return Decision{}, &ClassificationError{Reason: "reply is not a valid decision", Err: err}
	}
	intent := artifact.Intent(strings.TrimSpace(raw.Intent))
	if !intent.Valid() {
		return Decision{}, &ClassificationError{Reason: "unknown intent", Err: errors.New(raw.Intent)}
	}

	d := Decision{
		Intent:     intent,
		Difficulty: Difficulty(strings.ToLower(strings.TrimSpace(raw.Difficulty))),
		Parts:      artifact.NewPartSet(),
		Scope:      artifact.Scope(raw.Scope),
		Mnemonic:   raw.MnemonicStyle,
		Image:      raw.ImageStyle,
		Voice:      raw.VoiceStyle,
		Reason:     strings.TrimSpace(raw.Reason),
	}
	if raw.Word != nil {
		d.Word = strings.ToLower(strings.TrimSpace(*raw.Word))
	}
	if raw.StyleProfileID != nil {
		d.StyleProfileID = *raw.StyleProfileID
	}
	if !d.Difficulty.valid() {
		d.Difficulty = DifficultyUnknown
	}
	if d.Scope != artifact.ScopeSessionDefault {
		d.Scope = artifact.ScopeThisTurn
	}
	if raw.NeedNewMnemonic {
		d.Parts.Add(artifact.PartMnemonic)
	}
	if raw.NeedNewImage {
		d.Parts.Add(artifact.PartImage)
	}
	if raw.NeedNewAudio {
		d.Parts.Add(artifact.PartAudio)
	}
	return d, nil
}
