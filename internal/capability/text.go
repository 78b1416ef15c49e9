package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/reliability"
)

// MnemonicRequest asks the text capability for a word block.
type MnemonicRequest struct {
	Word        string
	Style       artifact.MnemonicStyle
	Skill       string
	Instruction string
	Previous    *artifact.WordBlock
}

// TextGenerator produces mnemonic text and free-form completions.
type TextGenerator interface {
	GenerateWordBlock(ctx context.Context, req MnemonicRequest) (artifact.WordBlock, error)
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const wordBlockSystemPrompt = `You write vocabulary memory cards for Chinese-speaking learners of English.
Reply with a single JSON object and nothing else:
{"word": string, "phonetic": {"ipa": string, "pronunciation_note": string},
 "homophone": {"text": string, "raw": string, "explanation": string},
 "story": string, "meaning": {"pos": string, "cn": string, "en": string}}
The homophone is a Chinese phrase that sounds like the English word. The story is a short
scene that ties the homophone to the meaning.`

func buildMnemonicPrompt(req MnemonicRequest) string {
	var b strings.Builder
	style, _ := json.Marshal(req.Style)
	fmt.Fprintf(&b, "Target word: %s\nMnemonic style: %s\n", req.Word, style)
	if req.Previous != nil && req.Previous.Homophone.Text != "" {
		fmt.Fprintf(&b, "The learner already has the homophone %q and the story %q. Write a different one.\n",
			req.Previous.Homophone.Text, req.Previous.Story)
	}
	if req.Instruction != "" {
		fmt.Fprintf(&b, "Learner request: %s\n", req.Instruction)
	}
	if req.Skill != "" {
		b.WriteString("\n")
		b.WriteString(req.Skill)
		b.WriteString("\n")
	}
	return b.String()
}

// ParseWordBlock decodes a model reply into a word block. Replies wrapped
// in a markdown code fence are accepted. Malformed replies are transient:
// another attempt may well produce valid JSON.
func ParseWordBlock(reply, word string) (artifact.WordBlock, error) {
	raw := extractJSONObject(reply)
	if raw == "" {
		return artifact.WordBlock{}, reliability.Transient(errors.New("text reply carries no JSON object"))
	}
	var wb artifact.WordBlock
	if err := json.Unmarshal([]byte(raw), &wb); err != nil {
		return artifact.WordBlock{}, reliability.Transient(fmt.Errorf("decode word block: %w", err))
	}
	// The requested word wins over whatever spelling the model echoed.
	if word != "" {
		wb.Word = word
	}
	wb.Word = strings.TrimSpace(wb.Word)
	if wb.Word == "" || strings.TrimSpace(wb.Homophone.Text) == "" || strings.TrimSpace(wb.Story) == "" {
		return artifact.WordBlock{}, reliability.Transient(errors.New("word block is missing word, homophone or story"))
	}
	return wb, nil
}

func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
