package intent

import (
	"context"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/capability"
)

// Difficulty is a rough judgement of how hard a word is to remember.
type Difficulty string

const (
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyHard    Difficulty = "hard"
	DifficultyUnknown Difficulty = "unknown"
)

func (d Difficulty) valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyUnknown:
		return true
	}
	return false
}

// Input is everything a classifier may look at for one turn.
type Input struct {
	History     []artifact.Turn
	Latest      string
	Current     *artifact.MemoryArtifact
	Preferences artifact.Preferences
	Features    capability.Features
}

// HasCard reports whether the session already holds a card with a word.
func (in Input) HasCard() bool {
	return in.Current != nil && in.Current.WordBlock != nil
}

// Decision is the routing outcome of a turn. The orchestrator consumes it
// as data; nothing in a Decision mutates the artifact.
type Decision struct {
	Intent         artifact.Intent
	Word           string
	Difficulty     Difficulty
	Parts          artifact.PartSet
	Scope          artifact.Scope
	StyleProfileID string
	Mnemonic       *artifact.MnemonicStyle
	Image          *artifact.ImageStyle
	Voice          *artifact.VoiceStyle
	Reason         string
}

// Styles returns the turn-level style overrides carried by the decision.
func (d Decision) Styles() artifact.Preferences {
	return artifact.Preferences{
		ProfileID: d.StyleProfileID,
		Mnemonic:  d.Mnemonic,
		Image:     d.Image,
		Voice:     d.Voice,
	}
}

// HasStyle reports whether the decision carries any style override.
func (d Decision) HasStyle() bool {
	return d.StyleProfileID != "" || d.Mnemonic != nil || d.Image != nil || d.Voice != nil
}

// Classifier turns the latest user message into a raw decision.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Decision, error)
}
