package orchestrator

import (
	"time"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/capability"
	"github.com/ent0n29/mnemo/internal/intent"
)

// generation holds what the capability calls of one turn produced. A nil
// field means that part was not updated.
type generation struct {
	wordBlock *artifact.WordBlock
	image     *capability.ImageResult
	audio     *capability.AudioResult
	reasons   []string
}

// merge builds the next artifact version. Parts not updated this turn are
// carried forward from prior when prior is a card for the same word; a
// different word starts a fresh card at version 1.
func merge(prior *artifact.MemoryArtifact, d intent.Decision, styles artifact.Styles, gen generation, firstTime bool, now time.Time) *artifact.MemoryArtifact {
	var next *artifact.MemoryArtifact
	if prior != nil && prior.WordBlock != nil && prior.Word() == d.Word {
		next = prior.Clone()
		next.Version = prior.Version + 1
	} else {
		next = &artifact.MemoryArtifact{Type: artifact.TypeWordMemory, Version: 1}
	}
	next.Type = artifact.TypeWordMemory
	next.Intent = d.Intent
	next.Styles.ProfileID = styles.ProfileID

	updated := make([]artifact.Part, 0, 3)
	if gen.wordBlock != nil {
		wb := *gen.wordBlock
		next.WordBlock = &wb
		next.Styles.Mnemonic = styles.Mnemonic
		updated = append(updated, artifact.PartMnemonic)
	}
	if gen.image != nil {
		next.Media.Image = &artifact.ImageRef{
			URL:       gen.image.URL,
			Style:     styles.Image.Style,
			Mood:      styles.Image.Mood,
			UpdatedAt: now,
		}
		next.Styles.Image = styles.Image
		updated = append(updated, artifact.PartImage)
	}
	if gen.audio != nil {
		next.Media.Audio = &artifact.AudioRef{
			URL:            gen.audio.URL,
			VoiceProfileID: gen.audio.VoiceProfileID,
			DurationSec:    gen.audio.Duration.Seconds(),
			UpdatedAt:      now,
		}
		next.Styles.Voice = styles.Voice
		updated = append(updated, artifact.PartAudio)
	}

	if len(updated) == 0 && prior != nil {
		next.Version = prior.Version
	}

	reason := d.Reason
	for _, r := range gen.reasons {
		reason = appendReason(reason, r)
	}
	next.Status = artifact.Status{
		IsFirstTime:  firstTime,
		Intent:       d.Intent,
		UpdatedParts: updated,
		Scope:        d.Scope,
		Reason:       reason,
	}
	next.UpdatedAt = now
	return next
}

func appendReason(reason, suffix string) string {
	switch {
	case suffix == "":
		return reason
	case reason == "":
		return suffix
	default:
		return reason + "; " + suffix
	}
}
