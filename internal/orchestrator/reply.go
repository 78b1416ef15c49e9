package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ent0n29/mnemo/internal/artifact"
)

const (
	smallTalkReply  = "Hi! Tell me an English word you want to remember and I will build a memory card for it."
	prefsSavedReply = "Got it. I will use that style for the next cards in this session."
	prefsOffReply   = "Style preferences are fixed for this service, so I will keep the current style."
)

// buildReply renders the conversational reply for a finished turn.
func buildReply(a *artifact.MemoryArtifact, prefsSaved bool) string {
	if a == nil {
		return smallTalkReply
	}
	st := a.Status
	switch st.Intent {
	case artifact.IntentSmallTalk:
		return smallTalkReply
	case artifact.IntentOutOfScope:
		return fmt.Sprintf("I can only help you remember English words (%s).", st.Reason)
	case artifact.IntentUpdatePreferences:
		if prefsSaved {
			return prefsSavedReply
		}
		return prefsOffReply
	case artifact.IntentExplain:
		return explainCard(a)
	}

	if a.WordBlock == nil {
		return fmt.Sprintf("Sorry, I could not build the memory card this time (%s). Please try again.", st.Reason)
	}

	word := a.WordBlock.Word
	updated := artifact.NewPartSet(st.UpdatedParts...)
	var b strings.Builder
	switch st.Intent {
	case artifact.IntentNewWord:
		fmt.Fprintf(&b, "Here is your memory card for %q: %s. %s", word, a.WordBlock.Homophone.Text, a.WordBlock.Story)
	case artifact.IntentRefineMnemonic:
		fmt.Fprintf(&b, "New mnemonic for %q: %s. %s", word, a.WordBlock.Homophone.Text, a.WordBlock.Story)
	case artifact.IntentChangeImage:
		if updated.Has(artifact.PartImage) {
			fmt.Fprintf(&b, "I redrew the picture for %q.", word)
		} else {
			fmt.Fprintf(&b, "I could not redraw the picture for %q, the previous one is kept.", word)
		}
	case artifact.IntentChangeAudio:
		if updated.Has(artifact.PartAudio) {
			fmt.Fprintf(&b, "I recorded a new narration for %q.", word)
		} else {
			fmt.Fprintf(&b, "I could not record a new narration for %q, the previous one is kept.", word)
		}
	}
	if st.IsFirstTime && st.Intent == artifact.IntentNewWord {
		b.WriteString(" This is a new word for this session.")
	}
	return strings.TrimSpace(b.String())
}

func explainCard(a *artifact.MemoryArtifact) string {
	wb := a.WordBlock
	if wb == nil {
		return "There is no card to explain yet. Name a word first."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s", wb.Word)
	if wb.Phonetic != nil && wb.Phonetic.IPA != "" {
		fmt.Fprintf(&b, " %s", wb.Phonetic.IPA)
	}
	if wb.Meaning.PartOfSpeech != "" {
		fmt.Fprintf(&b, " (%s)", wb.Meaning.PartOfSpeech)
	}
	fmt.Fprintf(&b, ": %s", wb.Meaning.Native)
	if wb.Meaning.Source != "" {
		fmt.Fprintf(&b, " / %s", wb.Meaning.Source)
	}
	fmt.Fprintf(&b, ". It sounds like %s", wb.Homophone.Text)
	if wb.Homophone.Explanation != "" {
		fmt.Fprintf(&b, " (%s)", wb.Homophone.Explanation)
	}
	fmt.Fprintf(&b, ". %s", wb.Story)
	return b.String()
}
