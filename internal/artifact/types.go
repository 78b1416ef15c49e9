package artifact

import (
	"strings"
	"time"
)

// Intent is the classified purpose of a conversational turn.
type Intent string

const (
	IntentNewWord           Intent = "new_word"
	IntentRefineMnemonic    Intent = "refine_mnemonic"
	IntentChangeImage       Intent = "change_image"
	IntentChangeAudio       Intent = "change_audio"
	IntentUpdatePreferences Intent = "update_preferences"
	IntentExplain           Intent = "explain"
	IntentSmallTalk         Intent = "small_talk"
	IntentOutOfScope        Intent = "out_of_scope"
)

// Valid reports whether i is one of the recognised intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentNewWord, IntentRefineMnemonic, IntentChangeImage, IntentChangeAudio,
		IntentUpdatePreferences, IntentExplain, IntentSmallTalk, IntentOutOfScope:
		return true
	default:
		return false
	}
}

// Generative reports whether the intent can dispatch capability work.
func (i Intent) Generative() bool {
	switch i {
	case IntentNewWord, IntentRefineMnemonic, IntentChangeImage, IntentChangeAudio:
		return true
	default:
		return false
	}
}

// Part names one regenerable piece of an artifact.
type Part string

const (
	PartMnemonic Part = "mnemonic"
	PartImage    Part = "image"
	PartAudio    Part = "audio"
)

// Scope says how long a style change lives.
type Scope string

const (
	ScopeThisTurn       Scope = "this_turn"
	ScopeSessionDefault Scope = "session_default"
)

// Role of a conversation turn author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one immutable entry of the conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// LatestUserText returns the content of the last user turn in history.
func LatestUserText(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return strings.TrimSpace(history[i].Content)
		}
	}
	return ""
}

type Phonetic struct {
	IPA               string `json:"ipa,omitempty"`
	PronunciationNote string `json:"pronunciation_note,omitempty"`
}

type Homophone struct {
	Text        string `json:"text"`
	Raw         string `json:"raw,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

type Meaning struct {
	PartOfSpeech string `json:"pos,omitempty"`
	Native       string `json:"cn"`
	Source       string `json:"en,omitempty"`
}

// WordBlock is the text payload produced by the text capability.
type WordBlock struct {
	Word      string    `json:"word"`
	Phonetic  *Phonetic `json:"phonetic,omitempty"`
	Homophone Homophone `json:"homophone"`
	Story     string    `json:"story"`
	Meaning   Meaning   `json:"meaning"`
}

type ImageRef struct {
	URL       string    `json:"url"`
	Style     string    `json:"style"`
	Mood      string    `json:"mood"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AudioRef struct {
	URL            string    `json:"url"`
	VoiceProfileID string    `json:"voice_profile_id,omitempty"`
	DurationSec    float64   `json:"duration_sec,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Media struct {
	Image *ImageRef `json:"image,omitempty"`
	Audio *AudioRef `json:"audio,omitempty"`
}

// Status summarises what happened in the turn that produced this version.
type Status struct {
	IsFirstTime  bool   `json:"is_first_time"`
	Intent       Intent `json:"intent"`
	UpdatedParts []Part `json:"updated_parts"`
	Scope        Scope  `json:"scope"`
	Reason       string `json:"reason"`
}

// MemoryArtifact is the versioned memory card for one word within a session.
type MemoryArtifact struct {
	Type      string     `json:"type"`
	Version   int        `json:"version"`
	Intent    Intent     `json:"intent"`
	WordBlock *WordBlock `json:"word_block,omitempty"`
	Media     Media      `json:"media"`
	Styles    Styles     `json:"styles"`
	Status    Status     `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}

const TypeWordMemory = "word_memory"

// Word returns the artifact's target word or "" when there is no word block.
func (a *MemoryArtifact) Word() string {
	if a == nil || a.WordBlock == nil {
		return ""
	}
	return a.WordBlock.Word
}

// Clone returns a deep copy so callers can build a new version without
// touching the committed one.
func (a *MemoryArtifact) Clone() *MemoryArtifact {
	if a == nil {
		return nil
	}
	c := *a
	if a.WordBlock != nil {
		wb := *a.WordBlock
		if a.WordBlock.Phonetic != nil {
			p := *a.WordBlock.Phonetic
			wb.Phonetic = &p
		}
		c.WordBlock = &wb
	}
	if a.Media.Image != nil {
		img := *a.Media.Image
		c.Media.Image = &img
	}
	if a.Media.Audio != nil {
		au := *a.Media.Audio
		c.Media.Audio = &au
	}
	c.Styles = a.Styles.Clone()
	c.Status.UpdatedParts = append([]Part(nil), a.Status.UpdatedParts...)
	return &c
}

// StatusOnly builds a response artifact with no word block. The reason is
// mandatory so the absence of a word block is always explained.
func StatusOnly(intent Intent, scope Scope, reason string) *MemoryArtifact {
	if strings.TrimSpace(reason) == "" {
		reason = "no memory card was generated"
	}
	if scope == "" {
		scope = ScopeThisTurn
	}
	return &MemoryArtifact{
		Type:   TypeWordMemory,
		Intent: intent,
		Status: Status{
			Intent:       intent,
			UpdatedParts: []Part{},
			Scope:        scope,
			Reason:       reason,
		},
		UpdatedAt: time.Now().UTC(),
	}
}
