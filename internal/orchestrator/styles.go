package orchestrator

import (
	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/intent"
)

// DefaultStyles builds the process-wide style baseline from configuration.
func DefaultStyles(d config.DefaultsConfig) artifact.Styles {
	return artifact.Styles{
		ProfileID: d.StyleProfile,
		Mnemonic: &artifact.MnemonicStyle{
			Humor:      d.Humor,
			Dialect:    d.Dialect,
			Complexity: d.Complexity,
		},
		Image: &artifact.ImageStyle{
			Style:       d.ImageStyle,
			Mood:        d.ImageMood,
			AspectRatio: d.AspectRatio,
		},
		Voice: &artifact.VoiceStyle{
			PresetID: d.VoicePreset,
			Gender:   d.VoiceGender,
			Energy:   d.VoiceEnergy,
			Pitch:    d.VoicePitch,
			Speed:    d.VoiceSpeed,
			Tone:     d.VoiceTone,
		},
	}
}

// profilePresets are the mnemonic settings implied by a named profile.
// Explicit styles from preferences or the turn are applied on top.
var profilePresets = map[string]artifact.MnemonicStyle{
	"simple_clean":  {Humor: "none", Complexity: "simple"},
	"funny":         {Humor: "playful"},
	"aggressive":    {Humor: "aggressive"},
	"dongbei_funny": {Humor: "playful", Dialect: "dongbei"},
}

// resolveStyles layers, for each of mnemonic, image and voice
// independently: configured defaults, then session preferences, then the
// styles carried by this turn.
func resolveStyles(defaults artifact.Styles, prefs artifact.Preferences, d intent.Decision) artifact.Styles {
	var m artifact.MnemonicStyle
	if defaults.Mnemonic != nil {
		m = *defaults.Mnemonic
	}
	var img artifact.ImageStyle
	if defaults.Image != nil {
		img = *defaults.Image
	}
	var v artifact.VoiceStyle
	if defaults.Voice != nil {
		v = *defaults.Voice
	}

	profile := defaults.ProfileID
	if prefs.ProfileID != "" {
		profile = prefs.ProfileID
	}
	if d.StyleProfileID != "" {
		profile = d.StyleProfileID
	}
	if preset, ok := profilePresets[profile]; ok {
		m = m.Overlay(&preset)
	}

	m = m.Overlay(prefs.Mnemonic).Overlay(d.Mnemonic)
	img = img.Overlay(prefs.Image).Overlay(d.Image)
	v = v.Overlay(prefs.Voice).Overlay(d.Voice)

	return artifact.Styles{ProfileID: profile, Mnemonic: &m, Image: &img, Voice: &v}
}
