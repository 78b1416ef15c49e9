package capability

import "strings"

// Features are the process-wide capability switches.
type Features struct {
	Image         bool
	Audio         bool
	PremiumVoices bool
}

// FeatureOverride is the per-request form; nil fields keep the default.
type FeatureOverride struct {
	Image *bool `json:"image,omitempty"`
	Audio *bool `json:"audio,omitempty"`
}

// Apply returns f with any fields set in o replaced.
func (f Features) Apply(o *FeatureOverride) Features {
	if o == nil {
		return f
	}
	if o.Image != nil {
		f.Image = *o.Image
	}
	if o.Audio != nil {
		f.Audio = *o.Audio
	}
	return f
}

const StandardVoicePreset = "standard_neutral"

// ResolveVoicePreset downgrades premium presets when they are not allowed.
func ResolveVoicePreset(preset string, premiumAllowed bool) string {
	preset = strings.TrimSpace(preset)
	if preset == "" {
		return StandardVoicePreset
	}
	if premiumAllowed {
		return preset
	}
	lower := strings.ToLower(preset)
	if strings.Contains(lower, "dynamic") || strings.Contains(lower, "expressive") {
		return StandardVoicePreset
	}
	return preset
}
