package artifact

// MnemonicStyle steers homophone and story generation.
type MnemonicStyle struct {
	Humor      string   `json:"humor"`
	Dialect    string   `json:"dialect"`
	Complexity string   `json:"complexity"`
	ExtraTags  []string `json:"extra_tags,omitempty"`
}

// ImageStyle steers image generation.
type ImageStyle struct {
	Style       string   `json:"style"`
	Mood        string   `json:"mood"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	ExtraTags   []string `json:"extra_tags,omitempty"`
}

// VoiceStyle steers speech synthesis.
type VoiceStyle struct {
	PresetID string `json:"preset_id,omitempty"`
	Gender   string `json:"gender"`
	Energy   string `json:"energy"`
	Pitch    string `json:"pitch"`
	Speed    string `json:"speed"`
	Tone     string `json:"tone"`
}

// Styles records the style settings actually used for a version.
type Styles struct {
	ProfileID string         `json:"style_profile_id,omitempty"`
	Mnemonic  *MnemonicStyle `json:"mnemonic_style,omitempty"`
	Image     *ImageStyle    `json:"image_style,omitempty"`
	Voice     *VoiceStyle    `json:"voice_style,omitempty"`
}

func (s Styles) Clone() Styles {
	c := s
	if s.Mnemonic != nil {
		m := *s.Mnemonic
		m.ExtraTags = append([]string(nil), s.Mnemonic.ExtraTags...)
		c.Mnemonic = &m
	}
	if s.Image != nil {
		i := *s.Image
		i.ExtraTags = append([]string(nil), s.Image.ExtraTags...)
		c.Image = &i
	}
	if s.Voice != nil {
		v := *s.Voice
		c.Voice = &v
	}
	return c
}

// Preferences are the session-default styles written by session_default
// scoped changes.
type Preferences struct {
	ProfileID string         `json:"style_profile_id,omitempty"`
	Mnemonic  *MnemonicStyle `json:"mnemonic,omitempty"`
	Image     *ImageStyle    `json:"image,omitempty"`
	Voice     *VoiceStyle    `json:"voice,omitempty"`
}

func (p Preferences) Clone() Preferences {
	s := Styles{ProfileID: p.ProfileID, Mnemonic: p.Mnemonic, Image: p.Image, Voice: p.Voice}.Clone()
	return Preferences{ProfileID: s.ProfileID, Mnemonic: s.Mnemonic, Image: s.Image, Voice: s.Voice}
}

// Overlay returns s with every non-empty field of o applied on top.
func (s MnemonicStyle) Overlay(o *MnemonicStyle) MnemonicStyle {
	if o == nil {
		return s
	}
	s.Humor = pick(o.Humor, s.Humor)
	s.Dialect = pick(o.Dialect, s.Dialect)
	s.Complexity = pick(o.Complexity, s.Complexity)
	if len(o.ExtraTags) > 0 {
		s.ExtraTags = append([]string(nil), o.ExtraTags...)
	}
	return s
}

func (s ImageStyle) Overlay(o *ImageStyle) ImageStyle {
	if o == nil {
		return s
	}
	s.Style = pick(o.Style, s.Style)
	s.Mood = pick(o.Mood, s.Mood)
	s.AspectRatio = pick(o.AspectRatio, s.AspectRatio)
	if len(o.ExtraTags) > 0 {
		s.ExtraTags = append([]string(nil), o.ExtraTags...)
	}
	return s
}

func (s VoiceStyle) Overlay(o *VoiceStyle) VoiceStyle {
	if o == nil {
		return s
	}
	s.PresetID = pick(o.PresetID, s.PresetID)
	s.Gender = pick(o.Gender, s.Gender)
	s.Energy = pick(o.Energy, s.Energy)
	s.Pitch = pick(o.Pitch, s.Pitch)
	s.Speed = pick(o.Speed, s.Speed)
	s.Tone = pick(o.Tone, s.Tone)
	return s
}

// Merge folds the non-nil styles of o into p, field by field.
func (p Preferences) Merge(o Preferences) Preferences {
	out := p.Clone()
	out.ProfileID = pick(o.ProfileID, out.ProfileID)
	if o.Mnemonic != nil {
		var base MnemonicStyle
		if out.Mnemonic != nil {
			base = *out.Mnemonic
		}
		m := base.Overlay(o.Mnemonic)
		out.Mnemonic = &m
	}
	if o.Image != nil {
		var base ImageStyle
		if out.Image != nil {
			base = *out.Image
		}
		i := base.Overlay(o.Image)
		out.Image = &i
	}
	if o.Voice != nil {
		var base VoiceStyle
		if out.Voice != nil {
			base = *out.Voice
		}
		v := base.Overlay(o.Voice)
		out.Voice = &v
	}
	return out
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
