package intent

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/mnemo/internal/artifact"
)

// RuleClassifier is a deterministic keyword classifier for English and
// Chinese requests. It needs no provider and is the fallback behind the
// LLM classifier.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

var (
	wordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwords?\s+["'“‘]?([a-z][a-z'-]*)`),
		regexp.MustCompile(`(?i)\b(?:remember|memori[sz]e|learn)\s+["'“‘]?([a-z][a-z'-]*)`),
		regexp.MustCompile(`["“]([A-Za-z][A-Za-z'-]*)["”]`),
		regexp.MustCompile(`(?:单词|记住|背)\s*["“]?([A-Za-z][A-Za-z'-]*)`),
	}
	singleToken = regexp.MustCompile(`^[A-Za-z][A-Za-z'-]*$`)
	validWord   = regexp.MustCompile(`^[a-z]+(?:['-][a-z]+)*$`)
)

var notWords = map[string]bool{
	"a": true, "an": true, "the": true, "it": true, "this": true, "that": true,
	"word": true, "words": true, "me": true, "my": true, "one": true, "something": true,
	"hi": true, "hello": true, "hey": true, "thanks": true, "ok": true, "okay": true,
	"yes": true, "no": true, "please": true,
}

// Lexicons match English terms as whole words, so "pic" does not fire on
// "topic". Terms are regexp fragments; a trailing * marks a stem. Chinese
// terms match as plain substrings.
var (
	imageWords    = lexicon("images?", "pictures?", "pics?", "photos?", "illustrations?", "drawings?", "图", "画")
	audioWords    = lexicon("audio", "voices?", "sounds?", "narrat*", "read it", "pronounc*", "语音", "声音", "朗读", "读一遍")
	mnemonicWords = lexicon("mnemonics?", "homophones?", "stor(?:y|ies)", "funnier", "another one", "different one", "谐音", "故事", "换一个", "再来一个")
	explainWords  = lexicon("explain*", "what does", "why", "mean(?:s|ing)?", "解释", "什么意思", "为什么")
	defaultWords  = lexicon("from now on", "always", "by default", "default", "every time", "以后", "默认", "一直", "每次")
	smallTalkCN   = lexicon("你好", "谢谢", "哈哈", "早上好", "晚安")
	smallTalkEN   = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|good (morning|evening|night)|how are you|bye)\b`)

	aggressiveWords = lexicon("aggressive", "攻击", "毒舌")
	darkWords       = lexicon("dark humou?r", "黑色幽默")
	funnyWords      = lexicon("funnier", "funny", "搞笑", "好笑", "幽默")
	simpleWords     = lexicon("simple", "clean", "plain", "简单", "清爽")
	dongbeiWords    = lexicon("dongbei", "东北")
	scaryWords      = lexicon("scary", "scarier", "creepy", "horror", "恐怖", "吓人")
	cuteWords       = lexicon("cute", "cuter", "可爱")
	calmWords       = lexicon("calm", "peaceful", "安静")
	realisticWords  = lexicon("realistic", "photo-real", "写实", "真实")
	animeWords      = lexicon("anime", "动漫", "二次元")
	comicWords      = lexicon("comics?", "漫画")
	watercolorWords = lexicon("watercolou?r", "水彩")
	wideWords       = lexicon("wide", "landscape", "16:9", "横")
	tallWords       = lexicon("portrait", "vertical", "9:16", "竖")
	slowWords       = lexicon("slow(?:er|ly)?", "慢")
	fastWords       = lexicon("fast(?:er)?", "quick(?:er|ly)?", "快")
	femaleWords     = lexicon("female", "woman", "女")
	maleWords       = lexicon("male", "man", "男")
	energeticWords  = lexicon("excited", "energetic", "激动", "热情")
	gentleWords     = lexicon("gentle", "soft", "温柔")
)

func lexicon(terms ...string) *regexp.Regexp {
	alts := make([]string, 0, len(terms))
	for _, t := range terms {
		switch {
		case !isASCII(t):
			alts = append(alts, regexp.QuoteMeta(t))
		case strings.HasSuffix(t, "*"):
			alts = append(alts, `\b`+strings.TrimSuffix(t, "*")+`\w*`)
		default:
			alts = append(alts, `\b(?:`+t+`)\b`)
		}
	}
	return regexp.MustCompile(strings.Join(alts, "|"))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func (c *RuleClassifier) Classify(_ context.Context, in Input) (Decision, error) {
	text := strings.TrimSpace(in.Latest)
	if text == "" {
		text = artifact.LatestUserText(in.History)
	}
	if text == "" {
		return Decision{}, &ClassificationError{Reason: "empty message"}
	}
	lower := strings.ToLower(text)

	d := Decision{Scope: artifact.ScopeThisTurn, Difficulty: DifficultyUnknown}
	d.Mnemonic, d.Image, d.Voice, d.StyleProfileID = styleHints(lower)
	if defaultWords.MatchString(lower) {
		d.Scope = artifact.ScopeSessionDefault
	}

	word := extractWord(text)
	if word != "" && !strings.EqualFold(word, in.Current.Word()) {
		return newWord(d, word), nil
	}

	if in.HasCard() {
		d.Word = in.Current.Word()
		switch {
		case imageWords.MatchString(lower):
			d.Intent = artifact.IntentChangeImage
			d.Parts = artifact.NewPartSet(artifact.PartImage)
			d.Reason = "change the image"
			return d, nil
		case audioWords.MatchString(lower):
			d.Intent = artifact.IntentChangeAudio
			d.Parts = artifact.NewPartSet(artifact.PartAudio)
			d.Reason = "change the audio"
			return d, nil
		case mnemonicWords.MatchString(lower) || (d.Mnemonic != nil && d.Scope == artifact.ScopeThisTurn):
			d.Intent = artifact.IntentRefineMnemonic
			d.Parts = artifact.NewPartSet(artifact.PartMnemonic)
			d.Reason = "refine the mnemonic"
			return d, nil
		case explainWords.MatchString(lower) || word != "":
			d.Intent = artifact.IntentExplain
			d.Reason = "explain the current card"
			return d, nil
		}
	}

	if w := singleWord(text); w != "" && !strings.EqualFold(w, in.Current.Word()) {
		return newWord(d, w), nil
	}

	if d.HasStyle() {
		d.Intent = artifact.IntentUpdatePreferences
		d.Scope = artifact.ScopeSessionDefault
		d.Reason = "update style preferences"
		return d, nil
	}
	if smallTalkEN.MatchString(text) || smallTalkCN.MatchString(lower) {
		d.Intent = artifact.IntentSmallTalk
		d.Reason = "small talk"
		return d, nil
	}
	return Decision{}, &ClassificationError{Reason: "no rule matched the message"}
}

func extractWord(text string) string {
	for _, re := range wordPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			w := strings.ToLower(strings.Trim(m[1], "'-"))
			if w != "" && !notWords[w] {
				return w
			}
		}
	}
	return ""
}

// singleWord accepts a message that is nothing but one English word.
func singleWord(text string) string {
	trimmed := strings.Trim(strings.TrimSpace(text), ".!?。！？")
	if !singleToken.MatchString(trimmed) {
		return ""
	}
	w := strings.ToLower(trimmed)
	if notWords[w] {
		return ""
	}
	return w
}

func newWord(d Decision, word string) Decision {
	d.Intent = artifact.IntentNewWord
	d.Word = word
	d.Difficulty = judgeDifficulty(word)
	d.Parts = artifact.NewPartSet(artifact.PartMnemonic, artifact.PartImage, artifact.PartAudio)
	d.Reason = "new word " + word
	return d
}

// judgeDifficulty uses word length as a proxy; anything that does not look
// like an English word is unknown.
func judgeDifficulty(word string) Difficulty {
	if !validWord.MatchString(word) || len(word) > 45 {
		return DifficultyUnknown
	}
	switch n := len(word); {
	case n <= 5:
		return DifficultyEasy
	case n <= 9:
		return DifficultyMedium
	default:
		return DifficultyHard
	}
}

func styleHints(lower string) (*artifact.MnemonicStyle, *artifact.ImageStyle, *artifact.VoiceStyle, string) {
	var (
		m       artifact.MnemonicStyle
		img     artifact.ImageStyle
		v       artifact.VoiceStyle
		profile string
	)
	switch {
	case aggressiveWords.MatchString(lower):
		m.Humor, profile = "aggressive", "aggressive"
	case darkWords.MatchString(lower):
		m.Humor = "dark"
	case funnyWords.MatchString(lower):
		m.Humor, profile = "funny", "funny"
	case simpleWords.MatchString(lower):
		m.Complexity, profile = "simple", "simple_clean"
	}
	if dongbeiWords.MatchString(lower) {
		m.Dialect, profile = "dongbei", "dongbei_funny"
	}

	switch {
	case scaryWords.MatchString(lower):
		img.Mood = "scary"
	case cuteWords.MatchString(lower):
		img.Mood = "cute"
	case calmWords.MatchString(lower):
		img.Mood = "calm"
	}
	switch {
	case realisticWords.MatchString(lower):
		img.Style = "realistic"
	case animeWords.MatchString(lower):
		img.Style = "anime"
	case comicWords.MatchString(lower):
		img.Style = "comic"
	case watercolorWords.MatchString(lower):
		img.Style = "watercolor"
	}
	switch {
	case wideWords.MatchString(lower):
		img.AspectRatio = "16:9"
	case tallWords.MatchString(lower):
		img.AspectRatio = "9:16"
	}

	switch {
	case slowWords.MatchString(lower):
		v.Speed = "slow"
	case fastWords.MatchString(lower):
		v.Speed = "fast"
	}
	switch {
	case femaleWords.MatchString(lower):
		v.Gender = "female"
	case maleWords.MatchString(lower):
		v.Gender = "male"
	}
	switch {
	case energeticWords.MatchString(lower):
		v.Energy = "high"
	case gentleWords.MatchString(lower):
		v.Energy, v.Tone = "low", "gentle"
	}

	var (
		mp *artifact.MnemonicStyle
		ip *artifact.ImageStyle
		vp *artifact.VoiceStyle
	)
	if m.Humor != "" || m.Dialect != "" || m.Complexity != "" {
		mp = &m
	}
	if img.Style != "" || img.Mood != "" || img.AspectRatio != "" {
		ip = &img
	}
	if v.Speed != "" || v.Gender != "" || v.Energy != "" || v.Tone != "" {
		vp = &v
	}
	return mp, ip, vp, profile
}
