package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/capability"
)

var allOn = capability.Features{Image: true, Audio: true}

func ambulanceCard(withImage bool) *artifact.MemoryArtifact {
	a := &artifact.MemoryArtifact{
		Type:      artifact.TypeWordMemory,
		Version:   1,
		WordBlock: &artifact.WordBlock{Word: "ambulance", Homophone: artifact.Homophone{Text: "俺不能死"}},
		Media:     artifact.Media{Audio: &artifact.AudioRef{URL: "https://audio/1.wav"}},
	}
	if withImage {
		a.Media.Image = &artifact.ImageRef{URL: "https://img/1.png"}
	}
	return a
}

type stubClassifier struct {
	decision Decision
	err      error
	calls    int
}

func (s *stubClassifier) Classify(context.Context, Input) (Decision, error) {
	s.calls++
	return s.decision, s.err
}

type stubCompleter struct {
	reply string
	err   error
}

func (s stubCompleter) Complete(context.Context, string, string) (string, error) {
	return s.reply, s.err
}

func TestRuleClassifierNewWord(t *testing.T) {
	d, err := NewRuleClassifier().Classify(context.Background(), Input{Latest: "help me remember the word ambulance"})
	require.NoError(t, err)
	assert.Equal(t, artifact.IntentNewWord, d.Intent)
	assert.Equal(t, "ambulance", d.Word)
	assert.Equal(t, DifficultyMedium, d.Difficulty)
	assert.Equal(t, []artifact.Part{artifact.PartMnemonic, artifact.PartImage, artifact.PartAudio}, d.Parts.List())
}

func TestRuleClassifierFollowUps(t *testing.T) {
	cases := []struct {
		msg    string
		intent artifact.Intent
	}{
		{"make the image scarier", artifact.IntentChangeImage},
		{"换一张图", artifact.IntentChangeImage},
		{"can the voice be slower", artifact.IntentChangeAudio},
		{"make it funnier", artifact.IntentRefineMnemonic},
		{"谐音换一个", artifact.IntentRefineMnemonic},
		{"what does it mean?", artifact.IntentExplain},
		{"from now on use a male voice by default please", artifact.IntentChangeAudio},
		{"thanks!", artifact.IntentSmallTalk},
		{"scarier", artifact.IntentNewWord},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			in := Input{Latest: tc.msg, Current: ambulanceCard(true)}
			if tc.intent == artifact.IntentNewWord {
				in.Current = nil
			}
			d, err := NewRuleClassifier().Classify(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, tc.intent, d.Intent)
		})
	}
}

func TestRuleClassifierStyleHints(t *testing.T) {
	d, err := NewRuleClassifier().Classify(context.Background(), Input{
		Latest:  "make the image scarier",
		Current: ambulanceCard(true),
	})
	require.NoError(t, err)
	require.NotNil(t, d.Image)
	assert.Equal(t, "scary", d.Image.Mood)
	assert.Equal(t, artifact.ScopeThisTurn, d.Scope)

	d, err = NewRuleClassifier().Classify(context.Background(), Input{Latest: "以后都用东北话"})
	require.NoError(t, err)
	assert.Equal(t, artifact.IntentUpdatePreferences, d.Intent)
	assert.Equal(t, artifact.ScopeSessionDefault, d.Scope)
	require.NotNil(t, d.Mnemonic)
	assert.Equal(t, "dongbei", d.Mnemonic.Dialect)
}

func TestRuleClassifierMatchesWholeWords(t *testing.T) {
	cases := []struct {
		msg    string
		intent artifact.Intent
	}{
		{"explain the topic again", artifact.IntentExplain},
		{"explain it like a pro", artifact.IntentExplain},
		{"change the picture", artifact.IntentChangeImage},
		{"two pics please", artifact.IntentChangeImage},
		{"let it narrate more clearly", artifact.IntentChangeAudio},
		{"I need another story", artifact.IntentRefineMnemonic},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			d, err := NewRuleClassifier().Classify(context.Background(), Input{Latest: tc.msg, Current: ambulanceCard(true)})
			require.NoError(t, err)
			assert.Equal(t, tc.intent, d.Intent)
		})
	}

	d, err := NewRuleClassifier().Classify(context.Background(), Input{Latest: "why do I always forget it at breakfast", Current: ambulanceCard(true)})
	require.NoError(t, err)
	assert.Nil(t, d.Voice, "breakfast is not a voice speed")
	assert.Equal(t, artifact.ScopeSessionDefault, d.Scope)

	d, err = NewRuleClassifier().Classify(context.Background(), Input{Latest: "explain it", Current: ambulanceCard(true)})
	require.NoError(t, err)
	assert.Nil(t, d.Mnemonic, "explain does not ask for a plain style")

	d, err = NewRuleClassifier().Classify(context.Background(), Input{Latest: "use a woman's voice, a bit faster", Current: ambulanceCard(true)})
	require.NoError(t, err)
	require.NotNil(t, d.Voice)
	assert.Equal(t, "female", d.Voice.Gender)
	assert.Equal(t, "fast", d.Voice.Speed)
}

func TestRuleClassifierUnknownMessage(t *testing.T) {
	_, err := NewRuleClassifier().Classify(context.Background(), Input{Latest: "what is the weather like in rome today"})
	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
}

func TestLLMClassifierParsesDecision(t *testing.T) {
	c := NewLLMClassifier(stubCompleter{reply: "```json\n" + `{"intent":"change_image","word":null,"difficulty":"medium",
		"need_new_image":true,"image_style":{"mood":"scary"},"scope":"session_default","reason":"scarier"}` + "\n```"})
	d, err := c.Classify(context.Background(), Input{Latest: "scarier pictures from now on", Current: ambulanceCard(true)})
	require.NoError(t, err)
	assert.Equal(t, artifact.IntentChangeImage, d.Intent)
	assert.Equal(t, artifact.ScopeSessionDefault, d.Scope)
	assert.True(t, d.Parts.Has(artifact.PartImage))
	require.NotNil(t, d.Image)
	assert.Equal(t, "scary", d.Image.Mood)
}

func TestLLMClassifierRejectsBadReplies(t *testing.T) {
	for _, reply := range []string{"no json here", `{"intent":"dance"}`, `{"intent":`} {
		_, err := NewLLMClassifier(stubCompleter{reply: reply}).Classify(context.Background(), Input{Latest: "hi"})
		var ce *ClassificationError
		require.ErrorAs(t, err, &ce, "reply %q", reply)
	}
}

func TestFallbackClassifierUsesSecondary(t *testing.T) {
	primary := &stubClassifier{err: &ClassificationError{Reason: "bad json"}}
	secondary := &stubClassifier{decision: Decision{Intent: artifact.IntentSmallTalk}}
	d, err := NewFallbackClassifier(primary, secondary, nil).Classify(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, artifact.IntentSmallTalk, d.Intent)
	assert.Equal(t, 1, secondary.calls)
}

func TestFallbackClassifierDoesNotMaskCancellation(t *testing.T) {
	primary := &stubClassifier{err: context.Canceled}
	secondary := &stubClassifier{decision: Decision{Intent: artifact.IntentSmallTalk}}
	_, err := NewFallbackClassifier(primary, secondary, nil).Classify(context.Background(), Input{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, secondary.calls)
}

func TestRouteNewWordRequestsEveryEnabledPart(t *testing.T) {
	r := NewRouter(NewRuleClassifier(), RouterConfig{}, nil)
	d, err := r.Route(context.Background(), Input{Latest: "help me remember the word ambulance", Features: allOn})
	require.NoError(t, err)
	assert.Equal(t, artifact.IntentNewWord, d.Intent)
	assert.Equal(t, []artifact.Part{artifact.PartMnemonic, artifact.PartImage, artifact.PartAudio}, d.Parts.List())

	d, err = r.Route(context.Background(), Input{Latest: "help me remember the word ambulance", Features: capability.Features{Audio: true}})
	require.NoError(t, err)
	assert.Equal(t, []artifact.Part{artifact.PartMnemonic, artifact.PartAudio}, d.Parts.List())
	assert.Contains(t, d.Reason, "image disabled by config")
}

func TestRouteChangeImageTouchesOnlyImage(t *testing.T) {
	r := NewRouter(NewRuleClassifier(), RouterConfig{}, nil)
	d, err := r.Route(context.Background(), Input{
		Latest:   "make the image scarier",
		Current:  ambulanceCard(true),
		Features: allOn,
	})
	require.NoError(t, err)
	assert.Equal(t, artifact.IntentChangeImage, d.Intent)
	assert.Equal(t, []artifact.Part{artifact.PartImage}, d.Parts.List())
	assert.Equal(t, "ambulance", d.Word)
}

func TestRouteClassificationFailureIsOutOfScope(t *testing.T) {
	r := NewRouter(&stubClassifier{err: &ClassificationError{Reason: "gibberish"}}, RouterConfig{}, nil)
	d, err := r.Route(context.Background(), Input{Latest: "???", Features: allOn})
	require.NoError(t, err)
	assert.Equal(t, artifact.IntentOutOfScope, d.Intent)
	assert.True(t, d.Parts.Empty())
	assert.Contains(t, d.Reason, "low confidence")
}

func TestRouteReturnsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRouter(&stubClassifier{err: errors.New("boom")}, RouterConfig{}, nil)
	_, err := r.Route(ctx, Input{Latest: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRoutePolicy(t *testing.T) {
	cases := []struct {
		name    string
		cfg     RouterConfig
		in      Input
		dec     Decision
		intent  artifact.Intent
		parts   []artifact.Part
		checkFn func(t *testing.T, d Decision)
	}{
		{
			name:   "unknown difficulty is not a word",
			dec:    Decision{Intent: artifact.IntentNewWord, Word: "xqzzt", Difficulty: DifficultyUnknown},
			intent: artifact.IntentOutOfScope,
			parts:  []artifact.Part{},
			checkFn: func(t *testing.T, d Decision) {
				assert.Contains(t, d.Reason, "not recognised as a valid word")
			},
		},
		{
			name:   "new word without a word",
			dec:    Decision{Intent: artifact.IntentNewWord, Difficulty: DifficultyEasy},
			intent: artifact.IntentOutOfScope,
			parts:  []artifact.Part{},
		},
		{
			name:   "hard word forces image",
			dec:    Decision{Intent: artifact.IntentNewWord, Word: "onomatopoeia", Difficulty: DifficultyHard, Parts: artifact.NewPartSet(artifact.PartMnemonic)},
			intent: artifact.IntentNewWord,
			parts:  []artifact.Part{artifact.PartMnemonic, artifact.PartImage, artifact.PartAudio},
		},
		{
			name:   "easy word keeps image by default",
			dec:    Decision{Intent: artifact.IntentNewWord, Word: "cat", Difficulty: DifficultyEasy, Parts: artifact.NewPartSet(artifact.PartMnemonic, artifact.PartImage)},
			intent: artifact.IntentNewWord,
			parts:  []artifact.Part{artifact.PartMnemonic, artifact.PartImage, artifact.PartAudio},
		},
		{
			name:   "easy word skips image when configured",
			cfg:    RouterConfig{SkipImageForEasyWords: true},
			dec:    Decision{Intent: artifact.IntentNewWord, Word: "cat", Difficulty: DifficultyEasy, Parts: artifact.NewPartSet(artifact.PartMnemonic, artifact.PartImage)},
			intent: artifact.IntentNewWord,
			parts:  []artifact.Part{artifact.PartMnemonic, artifact.PartAudio},
		},
		{
			name:   "change without a card",
			dec:    Decision{Intent: artifact.IntentChangeAudio, Parts: artifact.NewPartSet(artifact.PartAudio)},
			intent: artifact.IntentOutOfScope,
			parts:  []artifact.Part{},
		},
		{
			name:   "refine refreshes audio and existing image",
			in:     Input{Current: ambulanceCard(true)},
			dec:    Decision{Intent: artifact.IntentRefineMnemonic},
			intent: artifact.IntentRefineMnemonic,
			parts:  []artifact.Part{artifact.PartMnemonic, artifact.PartImage, artifact.PartAudio},
		},
		{
			name:   "refine without image keeps image off",
			in:     Input{Current: ambulanceCard(false)},
			dec:    Decision{Intent: artifact.IntentRefineMnemonic},
			intent: artifact.IntentRefineMnemonic,
			parts:  []artifact.Part{artifact.PartMnemonic, artifact.PartAudio},
		},
		{
			name:   "explain carries no parts",
			in:     Input{Current: ambulanceCard(true)},
			dec:    Decision{Intent: artifact.IntentExplain, Parts: artifact.NewPartSet(artifact.PartImage)},
			intent: artifact.IntentExplain,
			parts:  []artifact.Part{},
		},
		{
			name:   "aggressive humor downgraded",
			dec:    Decision{Intent: artifact.IntentUpdatePreferences, StyleProfileID: "aggressive", Mnemonic: &artifact.MnemonicStyle{Humor: "aggressive"}},
			intent: artifact.IntentUpdatePreferences,
			parts:  []artifact.Part{},
			checkFn: func(t *testing.T, d Decision) {
				require.NotNil(t, d.Mnemonic)
				assert.Equal(t, "dark", d.Mnemonic.Humor)
				assert.Contains(t, d.Reason, "downgraded")
			},
		},
		{
			name:   "aggressive humor allowed",
			cfg:    RouterConfig{AllowStrongAggressive: true},
			dec:    Decision{Intent: artifact.IntentUpdatePreferences, Mnemonic: &artifact.MnemonicStyle{Humor: "aggressive"}},
			intent: artifact.IntentUpdatePreferences,
			parts:  []artifact.Part{},
			checkFn: func(t *testing.T, d Decision) {
				assert.Equal(t, "aggressive", d.Mnemonic.Humor)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			in.Features = allOn
			r := NewRouter(&stubClassifier{decision: tc.dec}, tc.cfg, nil)
			d, err := r.Route(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, tc.intent, d.Intent)
			assert.Equal(t, tc.parts, d.Parts.List())
			assert.NotEmpty(t, d.Reason)
			if tc.checkFn != nil {
				tc.checkFn(t, d)
			}
		})
	}
}
