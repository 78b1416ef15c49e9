package intent

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/artifact"
)

// RouterConfig holds the policy switches applied after classification.
type RouterConfig struct {
	AllowStrongAggressive bool
	SkipImageForEasyWords bool
}

// Router classifies a turn and then enforces the decision policy: which
// parts must be regenerated, given the current card and feature flags.
type Router struct {
	classifier Classifier
	cfg        RouterConfig
	logger     *zap.Logger
}

func NewRouter(classifier Classifier, cfg RouterConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{classifier: classifier, cfg: cfg, logger: logger}
}

// Route returns the final decision for a turn. Classification failures
// become out_of_scope decisions; only caller cancellation is returned as
// an error.
func (r *Router) Route(ctx context.Context, in Input) (Decision, error) {
	d, err := r.classifier.Classify(ctx, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return Decision{}, err
		}
		r.logger.Info("turn classified out of scope", zap.Error(err))
		return outOfScope("low confidence: " + classificationReason(err)), nil
	}
	return r.apply(d, in), nil
}

func (r *Router) apply(d Decision, in Input) Decision {
	if !d.Intent.Valid() {
		return outOfScope("low confidence: unknown intent")
	}
	if d.Parts == nil {
		d.Parts = artifact.NewPartSet()
	} else {
		d.Parts = d.Parts.Clone()
	}
	if d.Scope == "" {
		d.Scope = artifact.ScopeThisTurn
	}
	if d.Difficulty == "" {
		d.Difficulty = DifficultyUnknown
	}
	d.Word = strings.ToLower(strings.TrimSpace(d.Word))
	if d.Word == "" {
		d.Word = in.Current.Word()
	}

	switch d.Intent {
	case artifact.IntentNewWord:
		if d.Word == "" {
			return outOfScope("no target word found in the request")
		}
		if d.Difficulty == DifficultyUnknown {
			return outOfScope(d.Word + " is not recognised as a valid word")
		}
		d.Parts.Add(artifact.PartMnemonic)
		switch d.Difficulty {
		case DifficultyMedium, DifficultyHard:
			d.Parts.Add(artifact.PartImage)
		case DifficultyEasy:
			if r.cfg.SkipImageForEasyWords {
				d.Parts.Remove(artifact.PartImage)
			}
		}
	case artifact.IntentRefineMnemonic, artifact.IntentChangeImage, artifact.IntentChangeAudio, artifact.IntentExplain:
		if !in.HasCard() {
			return outOfScope("there is no memory card in this session yet; name a word first")
		}
		d.Word = in.Current.Word()
		switch d.Intent {
		case artifact.IntentRefineMnemonic:
			d.Parts.Add(artifact.PartMnemonic)
		case artifact.IntentChangeImage:
			d.Parts = artifact.NewPartSet(artifact.PartImage)
		case artifact.IntentChangeAudio:
			d.Parts = artifact.NewPartSet(artifact.PartAudio)
		}
	}

	switch d.Intent {
	case artifact.IntentOutOfScope, artifact.IntentSmallTalk, artifact.IntentUpdatePreferences, artifact.IntentExplain:
		d.Parts = artifact.NewPartSet()
	}

	// A new mnemonic invalidates the narration and any existing picture.
	if d.Parts.Has(artifact.PartMnemonic) {
		d.Parts.Add(artifact.PartAudio)
		hadImage := in.Current != nil && in.Current.Media.Image != nil && d.Intent != artifact.IntentNewWord
		if hadImage {
			d.Parts.Add(artifact.PartImage)
		}
	}

	if d.Parts.Has(artifact.PartImage) && !in.Features.Image {
		d.Parts.Remove(artifact.PartImage)
		d.Reason = appendReason(d.Reason, "(image disabled by config)")
	}
	if d.Parts.Has(artifact.PartAudio) && !in.Features.Audio {
		d.Parts.Remove(artifact.PartAudio)
		d.Reason = appendReason(d.Reason, "(audio disabled by config)")
	}

	if !r.cfg.AllowStrongAggressive {
		aggressive := d.StyleProfileID == "aggressive" || (d.Mnemonic != nil && d.Mnemonic.Humor == "aggressive")
		if aggressive {
			if d.Mnemonic != nil {
				m := *d.Mnemonic
				m.Humor = "dark"
				d.Mnemonic = &m
			} else {
				d.Mnemonic = &artifact.MnemonicStyle{Humor: "dark"}
			}
			if d.StyleProfileID == "aggressive" {
				d.StyleProfileID = "funny"
			}
			d.Reason = appendReason(d.Reason, "(aggressive humor downgraded to dark)")
		}
	}

	if d.Reason == "" {
		d.Reason = string(d.Intent)
	}
	return d
}

func outOfScope(reason string) Decision {
	return Decision{
		Intent:     artifact.IntentOutOfScope,
		Difficulty: DifficultyUnknown,
		Parts:      artifact.NewPartSet(),
		Scope:      artifact.ScopeThisTurn,
		Reason:     reason,
	}
}

func classificationReason(err error) string {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}

func appendReason(reason, suffix string) string {
	if reason == "" {
		return strings.TrimSpace(suffix)
	}
	return reason + " " + suffix
}
