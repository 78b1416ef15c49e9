package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/capability"
	"github.com/ent0n29/mnemo/internal/intent"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/session"
	"github.com/ent0n29/mnemo/internal/skills"
	"github.com/ent0n29/mnemo/internal/storage"
)

// SkillSelector picks the skill document injected into the text prompt.
// *skills.Catalog satisfies it.
type SkillSelector interface {
	Select(ctx context.Context, query string) (skills.Selection, bool)
}

// Deps are the collaborators of an Orchestrator. Skills may be nil.
type Deps struct {
	Router       *intent.Router
	Capabilities *capability.Set
	Skills       SkillSelector
	Sessions     *session.Manager
	States       session.StateStore
	Storage      *storage.Manager
	Logger       *zap.Logger
	Metrics      *observability.Metrics
}

// Orchestrator runs turns: classify, generate text, fan out media, merge,
// mirror, commit, and hand the record to storage in the background.
type Orchestrator struct {
	cfg      Config
	router   *intent.Router
	caps     *capability.Set
	skills   SkillSelector
	sessions *session.Manager
	states   session.StateStore
	storage  *storage.Manager
	logger   *zap.Logger
	metrics  *observability.Metrics

	persisting sync.WaitGroup
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Router == nil || deps.Capabilities == nil {
		return nil, errors.New("orchestrator needs a router and capabilities")
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(0)
	}
	if deps.States == nil {
		deps.States = session.NewMemoryStateStore()
	}
	if deps.Storage == nil {
		deps.Storage = storage.NewManager(storage.Config{})
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return &Orchestrator{
		cfg:      cfg,
		router:   deps.Router,
		caps:     deps.Capabilities,
		skills:   deps.Skills,
		sessions: deps.Sessions,
		states:   deps.States,
		storage:  deps.Storage,
		logger:   observability.OrNop(deps.Logger),
		metrics:  deps.Metrics,
	}, nil
}

func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

func (o *Orchestrator) Storage() *storage.Manager { return o.storage }

// State returns the committed state of a session.
func (o *Orchestrator) State(ctx context.Context, sessionID string) (session.State, error) {
	return o.states.Load(ctx, sessionID)
}

// Cancel stops the in-flight turn of a session and returns its id.
func (o *Orchestrator) Cancel(sessionID string) (string, error) {
	turnID, err := o.sessions.Cancel(sessionID)
	if err == nil {
		o.metrics.ObserveSessionEvent("turn_cancel_requested")
	}
	return turnID, err
}

// Wait blocks until every background persist has finished.
func (o *Orchestrator) Wait() {
	o.persisting.Wait()
}

// RunTurn processes one turn. Only one turn per session runs at a time;
// a second concurrent call gets session.ErrTurnInFlight. Capability and
// storage failures degrade the response instead of failing it; the
// returned error is reserved for cancellation, bad input and state store
// failures.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	if artifact.LatestUserText(req.Messages) == "" {
		return TurnResponse{}, ErrNoUserMessage
	}
	s := o.sessions.Ensure(req.SessionID)
	turnID := uuid.NewString()

	var turnCtx context.Context
	var cancel context.CancelFunc
	if o.cfg.TurnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
	} else {
		turnCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := o.sessions.BeginTurn(s.ID, turnID, cancel); err != nil {
		return TurnResponse{}, err
	}
	defer o.sessions.EndTurn(s.ID, turnID)

	started := time.Now()
	resp, intentName, err := o.runTurn(turnCtx, s.ID, turnID, req)
	o.metrics.ObserveTurnStage("turn_total", time.Since(started))
	if err != nil {
		if turnCtx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			o.metrics.ObserveTurn(intentName, "cancelled")
			o.metrics.ObserveSessionEvent("turn_cancelled")
			o.logger.Info("turn cancelled", zap.String("session_id", s.ID), zap.String("turn_id", turnID))
			return TurnResponse{SessionID: s.ID, TurnID: turnID}, fmt.Errorf("%w: %v", ErrTurnCancelled, err)
		}
		o.metrics.ObserveTurn(intentName, "error")
		return TurnResponse{SessionID: s.ID, TurnID: turnID}, err
	}
	return resp, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, sessionID, turnID string, req TurnRequest) (TurnResponse, string, error) {
	intentName := "unknown"
	st, err := o.states.Load(ctx, sessionID)
	if err != nil {
		return TurnResponse{}, intentName, fmt.Errorf("load session state: %w", err)
	}

	features := o.caps.Features.Apply(req.Features)
	storageCfg := o.storage.Resolve(req.Storage)
	latest := artifact.LatestUserText(req.Messages)

	stageStart := time.Now()
	d, err := o.router.Route(ctx, intent.Input{
		History:     req.Messages,
		Latest:      latest,
		Current:     st.Artifact,
		Preferences: st.Preferences,
		Features:    features,
	})
	o.metrics.ObserveTurnStage("classify", time.Since(stageStart))
	if err != nil {
		return TurnResponse{}, intentName, err
	}
	intentName = string(d.Intent)

	prefs := st.Preferences
	prefsSaved := false
	if d.HasStyle() && (d.Scope == artifact.ScopeSessionDefault || d.Intent == artifact.IntentUpdatePreferences) {
		if o.cfg.AllowPreferenceUpdate {
			prefs = prefs.Merge(d.Styles())
			prefsSaved = true
		} else {
			d.Reason = appendReason(d.Reason, "(preference update disabled by config)")
		}
	}
	styles := resolveStyles(o.cfg.Defaults, prefs, d)

	resp := TurnResponse{SessionID: sessionID, TurnID: turnID}
	outcome := "ok"
	commit := prefsSaved

	if !d.Intent.Generative() {
		resp.Artifact = passiveArtifact(st.Artifact, d)
	} else {
		next, ok, err := o.generate(ctx, st, d, styles, features, latest)
		if err != nil {
			return TurnResponse{}, intentName, err
		}
		if !ok {
			outcome = "text_failed"
			resp.Artifact = next
		} else {
			stageStart = time.Now()
			next = o.storage.MirrorMedia(ctx, storageCfg, sessionID, next)
			o.metrics.ObserveTurnStage("mirror", time.Since(stageStart))
			resp.Artifact = next
			if len(next.Status.UpdatedParts) == 0 {
				// Every requested part failed: the committed card stays as it was.
				outcome = "degraded"
			} else {
				st.Artifact = next
				if !st.SeenWord(d.Word) {
					st.Words = append(st.Words, d.Word)
				}
				commit = true
			}
		}
	}

	// Last point where a cancel still leaves the session untouched.
	if err := ctx.Err(); err != nil {
		return TurnResponse{}, intentName, err
	}
	if commit {
		st.Preferences = prefs
		if err := o.states.Commit(ctx, st, st.Version); err != nil {
			return TurnResponse{}, intentName, fmt.Errorf("commit session state: %w", err)
		}
	}

	resp.ReplyText = buildReply(resp.Artifact, prefsSaved)
	resp.RecordID = storage.NewRecordID(time.Now())
	o.persistBestEffort(storageCfg, storage.Record{
		SessionID: sessionID,
		RecordID:  resp.RecordID,
		CachedAt:  time.Now().UTC(),
		Request:   storage.Request{Messages: req.Messages},
		Response:  storage.Response{TurnID: turnID, ReplyText: resp.ReplyText, Artifact: resp.Artifact},
	})
	o.metrics.ObserveTurn(intentName, outcome)
	o.logger.Info("turn completed",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.String("intent", intentName),
		zap.String("outcome", outcome),
		zap.String("reason", resp.Artifact.Status.Reason),
	)
	return resp, intentName, nil
}

// generate runs the text step and the media fan-out. ok is false when the
// text step failed; the returned artifact is then status-only and must not
// be committed.
func (o *Orchestrator) generate(ctx context.Context, st session.State, d intent.Decision, styles artifact.Styles, features capability.Features, latest string) (*artifact.MemoryArtifact, bool, error) {
	var gen generation
	var wordBlock *artifact.WordBlock
	if st.Artifact != nil && st.Artifact.WordBlock != nil {
		wb := *st.Artifact.WordBlock
		wordBlock = &wb
	}

	if d.Parts.Has(artifact.PartMnemonic) {
		stageStart := time.Now()
		req := capability.MnemonicRequest{
			Word:        d.Word,
			Style:       *styles.Mnemonic,
			Instruction: latest,
		}
		if sel, ok := o.selectSkill(ctx, d.Word+" "+latest); ok {
			req.Skill = skills.Inject(sel.Document)
			o.metrics.ObserveTurnIndicator("skill_hit")
		} else {
			o.metrics.ObserveTurnIndicator("skill_miss")
		}
		if d.Intent == artifact.IntentRefineMnemonic && wordBlock != nil {
			req.Previous = wordBlock
		}
		o.metrics.ObserveTurnStage("skills", time.Since(stageStart))

		stageStart = time.Now()
		wb, err := o.caps.WordBlock(ctx, req)
		o.metrics.ObserveTurnStage("text", time.Since(stageStart))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, false, ctxErr
			}
			o.logger.Warn("text capability failed", zap.String("word", d.Word), zap.Error(err))
			reason := appendReason(d.Reason, "text generation failed: "+err.Error())
			return artifact.StatusOnly(d.Intent, d.Scope, reason), false, nil
		}
		if strings.TrimSpace(wb.Word) == "" {
			wb.Word = d.Word
		}
		gen.wordBlock = &wb
		wordBlock = &wb
	}
	if wordBlock == nil {
		return artifact.StatusOnly(d.Intent, d.Scope, appendReason(d.Reason, "no mnemonic text to illustrate")), false, nil
	}

	stageStart := time.Now()
	var imageErr, audioErr error
	var g errgroup.Group
	if d.Parts.Has(artifact.PartImage) {
		g.Go(func() error {
			res, err := o.caps.GenerateImage(ctx, features.Image, capability.ImageRequest{
				Word:        d.Word,
				Homophone:   wordBlock.Homophone.Text,
				Story:       wordBlock.Story,
				Style:       *styles.Image,
				Instruction: latest,
			})
			if err != nil {
				imageErr = err
				return nil
			}
			gen.image = &res
			return nil
		})
	}
	if d.Parts.Has(artifact.PartAudio) {
		g.Go(func() error {
			voice := *styles.Voice
			voice.PresetID = capability.ResolveVoicePreset(voice.PresetID, features.PremiumVoices)
			res, err := o.caps.Synthesize(ctx, features.Audio, capability.AudioRequest{
				Word:     d.Word,
				Mnemonic: wordBlock.Homophone.Text,
				Story:    wordBlock.Story,
				Voice:    voice,
				PresetID: voice.PresetID,
			})
			if err != nil {
				audioErr = err
				return nil
			}
			gen.audio = &res
			return nil
		})
	}
	_ = g.Wait()
	o.metrics.ObserveTurnStage("media", time.Since(stageStart))
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	gen.reasons = append(gen.reasons, o.mediaReason("image", d.Word, imageErr), o.mediaReason("audio", d.Word, audioErr))

	firstTime := !st.SeenWord(d.Word)
	return merge(st.Artifact, d, styles, gen, firstTime, time.Now().UTC()), true, nil
}

func (o *Orchestrator) selectSkill(ctx context.Context, query string) (skills.Selection, bool) {
	if o.skills == nil {
		return skills.Selection{}, false
	}
	return o.skills.Select(ctx, query)
}

func (o *Orchestrator) mediaReason(part, word string, err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, capability.ErrSkipped):
		return fmt.Sprintf("(%s skipped: disabled)", part)
	default:
		o.metrics.ObserveTurnIndicator(part + "_failed")
		o.logger.Warn(part+" capability failed", zap.String("word", word), zap.Error(err))
		return fmt.Sprintf("%s generation failed: %v", part, err)
	}
}

// passiveArtifact is the response artifact of a turn that generates
// nothing: the current card with this turn's status, or a status-only
// artifact when the turn is unrelated to a card.
func passiveArtifact(current *artifact.MemoryArtifact, d intent.Decision) *artifact.MemoryArtifact {
	switch d.Intent {
	case artifact.IntentExplain, artifact.IntentUpdatePreferences:
		if current != nil && current.WordBlock != nil {
			out := current.Clone()
			out.Status = artifact.Status{
				Intent:       d.Intent,
				UpdatedParts: []artifact.Part{},
				Scope:        d.Scope,
				Reason:       d.Reason,
			}
			return out
		}
	}
	return artifact.StatusOnly(d.Intent, d.Scope, d.Reason)
}

func (o *Orchestrator) persistBestEffort(cfg storage.Config, rec storage.Record) {
	o.persisting.Add(1)
	go func() {
		defer o.persisting.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PersistTimeout)
		defer cancel()
		o.storage.Persist(ctx, cfg, rec)
	}()
}
