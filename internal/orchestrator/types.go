package orchestrator

import (
	"errors"
	"time"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/capability"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/storage"
)

var (
	// ErrTurnCancelled means the caller stopped the turn before it was
	// committed. The session keeps its pre-turn artifact.
	ErrTurnCancelled = errors.New("turn cancelled")
	ErrNoUserMessage = errors.New("turn has no user message")
)

// TurnRequest is one inbound turn: the ordered history plus optional
// per-request overrides of storage and feature settings.
type TurnRequest struct {
	SessionID string                      `json:"session_id"`
	Messages  []artifact.Turn             `json:"messages"`
	Storage   *storage.Override           `json:"storage,omitempty"`
	Features  *capability.FeatureOverride `json:"features,omitempty"`
}

// TurnResponse carries the reply and, when there is one, the artifact the
// turn produced or kept.
type TurnResponse struct {
	SessionID string                   `json:"session_id"`
	TurnID    string                   `json:"turn_id"`
	ReplyText string                   `json:"reply_text"`
	Artifact  *artifact.MemoryArtifact `json:"final_output,omitempty"`
	RecordID  string                   `json:"record_id,omitempty"`
}

type Config struct {
	Defaults              artifact.Styles
	AllowPreferenceUpdate bool
	TurnTimeout           time.Duration
	PersistTimeout        time.Duration
}

const defaultPersistTimeout = 10 * time.Second

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Defaults:              DefaultStyles(cfg.Defaults),
		AllowPreferenceUpdate: cfg.Preferences.AllowUpdate,
		TurnTimeout:           cfg.App.TurnTimeout,
		PersistTimeout:        cfg.App.PersistTimeout,
	}
}
