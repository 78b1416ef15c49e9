package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/mnemo/internal/artifact"
)

// Record is one request/response pair as written to every tier. It is
// written once and never mutated.
type Record struct {
	SessionID string    `json:"session_id"`
	RecordID  string    `json:"record_id"`
	CachedAt  time.Time `json:"cached_at"`
	Request   Request   `json:"request"`
	Response  Response  `json:"response"`
}

type Request struct {
	Messages []artifact.Turn `json:"messages"`
}

type Response struct {
	TurnID    string                   `json:"turn_id,omitempty"`
	ReplyText string                   `json:"reply_text"`
	Artifact  *artifact.MemoryArtifact `json:"final_output,omitempty"`
}

// Word returns the card word carried by the response, if any.
func (r Record) Word() string {
	return r.Response.Artifact.Word()
}

// NewRecordID builds a sortable record id: creation millis plus a random
// suffix.
func NewRecordID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// SanitizeKey keeps [A-Za-z0-9_-] so a session or record id is safe as a
// single path element or object key segment.
func SanitizeKey(v string) string {
	var b strings.Builder
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}
