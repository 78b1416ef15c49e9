package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/orchestrator"
	"github.com/ent0n29/mnemo/internal/protocol"
	"github.com/ent0n29/mnemo/internal/session"
)

// statusClientClosedRequest reports a turn that was cancelled before it
// completed.
const statusClientClosedRequest = 499

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.orchestrator.RunTurn(r.Context(), req)
	if err != nil {
		status, code := turnErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func turnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrNoUserMessage):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrTurnInFlight):
		return http.StatusConflict, "turn_in_flight"
	case errors.Is(err, orchestrator.ErrTurnCancelled):
		return statusClientClosedRequest, "turn_cancelled"
	default:
		return http.StatusInternalServerError, "turn_failed"
	}
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(strings.TrimSpace(r.URL.Query().Get("session_id")))
	sessionID := sess.ID

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				s.metrics.ObserveWSMessage("outbound", messageTypeOf(msg))
			}
		}
	}()

	send := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	// Turns run one at a time in arrival order. Closing the connection
	// drops whatever is still queued.
	turnCtx, turnCancel := context.WithCancel(ctx)
	defer turnCancel()
	turns := &wsTurnQueue{pending: make(chan protocol.TurnRequest, maxQueuedTurns), done: make(chan struct{})}
	go func() {
		defer close(turns.done)
		for m := range turns.pending {
			if turnCtx.Err() != nil {
				continue
			}
			turns.running.Store(true)
			s.runWSTurn(turnCtx, sessionID, m, send)
			turns.running.Store(false)
		}
	}()

	s.readLoop(ctx, conn, sessionID, send, turns)

	turnCancel()
	// A client that disconnects mid-turn cancels it.
	if turns.running.Load() {
		if _, err := s.orchestrator.Cancel(sessionID); err == nil {
			s.logger.Info("cancelled turn on disconnect", zap.String("session_id", sessionID))
		}
	}
	close(turns.pending)
	<-turns.done
	cancel()
	<-writerDone
}

// maxQueuedTurns bounds the turn requests one websocket connection may have
// waiting behind the running turn.
const maxQueuedTurns = 8

type wsTurnQueue struct {
	pending chan protocol.TurnRequest
	running atomic.Bool
	done    chan struct{}
}

// enqueue reports false when the queue is full.
func (q *wsTurnQueue) enqueue(m protocol.TurnRequest) bool {
	select {
	case q.pending <- m:
		return true
	default:
		return false
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, send func(any), turns *wsTurnQueue) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.ParseClientMessage(raw)
		if err != nil {
			s.metrics.ObserveWSMessage("inbound", "invalid")
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_message",
				Source:    "protocol",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		s.metrics.ObserveWSMessage("inbound", messageTypeOf(msg))

		switch m := msg.(type) {
		case protocol.TurnRequest:
			if !turns.enqueue(m) {
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "queue_full",
					Source:    "session",
					Retryable: true,
					Detail:    fmt.Sprintf("%d turns already queued", maxQueuedTurns),
				})
			}
		case protocol.ClientControl:
			if m.Action != protocol.ActionCancel {
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "unsupported_action",
					Source:    "protocol",
					Detail:    m.Action,
				})
				continue
			}
			if _, err := s.orchestrator.Cancel(sessionID); err != nil {
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "no_active_turn",
					Source:    "session",
					Detail:    err.Error(),
				})
			}
		}
	}
}

// runWSTurn runs one turn for the websocket session. The connection's
// session id wins over whatever the client put in the message.
func (s *Server) runWSTurn(ctx context.Context, sessionID string, m protocol.TurnRequest, send func(any)) {
	send(protocol.TurnStarted{Type: protocol.TypeTurnStarted, SessionID: sessionID})

	resp, err := s.orchestrator.RunTurn(ctx, orchestrator.TurnRequest{
		SessionID: sessionID,
		Messages:  m.Messages,
		Storage:   m.Storage,
		Features:  m.Features,
	})
	if err != nil {
		_, code := turnErrorStatus(err)
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      code,
			Source:    "orchestrator",
			Retryable: code == "turn_in_flight" || code == "turn_cancelled",
			Detail:    err.Error(),
		})
		return
	}
	send(protocol.TurnResult{
		Type:      protocol.TypeTurnResult,
		SessionID: resp.SessionID,
		TurnID:    resp.TurnID,
		ReplyText: resp.ReplyText,
		Artifact:  resp.Artifact,
		RecordID:  resp.RecordID,
	})
}

func messageTypeOf(msg any) string {
	switch m := msg.(type) {
	case protocol.TurnRequest:
		return string(protocol.TypeTurnRequest)
	case protocol.ClientControl:
		return string(protocol.TypeClientControl)
	case protocol.TurnStarted:
		return string(protocol.TypeTurnStarted)
	case protocol.TurnResult:
		return string(protocol.TypeTurnResult)
	case protocol.ErrorEvent:
		return string(protocol.TypeErrorEvent)
	case json.RawMessage:
		var env protocol.Envelope
		if err := json.Unmarshal(m, &env); err == nil && env.Type != "" {
			return string(env.Type)
		}
		return "raw"
	default:
		return "unknown"
	}
}
