package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/storage"
)

const (
	defaultRecordLimit = 10
	maxRecordLimit     = 50
	allSessions        = "all"
)

type recordsResponse struct {
	SessionID string           `json:"session_id"`
	Count     int              `json:"count"`
	Records   []storage.Record `json:"records"`
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage not configured")
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}

	cfg := s.storage.Defaults()
	var recs []storage.Record
	if sessionID == allSessions {
		ids, err := s.storage.SessionIDs(r.Context(), cfg, 0)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
			return
		}
		for _, id := range ids {
			got, err := s.storage.Records(r.Context(), cfg, id, limit)
			if err != nil {
				s.logger.Warn("read session records failed", zap.String("session_id", id), zap.Error(err))
				continue
			}
			recs = append(recs, got...)
		}
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].CachedAt.Equal(recs[j].CachedAt) {
				return recs[i].RecordID > recs[j].RecordID
			}
			return recs[i].CachedAt.After(recs[j].CachedAt)
		})
		if len(recs) > limit {
			recs = recs[:limit]
		}
	} else {
		recs, err = s.storage.Records(r.Context(), cfg, sessionID, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
			return
		}
	}

	if len(recs) == 0 {
		respondError(w, http.StatusNotFound, "no_records", "no cached records for "+sessionID)
		return
	}
	respondJSON(w, http.StatusOK, recordsResponse{SessionID: sessionID, Count: len(recs), Records: recs})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage not configured")
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	recordID := chi.URLParam(r, "record_id")
	rec, err := s.storage.Record(r.Context(), s.storage.Defaults(), sessionID, recordID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "record_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultRecordLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if n < 1 || n > maxRecordLimit {
		return 0, errors.New("limit must be between 1 and 50")
	}
	return n, nil
}

// mediaHandler serves mirrored media when the local_fs mirror is on.
func (s *Server) mediaHandler() http.Handler {
	if s.storage == nil {
		return nil
	}
	root := s.storage.Defaults().LocalMediaRoot()
	if root == "" {
		return nil
	}
	return http.StripPrefix("/media/", http.FileServer(http.Dir(root)))
}
