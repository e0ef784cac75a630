package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/gateway"
	"github.com/sjawhar/ghost-interviewer/internal/session"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
	"github.com/sjawhar/ghost-interviewer/internal/stt"
)

const (
	TransportWebSocket = "websocket"
	TransportLiveKit   = "livekit"

	defaultListLimit = 50
	stopTimeout      = 10 * time.Second
	tokenTTL         = 2 * time.Hour
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type createSessionRequest struct {
	CandidateID string   `json:"candidate_id"`
	Mode        string   `json:"mode"`
	Script      []string `json:"script"`
	Transport   string   `json:"transport"`
}

type createSessionResponse struct {
	ID        string `json:"id"`
	Transport string `json:"transport"`
	RoomURL   string `json:"room_url,omitempty"`
	LiveKit   string `json:"livekit_url,omitempty"`
}

type answerRequest struct {
	Text string `json:"text"`
}

func registerAPIRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
			return
		}
		transport := strings.ToLower(strings.TrimSpace(req.Transport))
		if transport == "" {
			transport = TransportWebSocket
		}
		if transport != TransportWebSocket && transport != TransportLiveKit {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown transport %q", req.Transport))
			return
		}
		if transport == TransportLiveKit && d.JoinLiveKit == nil {
			writeJSONError(w, http.StatusBadRequest, "livekit transport is not configured")
			return
		}

		s, err := d.Sessions.Create(r.Context(), session.Params{
			CandidateID: req.CandidateID,
			Mode:        dialogue.Mode(req.Mode),
			Script:      req.Script,
		})
		if err != nil {
			writeJSONError(w, createStatus(err), err.Error())
			return
		}

		resp := createSessionResponse{ID: s.ID(), Transport: transport}
		switch transport {
		case TransportLiveKit:
			rm, err := d.JoinLiveKit(r.Context(), s.ID())
			if err == nil {
				err = d.Sessions.Attach(s.ID(), rm)
			}
			if err != nil {
				d.Log.WithError(err).WithField("session", s.ID()).Error("join livekit room failed")
				stopSession(d.Sessions, s.ID())
				writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("join livekit room: %v", err))
				return
			}
			if d.LiveKit != nil {
				resp.LiveKit = d.LiveKit.URL()
			}
		default:
			resp.RoomURL = "/ws/room/" + s.ID()
		}
		writeJSON(w, http.StatusCreated, resp)
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		stored := []session.Record{}
		if d.Store != nil {
			records, err := d.Store.ListSessions(limit)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
				return
			}
			stored = records
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"live":     d.Sessions.List(),
			"sessions": stored,
		})
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		if s, ok := d.Sessions.Get(sessionID); ok {
			info := s.Info()
			messages := info.Messages
			info.Messages = nil
			writeJSON(w, http.StatusOK, map[string]any{
				"live":     true,
				"session":  info,
				"messages": nonNil(messages),
			})
			return
		}

		if d.Store == nil {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		rec, err := d.Store.GetSession(sessionID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get session: %v", err))
			return
		}
		messages, err := d.Store.GetMessages(sessionID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session messages: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"live":     false,
			"session":  rec,
			"messages": nonNil(messages),
		})
	})

	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
		defer cancel()

		err := d.Sessions.Stop(ctx, sessionID)
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeJSONError(w, http.StatusNotFound, "session not found")
		case err != nil:
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stop session: %v", err))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	mux.HandleFunc("POST /api/sessions/{id}/answer", func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
			return
		}

		err := d.Sessions.SubmitAnswer(r.PathValue("id"), req.Text)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		case errors.Is(err, session.ErrSessionAlreadyProcessing):
			writeJSONError(w, http.StatusConflict, err.Error())
		case errors.Is(err, session.ErrSessionNotFound):
			writeJSONError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, session.ErrSessionEnded):
			writeJSONError(w, http.StatusGone, err.Error())
		case errors.Is(err, stt.ErrTranscriptionEmpty):
			writeJSONError(w, http.StatusBadRequest, "answer text is required")
		default:
			writeJSONError(w, http.StatusInternalServerError, err.Error())
		}
	})

	mux.HandleFunc("GET /api/providers", func(w http.ResponseWriter, r *http.Request) {
		states := []gateway.ProviderState{}
		if d.Providers != nil {
			states = append(states, d.Providers(r.Context())...)
		}
		writeJSON(w, http.StatusOK, states)
	})

	mux.HandleFunc("GET /api/livekit/token", func(w http.ResponseWriter, r *http.Request) {
		if d.LiveKit == nil {
			writeJSONError(w, http.StatusNotFound, "livekit is not configured")
			return
		}
		sessionID := r.URL.Query().Get("session")
		identity := strings.TrimSpace(r.URL.Query().Get("identity"))
		if !validSessionID(sessionID) || identity == "" {
			writeJSONError(w, http.StatusBadRequest, "session and identity are required")
			return
		}
		if _, ok := d.Sessions.Get(sessionID); !ok {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}

		token, err := d.LiveKit.Token(sessionID, identity, tokenTTL)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("issue token: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"token": token,
			"url":   d.LiveKit.URL(),
			"room":  sessionID,
		})
	})
}

func createStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyScript), errors.Is(err, dialogue.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func stopSession(sessions Sessions, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = sessions.Stop(ctx, id)
}

func nonNil(messages []dialogue.Message) []dialogue.Message {
	if messages == nil {
		return []dialogue.Message{}
	}
	return messages
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
