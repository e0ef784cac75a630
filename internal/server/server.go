package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/gateway"
	"github.com/sjawhar/ghost-interviewer/internal/room"
	"github.com/sjawhar/ghost-interviewer/internal/session"
)

// Sessions is the live session registry.
type Sessions interface {
	Create(ctx context.Context, p session.Params) (*session.Session, error)
	Get(id string) (*session.Session, bool)
	Attach(id string, r room.Room) error
	SubmitAnswer(id, text string) error
	Stop(ctx context.Context, id string) error
	List() []session.Info
}

// SessionStore serves finished and in-progress sessions from disk.
type SessionStore interface {
	GetSession(id string) (session.Record, error)
	ListSessions(limit int) ([]session.Record, error)
	GetMessages(sessionID string) ([]dialogue.Message, error)
}

// TokenIssuer mints candidate join tokens for the LiveKit transport.
type TokenIssuer interface {
	URL() string
	Token(roomName, identity string, ttl time.Duration) (string, error)
}

type Deps struct {
	Sessions Sessions
	// Store is optional; without it only live sessions are listed.
	Store SessionStore
	Hub   *Hub
	// Providers reports every gateway's provider windows.
	Providers func(ctx context.Context) []gateway.ProviderState
	LiveKit   TokenIssuer
	// JoinLiveKit connects the interviewer to the LiveKit room for a session.
	JoinLiveKit  func(ctx context.Context, sessionID string) (room.Room, error)
	FrameSamples int
	Log          logrus.FieldLogger
}

func Handler(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Hub == nil {
		d.Hub = NewHub(d.Log)
	}

	mux := http.NewServeMux()
	registerWSRoutes(mux, d)
	registerAPIRoutes(mux, d)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": len(d.Sessions.List())})
	})
	return requestLogger(d.Log, mux)
}

// New returns the HTTP server; the caller owns ListenAndServe and Shutdown.
func New(addr string, d Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func requestLogger(log logrus.FieldLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}
