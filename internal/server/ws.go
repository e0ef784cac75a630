package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/room"
	"github.com/sjawhar/ghost-interviewer/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerWSRoutes(mux *http.ServeMux, d Deps) {
	frameSamples := d.FrameSamples
	if frameSamples <= 0 {
		frameSamples = audio.FrameSamples(audio.DefaultSampleRate)
	}

	mux.HandleFunc("GET /ws/room/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if _, ok := d.Sessions.Get(sessionID); !ok {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Log.WithError(err).Warn("room ws upgrade failed")
			return
		}
		log := d.Log.WithField("session", sessionID)
		rm := room.NewWSRoom(conn, frameSamples, log)

		if err := d.Sessions.Attach(sessionID, rm); err != nil {
			code := websocket.CloseInternalServerErr
			if errors.Is(err, session.ErrRoomAttached) || errors.Is(err, session.ErrSessionEnded) {
				code = websocket.ClosePolicyViolation
			}
			msg := websocket.FormatCloseMessage(code, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}

		log.Info("candidate room connected")
		rm.Serve(r.Context())
	})

	mux.HandleFunc("GET /ws/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Log.WithError(err).Warn("events ws upgrade failed")
			return
		}
		defer func() { _ = conn.Close() }()

		connectionEvent := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}
		payload, err := json.Marshal(connectionEvent)
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		ch := d.Hub.Subscribe()
		defer d.Hub.Unsubscribe(ch)

		// Drain client frames so a close is noticed while idle.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
	})
}
