package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const wsWriteTimeout = 10 * time.Second

// WSMessage is the JSON envelope for text frames in both directions.
// Binary frames carry raw PCM16 LE audio.
type WSMessage struct {
	Type        string          `json:"type"`
	Participant string          `json:"participant,omitempty"`
	Topic       string          `json:"topic,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// WSRoom is a room over a single browser websocket.
type WSRoom struct {
	emitter
	conn   *websocket.Conn
	framer *framer
	log    logrus.FieldLogger

	writeMu sync.Mutex

	mu          sync.Mutex
	participant string
	closed      bool
}

func NewWSRoom(conn *websocket.Conn, frameSamples int, log logrus.FieldLogger) *WSRoom {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSRoom{
		conn:   conn,
		framer: newFramer(frameSamples),
		log:    log,
	}
}

// Serve reads until the connection drops or ctx ends. It always finishes
// with a Disconnected event.
func (r *WSRoom) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	for {
		kind, data, err := r.conn.ReadMessage()
		if err != nil {
			r.finish(err)
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			r.framer.push(data, func(frame []int16) {
				r.emit(Event{Kind: EventFrame, Participant: r.current(), Samples: frame})
			})
		case websocket.TextMessage:
			r.handleText(data)
		}
	}
}

func (r *WSRoom) handleText(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.WithError(err).Debug("dropping malformed room message")
		return
	}

	switch msg.Type {
	case "hello":
		r.mu.Lock()
		r.participant = msg.Participant
		r.mu.Unlock()
		r.emit(Event{Kind: EventJoined, Participant: msg.Participant})
	case "bye":
		r.emit(Event{Kind: EventLeft, Participant: r.current()})
	case "data":
		r.emit(Event{Kind: EventData, Participant: r.current(), Topic: msg.Topic, Data: unquote(msg.Payload)})
	default:
		r.log.WithField("type", msg.Type).Debug("ignoring room message")
	}
}

func (r *WSRoom) finish(err error) {
	r.mu.Lock()
	closedByUs := r.closed
	r.closed = true
	r.mu.Unlock()

	if closedByUs {
		return
	}

	participant := r.current()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		r.emit(Event{Kind: EventLeft, Participant: participant})
		err = nil
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDisconnected, err)
	} else {
		err = ErrDisconnected
	}
	r.emit(Event{Kind: EventDisconnected, Participant: participant, Err: err})
}

func (r *WSRoom) current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participant
}

func (r *WSRoom) PublishAudio(ctx context.Context, pcm []byte) error {
	return r.write(ctx, websocket.BinaryMessage, pcm)
}

func (r *WSRoom) PublishData(ctx context.Context, topic string, payload []byte) error {
	raw := json.RawMessage(payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return err
		}
		raw = quoted
	}
	body, err := json.Marshal(WSMessage{Type: "data", Topic: topic, Payload: raw})
	if err != nil {
		return fmt.Errorf("encode data message: %w", err)
	}
	return r.write(ctx, websocket.TextMessage, body)
}

func (r *WSRoom) write(ctx context.Context, kind int, body []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = r.conn.SetWriteDeadline(deadline)
	if err := r.conn.WriteMessage(kind, body); err != nil {
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return nil
}

func (r *WSRoom) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	r.writeMu.Unlock()

	if err := r.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

// unquote turns a JSON string payload back into its raw bytes and leaves
// other JSON values as they are.
func unquote(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}
