package room

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/logger"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan struct{}, 256)}
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *eventLog) waitFor(t *testing.T, kind Kind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		l.mu.Lock()
		for _, ev := range l.events {
			if ev.Kind == kind {
				l.mu.Unlock()
				return ev
			}
		}
		l.mu.Unlock()
		select {
		case <-l.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func (l *eventLog) count(kind Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestFramerSplitsStream(t *testing.T) {
	f := newFramer(4)
	var frames [][]int16

	f.push(audio.Bytes([]int16{1, 2, 3}), func(fr []int16) { frames = append(frames, fr) })
	if len(frames) != 0 {
		t.Fatalf("expected no frame yet, got %d", len(frames))
	}
	f.push(audio.Bytes([]int16{4, 5, 6, 7, 8, 9}), func(fr []int16) { frames = append(frames, fr) })
	if len(frames) != 2 || frames[0][3] != 4 || frames[1][0] != 5 {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestEmitterReplaysEarlyEventsButNotFrames(t *testing.T) {
	var e emitter
	e.emit(Event{Kind: EventFrame})
	e.emit(Event{Kind: EventJoined, Participant: "cand"})

	var got []Event
	e.Subscribe(func(ev Event) { got = append(got, ev) })
	if len(got) != 1 || got[0].Kind != EventJoined {
		t.Fatalf("expected replayed join only, got %+v", got)
	}
}

func startWSRoom(t *testing.T) (*WSRoom, *websocket.Conn, *eventLog) {
	t.Helper()

	rooms := make(chan *WSRoom, 1)
	events := newEventLog()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		room := NewWSRoom(conn, 320, logger.Discard())
		room.Subscribe(events.handle)
		rooms <- room
		room.Serve(context.Background())
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return <-rooms, client, events
}

func TestWSRoomEvents(t *testing.T) {
	_, client, events := startWSRoom(t)

	if err := client.WriteJSON(WSMessage{Type: "hello", Participant: "cand-1"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if ev := events.waitFor(t, EventJoined); ev.Participant != "cand-1" {
		t.Fatalf("unexpected join: %+v", ev)
	}

	if err := client.WriteMessage(websocket.BinaryMessage, make([]byte, 640*2+10)); err != nil {
		t.Fatalf("audio: %v", err)
	}
	ev := events.waitFor(t, EventFrame)
	if len(ev.Samples) != 320 || ev.Participant != "cand-1" {
		t.Fatalf("unexpected frame: %d samples from %q", len(ev.Samples), ev.Participant)
	}

	if err := client.WriteJSON(WSMessage{Type: "data", Topic: "answer", Payload: json.RawMessage(`"typed answer"`)}); err != nil {
		t.Fatalf("data: %v", err)
	}
	if ev := events.waitFor(t, EventData); ev.Topic != "answer" || string(ev.Data) != "typed answer" {
		t.Fatalf("unexpected data event: %+v", ev)
	}

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	events.waitFor(t, EventLeft)
	if ev := events.waitFor(t, EventDisconnected); !errors.Is(ev.Err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", ev.Err)
	}
	if events.count(EventFrame) != 2 {
		t.Fatalf("expected 2 frames, got %d", events.count(EventFrame))
	}
}

func TestWSRoomPublish(t *testing.T) {
	room, client, _ := startWSRoom(t)
	ctx := context.Background()

	if err := room.PublishAudio(ctx, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("PublishAudio: %v", err)
	}
	kind, data, err := client.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage || len(data) != 4 {
		t.Fatalf("unexpected audio message: kind=%d len=%d err=%v", kind, len(data), err)
	}

	if err := room.PublishData(ctx, "state", []byte(`{"state":"listening"}`)); err != nil {
		t.Fatalf("PublishData: %v", err)
	}
	var msg WSMessage
	if err := client.ReadJSON(&msg); err != nil {
		t.Fatalf("read data: %v", err)
	}
	if msg.Type != "data" || msg.Topic != "state" || string(msg.Payload) != `{"state":"listening"}` {
		t.Fatalf("unexpected data message: %+v", msg)
	}

	if err := room.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := room.PublishData(ctx, "state", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

type publisherMock struct {
	mu      sync.Mutex
	packets []*lksdk.UserDataPacket
	err     error
}

func (p *publisherMock) PublishDataPacket(pck lksdk.DataPacket, opts ...lksdk.DataPublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if user, ok := pck.(*lksdk.UserDataPacket); ok {
		p.packets = append(p.packets, user)
	}
	return nil
}

func TestLiveKitRoomInbound(t *testing.T) {
	r := newLiveKitRoom(320, 16000, logger.Discard())
	events := newEventLog()
	r.joined("ghost-interviewer")
	r.joined("cand")
	r.Subscribe(events.handle)

	r.onDataPacket(&lksdk.UserDataPacket{Topic: TopicMic, Payload: make([]byte, 700)}, lksdk.DataReceiveParams{SenderIdentity: "cand"})
	r.onDataPacket(&lksdk.UserDataPacket{Topic: "answer", Payload: []byte("hi")}, lksdk.DataReceiveParams{SenderIdentity: "cand"})
	r.left("cand")

	if events.count(EventJoined) != 1 {
		t.Fatalf("expected agent join to be filtered, got %d joins", events.count(EventJoined))
	}
	if events.count(EventFrame) != 2 {
		t.Fatalf("expected 2 frames, got %d", events.count(EventFrame))
	}
	if ev := events.waitFor(t, EventData); string(ev.Data) != "hi" || ev.Topic != "answer" {
		t.Fatalf("unexpected data: %+v", ev)
	}
	events.waitFor(t, EventLeft)
}

func TestLiveKitRoomChunksAudio(t *testing.T) {
	pub := &publisherMock{}
	r := newLiveKitRoom(320, 16000, logger.Discard())
	r.pub = pub

	pcm := make([]byte, audioChunkBytes*2+100)
	pcm[len(pcm)-1] = 7
	if err := r.PublishAudio(context.Background(), pcm); err != nil {
		t.Fatalf("PublishAudio: %v", err)
	}
	if len(pub.packets) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(pub.packets))
	}

	var total []byte
	for i, p := range pub.packets {
		if p.Topic != TopicAudio {
			t.Fatalf("chunk %d on topic %q", i, p.Topic)
		}
		var msg AudioMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if msg.Seq != i || msg.Final != (i == 2) || msg.SampleRate != 16000 {
			t.Fatalf("unexpected chunk header: %+v", msg)
		}
		b, _ := base64.StdEncoding.DecodeString(msg.Audio)
		total = append(total, b...)
	}
	if len(total) != len(pcm) || total[len(total)-1] != 7 {
		t.Fatalf("reassembled %d bytes", len(total))
	}
}

func TestLiveKitRoomDisconnectOnce(t *testing.T) {
	r := newLiveKitRoom(320, 16000, logger.Discard())
	r.pub = &publisherMock{}
	events := newEventLog()
	r.Subscribe(events.handle)

	r.disconnected(ErrDisconnected)
	r.disconnected(ErrDisconnected)
	if events.count(EventDisconnected) != 1 {
		t.Fatalf("expected a single disconnect event, got %d", events.count(EventDisconnected))
	}
	if err := r.PublishData(context.Background(), "state", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestLiveKitPublishErrorIsDisconnect(t *testing.T) {
	r := newLiveKitRoom(320, 16000, logger.Discard())
	r.pub = &publisherMock{err: errors.New("transport gone")}
	if err := r.PublishData(context.Background(), "state", []byte("{}")); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestLiveKitToken(t *testing.T) {
	if _, err := NewLiveKit("", "k", "s"); !errors.Is(err, ErrLiveKitNotConfigured) {
		t.Fatalf("expected ErrLiveKitNotConfigured, got %v", err)
	}
	lk, err := NewLiveKit("wss://example.livekit.cloud", "key", "secret-secret-secret-secret-secret")
	if err != nil {
		t.Fatalf("NewLiveKit: %v", err)
	}
	token, err := lk.Token("session-1", "cand", time.Hour)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("expected a JWT, got %q", token)
	}
}
