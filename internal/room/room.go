// Package room carries audio and data between a candidate and the
// interviewer. Transports deliver one typed event stream per room.
package room

import (
	"context"
	"errors"
	"sync"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
)

var (
	ErrDisconnected = errors.New("room disconnected")
	ErrClosed       = errors.New("room closed")
)

type Kind int

const (
	EventFrame Kind = iota
	EventJoined
	EventLeft
	EventData
	EventDisconnected
)

func (k Kind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	case EventData:
		return "data"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is everything a room reports. Samples is set for frames, Topic and
// Data for data messages, Err for disconnects.
type Event struct {
	Kind        Kind
	Participant string
	Samples     []int16
	Topic       string
	Data        []byte
	Err         error
}

type Room interface {
	// PublishAudio plays PCM16 LE mono at the room rate.
	PublishAudio(ctx context.Context, pcm []byte) error
	PublishData(ctx context.Context, topic string, payload []byte) error
	// Subscribe installs the single event handler. Events that arrived
	// before it are replayed in order.
	Subscribe(fn func(Event))
	Close() error
}

const maxPending = 256

// emitter hands events to the subscriber, holding early non-frame events
// until one is installed.
type emitter struct {
	mu      sync.Mutex
	handler func(Event)
	pending []Event
}

func (e *emitter) Subscribe(fn func(Event)) {
	e.mu.Lock()
	e.handler = fn
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, ev := range pending {
		fn(ev)
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	fn := e.handler
	if fn == nil {
		if ev.Kind != EventFrame && len(e.pending) < maxPending {
			e.pending = append(e.pending, ev)
		}
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	fn(ev)
}

// framer cuts an arbitrary PCM stream into fixed-size frames.
type framer struct {
	size int
	buf  []int16
}

func newFramer(size int) *framer {
	if size <= 0 {
		size = audio.FrameSamples(audio.DefaultSampleRate)
	}
	return &framer{size: size}
}

func (f *framer) push(pcm []byte, out func([]int16)) {
	f.buf = append(f.buf, audio.Samples(pcm)...)
	for len(f.buf) >= f.size {
		frame := make([]int16, f.size)
		copy(frame, f.buf[:f.size])
		f.buf = f.buf[f.size:]
		out(frame)
	}
}
