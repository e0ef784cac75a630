package room

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/sirupsen/logrus"
)

const (
	// TopicMic carries candidate PCM16 frames as raw data packets.
	TopicMic = "mic"
	// TopicAudio carries interviewer audio as base64 JSON chunks.
	TopicAudio = "audio"

	agentIdentity = "ghost-interviewer"
	// keeps each base64 packet under the reliable data packet limit
	audioChunkBytes = 8 * 1024
)

var ErrLiveKitNotConfigured = errors.New("livekit url, api key and secret are required")

// AudioMessage is one chunk of interviewer audio on TopicAudio.
type AudioMessage struct {
	Type       string `json:"type"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sampleRate"`
	Seq        int    `json:"seq"`
	Final      bool   `json:"final"`
}

// LiveKit issues join tokens and connects the interviewer to rooms.
type LiveKit struct {
	url       string
	apiKey    string
	apiSecret string
}

func NewLiveKit(url, apiKey, apiSecret string) (*LiveKit, error) {
	if url == "" || apiKey == "" || apiSecret == "" {
		return nil, ErrLiveKitNotConfigured
	}
	return &LiveKit{url: url, apiKey: apiKey, apiSecret: apiSecret}, nil
}

func (c *LiveKit) URL() string { return c.url }

// Token creates a JWT for a participant joining roomName.
func (c *LiveKit) Token(roomName, identity string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	at := auth.NewAccessToken(c.apiKey, c.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetValidFor(ttl)
	return at.ToJWT()
}

// Join connects as the interviewer agent.
func (c *LiveKit) Join(_ context.Context, roomName string, frameSamples, sampleRate int, log logrus.FieldLogger) (*LiveKitRoom, error) {
	token, err := c.Token(roomName, agentIdentity, 0)
	if err != nil {
		return nil, fmt.Errorf("livekit token: %w", err)
	}

	r := newLiveKitRoom(frameSamples, sampleRate, log)
	callback := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnDataPacket: r.onDataPacket,
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.joined(rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.left(rp.Identity())
		},
		OnDisconnected: func() {
			r.disconnected(ErrDisconnected)
		},
	}

	lkRoom, err := lksdk.ConnectToRoomWithToken(c.url, token, callback)
	if err != nil {
		return nil, fmt.Errorf("join livekit room %s: %w", roomName, err)
	}
	r.pub = lkRoom.LocalParticipant
	r.disconnect = lkRoom.Disconnect

	for _, rp := range lkRoom.GetRemoteParticipants() {
		r.joined(rp.Identity())
	}
	r.log.WithField("room", roomName).Info("interviewer joined livekit room")
	return r, nil
}

type dataPublisher interface {
	PublishDataPacket(pck lksdk.DataPacket, opts ...lksdk.DataPublishOption) error
}

// LiveKitRoom moves audio over LiveKit data packets.
type LiveKitRoom struct {
	emitter
	pub        dataPublisher
	disconnect func()
	log        logrus.FieldLogger
	sampleRate int

	framesMu sync.Mutex
	framers  map[string]*framer
	size     int

	mu     sync.Mutex
	closed bool
}

func newLiveKitRoom(frameSamples, sampleRate int, log logrus.FieldLogger) *LiveKitRoom {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LiveKitRoom{
		log:        log,
		sampleRate: sampleRate,
		framers:    map[string]*framer{},
		size:       frameSamples,
	}
}

func (r *LiveKitRoom) onDataPacket(packet lksdk.DataPacket, params lksdk.DataReceiveParams) {
	user, ok := packet.(*lksdk.UserDataPacket)
	if !ok {
		return
	}
	identity := params.SenderIdentity

	if user.Topic != TopicMic {
		r.emit(Event{Kind: EventData, Participant: identity, Topic: user.Topic, Data: user.Payload})
		return
	}

	r.framesMu.Lock()
	f, ok := r.framers[identity]
	if !ok {
		f = newFramer(r.size)
		r.framers[identity] = f
	}
	var frames [][]int16
	f.push(user.Payload, func(frame []int16) { frames = append(frames, frame) })
	r.framesMu.Unlock()

	for _, frame := range frames {
		r.emit(Event{Kind: EventFrame, Participant: identity, Samples: frame})
	}
}

func (r *LiveKitRoom) joined(identity string) {
	if identity == agentIdentity {
		return
	}
	r.emit(Event{Kind: EventJoined, Participant: identity})
}

func (r *LiveKitRoom) left(identity string) {
	r.framesMu.Lock()
	delete(r.framers, identity)
	r.framesMu.Unlock()
	r.emit(Event{Kind: EventLeft, Participant: identity})
}

func (r *LiveKitRoom) disconnected(err error) {
	r.mu.Lock()
	already := r.closed
	r.closed = true
	r.mu.Unlock()
	if !already {
		r.emit(Event{Kind: EventDisconnected, Err: err})
	}
}

func (r *LiveKitRoom) PublishAudio(ctx context.Context, pcm []byte) error {
	for seq, off := 0, 0; off < len(pcm); seq++ {
		end := min(off+audioChunkBytes, len(pcm))
		body, err := json.Marshal(AudioMessage{
			Type:       "audio",
			Audio:      base64.StdEncoding.EncodeToString(pcm[off:end]),
			SampleRate: r.sampleRate,
			Seq:        seq,
			Final:      end == len(pcm),
		})
		if err != nil {
			return fmt.Errorf("encode audio chunk: %w", err)
		}
		if err := r.publish(ctx, TopicAudio, body); err != nil {
			return err
		}
		off = end
	}
	return nil
}

func (r *LiveKitRoom) PublishData(ctx context.Context, topic string, payload []byte) error {
	return r.publish(ctx, topic, payload)
}

func (r *LiveKitRoom) publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed || r.pub == nil {
		return ErrClosed
	}

	err := r.pub.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(topic),
	)
	if err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrDisconnected, topic, err)
	}
	return nil
}

func (r *LiveKitRoom) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.disconnect != nil {
		r.disconnect()
	}
	return nil
}
