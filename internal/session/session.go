package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/room"
	"github.com/sjawhar/ghost-interviewer/internal/stt"
	"github.com/sjawhar/ghost-interviewer/internal/vad"
)

const (
	TopicTranscript = "transcript"
	TopicState      = "state"
	TopicAnswer     = "answer"

	sinkTimeout = 30 * time.Second
)

// Params describe a session at creation time.
type Params struct {
	CandidateID string
	Mode        dialogue.Mode
	Script      []string
}

// Deps are the collaborators shared by every session. Only STT and TTS are
// required.
type Deps struct {
	STT      Transcriber
	TTS      Synthesizer
	Phraser  dialogue.Phraser
	Store    Store
	Recorder Recorder
	Events   EventBroadcaster
	Sinks    []CompletionSink
	Log      logrus.FieldLogger
}

type Config struct {
	SampleRate int
	VAD        vad.Config
	// NewModel builds the speech probability model for one session.
	NewModel     func() vad.Model
	MaxUtterance time.Duration
	MinUtterance time.Duration
	IdleTimeout  time.Duration
	PacePlayback bool
	Language     string
	Dialogue     dialogue.Config
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.NewModel == nil {
		c.NewModel = func() vad.Model { return vad.EnergyModel{} }
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	return c
}

type turn struct {
	pcm  []byte
	text string
}

// Session drives one interview: VAD, transcription, dialogue and synthesis
// as a serial state machine. Only one turn is in flight at a time.
type Session struct {
	id          string
	candidateID string
	cfg         Config
	deps        Deps
	log         logrus.FieldLogger

	engine  *dialogue.Engine
	history history
	idle    *IdleDetector
	sleep   func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	room      room.Room
	detector  *vad.Detector
	segment   *audio.Segment
	preroll   [][]int16
	startedAt time.Time
	voice     string

	dropped atomic.Int64
	turns   sync.WaitGroup

	endOnce sync.Once
	onEnd   func(*Session)
	done    chan struct{}
}

func newSession(id string, p Params, cfg Config, deps Deps) *Session {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("session", id)

	ctx, cancel := context.WithCancel(context.Background())
	engine := dialogue.NewEngine(p.Script, p.Mode, cfg.Dialogue,
		dialogue.WithPhraser(deps.Phraser),
		dialogue.WithSeed(dialogue.SeedFor(id)),
		dialogue.WithLogger(log),
	)

	s := &Session{
		id:          id,
		candidateID: p.CandidateID,
		cfg:         cfg,
		deps:        deps,
		log:         log,
		engine:      engine,
		idle:        NewIdleDetector(cfg.IdleTimeout),
		sleep:       sleepContext,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateIdle,
		detector:    vad.New(cfg.VAD, cfg.NewModel(), log),
		segment:     audio.NewSegment(cfg.SampleRate, cfg.MaxUtterance),
		done:        make(chan struct{}),
	}
	s.idle.OnTimeout(s.onIdle)
	return s
}

func (s *Session) ID() string { return s.id }

// Done is closed once the session has ended and its completion was delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ScriptIndex() int { return s.engine.Index() }

func (s *Session) History() []dialogue.Message { return s.history.Snapshot() }

func (s *Session) Info() Info {
	s.mu.Lock()
	state := s.state
	startedAt := s.startedAt
	candidate := s.candidateID
	s.mu.Unlock()

	return Info{
		ID:          s.id,
		CandidateID: candidate,
		Mode:        s.engine.Mode(),
		Script:      s.engine.Script(),
		ScriptIndex: s.engine.Index(),
		State:       state,
		Status:      state.Status(),
		StartedAt:   startedAt,
		Dropped:     s.dropped.Load(),
		Messages:    s.history.Snapshot(),
	}
}

// Attach binds the room. The interview starts on the first join event.
func (s *Session) Attach(r room.Room) error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if s.room != nil {
		s.mu.Unlock()
		return ErrRoomAttached
	}
	s.room = r
	s.mu.Unlock()

	r.Subscribe(s.handleEvent)
	return nil
}

func (s *Session) handleEvent(ev room.Event) {
	switch ev.Kind {
	case room.EventFrame:
		s.HandleFrame(ev.Samples)
	case room.EventJoined:
		s.mu.Lock()
		if s.candidateID == "" {
			s.candidateID = ev.Participant
		}
		s.mu.Unlock()
		if err := s.Start(); err != nil && !errors.Is(err, ErrSessionAlreadyProcessing) {
			s.log.WithError(err).Debug("join ignored")
		}
	case room.EventLeft:
		s.log.WithField("participant", ev.Participant).Info("candidate left")
		go s.end(ReasonDisconnected)
	case room.EventDisconnected:
		s.log.WithError(ev.Err).Warn("room disconnected")
		go s.end(ReasonDisconnected)
	case room.EventData:
		if ev.Topic != TopicAnswer {
			return
		}
		if err := s.SubmitAnswer(string(ev.Data)); err != nil {
			s.log.WithError(err).Debug("typed answer rejected")
		}
	}
}

// Start speaks the opening line and then listens.
func (s *Session) Start() error {
	s.mu.Lock()
	switch {
	case s.ctx.Err() != nil, s.state == StateEnded, s.state == StateCompleting:
		s.mu.Unlock()
		return ErrSessionEnded
	case s.state != StateIdle:
		s.mu.Unlock()
		return ErrSessionAlreadyProcessing
	}
	s.state = StateResponding
	s.startedAt = time.Now().UTC()
	s.turns.Add(1)
	s.mu.Unlock()

	s.publishState(StateResponding)
	s.progress()
	if s.deps.Events != nil {
		s.deps.Events.BroadcastSessionStarted(s.Info())
	}
	s.log.WithField("candidate", s.candidateID).Info("interview started")

	go s.runTurn(nil)
	return nil
}

// HandleFrame feeds one room frame. Frames outside Listening are dropped.
func (s *Session) HandleFrame(frame []int16) {
	s.mu.Lock()
	if s.state != StateListening || s.ctx.Err() != nil {
		s.mu.Unlock()
		s.dropped.Add(1)
		return
	}

	res := s.detector.Process(frame)
	full := false
	switch {
	case res.Event == vad.SpeechStart:
		s.segment.Reset()
		for _, f := range s.preroll {
			s.segment.Append(f)
		}
		s.preroll = s.preroll[:0]
		full = s.segment.Append(frame)
		s.idle.OnSpeech()
	case res.Speaking || res.Event == vad.SpeechEnd:
		full = s.segment.Append(frame)
	default:
		s.keepPreroll(frame)
	}

	if res.Event != vad.SpeechEnd && !full {
		s.mu.Unlock()
		return
	}

	pcm := s.segment.PCM()
	tooShort := s.segment.Duration() < s.cfg.MinUtterance
	s.segment.Reset()
	s.detector.Reset()
	if tooShort {
		s.mu.Unlock()
		s.log.Debug("discarding short utterance")
		return
	}
	s.state = StateTranscribing
	s.turns.Add(1)
	s.mu.Unlock()

	if full {
		s.log.WithField("max", s.cfg.MaxUtterance).Info("utterance reached max length, ending it")
	}
	s.publishState(StateTranscribing)
	go s.runTurn(&turn{pcm: pcm})
}

func (s *Session) keepPreroll(frame []int16) {
	n := s.cfg.VAD.SpeechFrames
	if n <= 0 {
		return
	}
	if len(s.preroll) >= n {
		copy(s.preroll, s.preroll[1:])
		s.preroll = s.preroll[:n-1]
	}
	s.preroll = append(s.preroll, frame)
}

// SubmitAnswer enters a typed answer as if it had been transcribed.
func (s *Session) SubmitAnswer(text string) error {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	switch {
	case s.ctx.Err() != nil, s.state == StateEnded, s.state == StateCompleting:
		s.mu.Unlock()
		return ErrSessionEnded
	case s.state != StateListening:
		s.mu.Unlock()
		return ErrSessionAlreadyProcessing
	}
	if text == "" {
		s.mu.Unlock()
		return stt.ErrTranscriptionEmpty
	}
	s.state = StateResponding
	s.detector.Reset()
	s.segment.Reset()
	s.turns.Add(1)
	s.mu.Unlock()

	s.idle.OnSpeech()
	s.publishState(StateResponding)
	go s.runTurn(&turn{text: text})
	return nil
}

// runTurn carries one turn from Transcribing (or Responding) back to
// Listening. A nil turn is the opening line. end waits for running turns,
// so the closing turn releases its slot before ending the session.
func (s *Session) runTurn(t *turn) {
	complete := s.playTurn(t)
	s.turns.Done()
	if complete {
		s.end(ReasonCompleted)
	}
}

// playTurn reports whether the closing line has been spoken.
func (s *Session) playTurn(t *turn) bool {
	ctx := s.ctx

	if t != nil {
		text := t.text
		if t.pcm != nil {
			var ok bool
			text, ok = s.transcribe(ctx, t.pcm)
			if !ok {
				return false
			}
		}
		if !s.transition(StateResponding) {
			return false
		}
		if !s.appendMessage(dialogue.RoleCandidate, text) {
			return false
		}
	}

	u := s.engine.NextUtterance(ctx, s.history.Snapshot())
	if !s.appendMessage(dialogue.RoleInterviewer, u.Text) {
		return false
	}
	s.progress()

	if !s.transition(StateSpeaking) {
		return false
	}
	s.speak(ctx, u.Text)
	if ctx.Err() != nil {
		return false
	}

	if u.Complete {
		return true
	}
	s.listen()
	return false
}

// transcribe returns false when the turn is over: empty transcript, teardown,
// or the fallback line was spoken instead.
func (s *Session) transcribe(ctx context.Context, pcm []byte) (string, bool) {
	if s.deps.Recorder != nil {
		if path, err := s.deps.Recorder.SaveUtterance(s.id, pcm); err != nil {
			s.log.WithError(err).Warn("save utterance failed")
		} else {
			s.log.WithField("path", path).Debug("utterance saved")
		}
	}

	tr, err := s.deps.STT.Transcribe(ctx, stt.Utterance{
		PCM:        pcm,
		SampleRate: s.cfg.SampleRate,
		Language:   s.cfg.Language,
	}, "")
	if ctx.Err() != nil {
		return "", false
	}
	switch {
	case errors.Is(err, stt.ErrTranscriptionEmpty):
		s.log.Debug("empty transcript, listening again")
		s.listen()
		return "", false
	case err != nil:
		s.log.WithError(err).Warn("transcription unavailable, asking candidate to repeat")
		if !s.transition(StateSpeaking) {
			return "", false
		}
		s.speak(ctx, dialogue.RepeatLine)
		if ctx.Err() == nil {
			s.listen()
		}
		return "", false
	}

	s.log.WithFields(logrus.Fields{
		"provider": tr.Provider,
		"words":    len(strings.Fields(tr.Text)),
	}).Info("candidate answer transcribed")
	return tr.Text, true
}

// speak synthesizes and plays text. Synthesis failure degrades to a text-only
// line; the session carries on either way.
func (s *Session) speak(ctx context.Context, text string) {
	s.mu.Lock()
	voice := s.voice
	r := s.room
	s.mu.Unlock()

	a, provider, err := s.deps.TTS.Synthesize(ctx, text, voice)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.log.WithError(err).Warn("synthesis failed, sending text only")
		return
	}
	if provider != "stock" {
		s.mu.Lock()
		s.voice = provider
		s.mu.Unlock()
	}
	if r == nil {
		return
	}
	if err := r.PublishAudio(ctx, a.PCM); err != nil {
		s.log.WithError(err).Warn("publish audio failed")
		return
	}
	if s.cfg.PacePlayback {
		_ = s.sleep(ctx, audio.Duration(len(a.PCM), a.SampleRate))
	}
}

func (s *Session) listen() {
	if s.transition(StateListening) {
		s.idle.Arm()
	}
}

// transition moves to next unless the session is ending. Late results after
// teardown are dropped here.
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	if s.state == StateEnded || s.state == StateCompleting || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()

	s.publishState(next)
	return true
}

// appendMessage records a line unless teardown has begun. The check and the
// append share s.mu with the cancel in end, so nothing lands in history
// after the completion snapshot.
func (s *Session) appendMessage(role dialogue.Role, text string) bool {
	m := dialogue.Message{Role: role, Text: text, Timestamp: time.Now().UTC()}
	s.mu.Lock()
	if s.state == StateEnded || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	seq := s.history.Append(m)
	s.mu.Unlock()

	if s.deps.Store != nil {
		if err := s.deps.Store.AppendMessage(s.id, seq, m); err != nil {
			s.log.WithError(err).Warn("persist message failed")
		}
	}
	if s.deps.Events != nil {
		s.deps.Events.BroadcastMessage(s.id, m)
	}
	s.publish(TopicTranscript, m)
	return true
}

func (s *Session) progress() {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.UpdateProgress(s.id, s.State().Status(), s.engine.Index()); err != nil {
		s.log.WithError(err).Warn("persist progress failed")
	}
}

func (s *Session) publishState(state State) {
	if s.deps.Events != nil {
		s.deps.Events.BroadcastStateChanged(s.id, state)
	}
	s.publish(TopicState, map[string]State{"state": state})
}

func (s *Session) publish(topic string, v any) {
	s.mu.Lock()
	r := s.room
	s.mu.Unlock()
	if r == nil {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("encode room data")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.PublishData(ctx, topic, payload); err != nil && !errors.Is(err, room.ErrClosed) {
		s.log.WithError(err).WithField("topic", topic).Debug("publish data failed")
	}
}

func (s *Session) onIdle() {
	if s.State() != StateListening {
		return
	}
	s.log.WithField("timeout", s.cfg.IdleTimeout).Info("candidate idle, ending session")
	s.end(ReasonIdle)
}

// Stop ends the session from any state and waits for completion delivery.
func (s *Session) Stop(ctx context.Context) error {
	go s.end(ReasonStopped)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) end(reason EndReason) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		started := s.state != StateIdle
		if reason == ReasonCompleted {
			s.state = StateCompleting
		}
		s.cancel()
		s.mu.Unlock()
		if reason == ReasonCompleted {
			s.publishState(StateCompleting)
		}

		s.idle.Stop()
		s.turns.Wait()

		s.mu.Lock()
		s.state = StateEnded
		r := s.room
		startedAt := s.startedAt
		candidate := s.candidateID
		s.mu.Unlock()

		if s.deps.Events != nil {
			s.deps.Events.BroadcastStateChanged(s.id, StateEnded)
		}
		if r != nil {
			if err := r.Close(); err != nil {
				s.log.WithError(err).Debug("close room")
			}
		}
		if s.deps.Recorder != nil {
			s.deps.Recorder.EndSession(s.id)
		}

		endedAt := time.Now().UTC()
		if !started {
			startedAt = endedAt
		}
		c := Completion{
			SessionID:   s.id,
			CandidateID: candidate,
			Mode:        s.engine.Mode(),
			Script:      s.engine.Script(),
			ScriptIndex: s.engine.Index(),
			Messages:    s.history.Snapshot(),
			StartedAt:   startedAt,
			EndedAt:     endedAt,
			Reason:      reason,
		}

		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		deliver(ctx, s.deps.Sinks, c, s.log)
		cancel()
		if s.deps.Events != nil {
			s.deps.Events.BroadcastSessionEnded(c)
		}

		s.log.WithFields(logrus.Fields{
			"reason":       reason,
			"script_index": c.ScriptIndex,
			"messages":     len(c.Messages),
			"dropped":      s.dropped.Load(),
		}).Info("interview ended")

		if s.onEnd != nil {
			s.onEnd(s)
		}
		close(s.done)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
