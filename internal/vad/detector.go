// Package vad turns a stream of fixed-size PCM frames into speech start and
// speech end events using a per-frame speech probability and hysteresis.
package vad

import (
	"github.com/sirupsen/logrus"

	"github.com/sjawhar/ghost-interviewer/internal/logger"
)

type Event int

const (
	None Event = iota
	SpeechStart
	SpeechEnd
)

func (e Event) String() string {
	switch e {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

type Config struct {
	Threshold     float64
	SpeechFrames  int
	SilenceFrames int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		c.Threshold = 0.5
	}
	if c.SpeechFrames <= 0 {
		c.SpeechFrames = 3
	}
	if c.SilenceFrames <= 0 {
		c.SilenceFrames = 35
	}
	return c
}

type Result struct {
	Probability float64
	Speaking    bool
	Event       Event
}

// Detector is a per-session hysteresis state machine. Not safe for
// concurrent use.
type Detector struct {
	cfg   Config
	model Model
	log   logrus.FieldLogger

	speaking   bool
	speechRun  int
	silenceRun int
	fellBack   bool
}

// New builds a detector around model. A nil model uses the energy heuristic.
func New(cfg Config, model Model, log logrus.FieldLogger) *Detector {
	if model == nil {
		model = EnergyModel{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Detector{cfg: cfg.withDefaults(), model: model, log: log}
}

// Process scores one frame and advances the hysteresis counters. Idle turns
// into Speaking after SpeechFrames consecutive speech frames; Speaking turns
// back into Idle after SilenceFrames consecutive silent frames.
func (d *Detector) Process(frame []int16) Result {
	p, err := d.model.Probability(frame)
	if err != nil {
		d.log.WithError(err).WithField("model", d.model.Name()).Warn("vad model failed; using energy heuristic")
		d.model = EnergyModel{}
		d.fellBack = true
		p, _ = d.model.Probability(frame)
	}

	res := Result{Probability: p}
	if p >= d.cfg.Threshold {
		d.speechRun++
		d.silenceRun = 0
	} else {
		d.silenceRun++
		d.speechRun = 0
	}

	switch {
	case !d.speaking && d.speechRun >= d.cfg.SpeechFrames:
		d.speaking = true
		res.Event = SpeechStart
	case d.speaking && d.silenceRun >= d.cfg.SilenceFrames:
		d.speaking = false
		res.Event = SpeechEnd
	}
	res.Speaking = d.speaking
	return res
}

func (d *Detector) Speaking() bool { return d.speaking }

// FellBack reports whether the configured model failed and the detector now
// runs on the energy heuristic.
func (d *Detector) FellBack() bool { return d.fellBack }

func (d *Detector) ModelName() string { return d.model.Name() }

// Reset clears the hysteresis state; the active model is kept.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechRun = 0
	d.silenceRun = 0
}
