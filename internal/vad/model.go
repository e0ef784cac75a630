package vad

import (
	"errors"
	"fmt"
	"math"
)

// ErrFrameSize is returned by models that only accept fixed-size frames.
var ErrFrameSize = errors.New("unexpected frame size")

// Model scores one frame with a speech probability in [0,1].
type Model interface {
	Name() string
	Probability(frame []int16) (float64, error)
}

const (
	dbFloor   = -60.0
	silenceDB = -100.0
)

// EnergyModel maps frame RMS level onto [0,1] over a -60 dBFS floor. It never
// fails, which makes it the fallback for every other model.
type EnergyModel struct{}

func (EnergyModel) Name() string { return "energy" }

func (EnergyModel) Probability(frame []int16) (float64, error) {
	db := dbfs(frame)
	p := (db - dbFloor) / -dbFloor
	return clamp(p), nil
}

// LogisticModel is a small logistic regression over level and zero-crossing
// rate. Loud frames with a low crossing rate score as voiced; hiss with a
// high crossing rate is pushed down.
type LogisticModel struct {
	FrameSamples int

	LevelWeight float64
	LevelBias   float64
	ZCRWeight   float64
	ZCRBias     float64
}

func NewLogisticModel(frameSamples int) *LogisticModel {
	return &LogisticModel{
		FrameSamples: frameSamples,
		LevelWeight:  0.25,
		LevelBias:    35,
		ZCRWeight:    8,
		ZCRBias:      0.3,
	}
}

func (m *LogisticModel) Name() string { return "logistic" }

func (m *LogisticModel) Probability(frame []int16) (float64, error) {
	if m.FrameSamples > 0 && len(frame) != m.FrameSamples {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(frame), m.FrameSamples)
	}
	z := m.LevelWeight*(dbfs(frame)+m.LevelBias) - m.ZCRWeight*(zeroCrossingRate(frame)-m.ZCRBias)
	return 1 / (1 + math.Exp(-z)), nil
}

func dbfs(frame []int16) float64 {
	if len(frame) == 0 {
		return silenceDB
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms <= 0 {
		return silenceDB
	}
	return math.Max(20*math.Log10(rms), silenceDB)
}

func zeroCrossingRate(frame []int16) float64 {
	if len(frame) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame)-1)
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
