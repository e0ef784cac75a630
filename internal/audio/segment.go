package audio

import "time"

// Segment accumulates the frames of one utterance between speech start and
// speech end. It is not safe for concurrent use; the owning session
// serializes access.
type Segment struct {
	rate    int
	max     time.Duration
	samples []int16
}

func NewSegment(rate int, max time.Duration) *Segment {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Segment{rate: rate, max: max}
}

// Append adds a frame and reports whether the segment reached its max duration.
func (s *Segment) Append(frame []int16) bool {
	s.samples = append(s.samples, frame...)
	return s.Duration() >= s.max
}

func (s *Segment) Len() int { return len(s.samples) }

func (s *Segment) SampleRate() int { return s.rate }

func (s *Segment) Duration() time.Duration {
	return time.Duration(len(s.samples)) * time.Second / time.Duration(s.rate)
}

// PCM returns the accumulated audio as PCM16 LE bytes.
func (s *Segment) PCM() []byte {
	return Bytes(s.samples)
}

func (s *Segment) Reset() {
	s.samples = s.samples[:0]
}
