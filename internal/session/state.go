package session

type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateResponding   State = "responding"
	StateSpeaking     State = "speaking"
	StateCompleting   State = "completing"
	StateEnded        State = "ended"
)

// Status is the coarse lifecycle stored with a session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusActive     Status = "active"
	StatusCompleting Status = "completing"
	StatusEnded      Status = "ended"
)

func (s State) Status() Status {
	switch s {
	case StateIdle:
		return StatusIdle
	case StateCompleting:
		return StatusCompleting
	case StateEnded:
		return StatusEnded
	default:
		return StatusActive
	}
}
