package session

import (
	"sync"
	"time"
)

// IdleDetector fires once the candidate has been silent for the timeout
// while the interviewer is waiting on them.
type IdleDetector struct {
	timeout   time.Duration
	mu        sync.Mutex
	timer     *time.Timer
	stopped   bool
	onTimeout func()
}

func NewIdleDetector(timeout time.Duration) *IdleDetector {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &IdleDetector{timeout: timeout}
}

func (d *IdleDetector) OnTimeout(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onTimeout = callback
}

// OnSpeech disarms the timer.
func (d *IdleDetector) OnSpeech() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Arm restarts the countdown; called whenever the session starts listening.
func (d *IdleDetector) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d.timeout, func() {
		d.mu.Lock()
		if d.timer != timer || d.stopped {
			d.mu.Unlock()
			return
		}
		callback := d.onTimeout
		d.timer = nil
		d.mu.Unlock()

		if callback != nil {
			callback()
		}
	})
	d.timer = timer
}

// Stop disarms the detector for good.
func (d *IdleDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
