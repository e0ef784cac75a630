package session

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestIdleDetectorFiresAfterTimeout(t *testing.T) {
	detector := NewIdleDetector(30 * time.Millisecond)

	done := make(chan struct{}, 1)
	detector.OnTimeout(func() {
		done <- struct{}{}
	})

	detector.Arm()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected idle callback to fire")
	}
}

func TestIdleDetectorSpeechDisarms(t *testing.T) {
	detector := NewIdleDetector(80 * time.Millisecond)

	var fired atomic.Int32
	detector.OnTimeout(func() {
		fired.Add(1)
	})

	detector.Arm()
	time.Sleep(20 * time.Millisecond)
	detector.OnSpeech()

	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("expected 0 callbacks after speech, got %d", fired.Load())
	}
}

func TestIdleDetectorRearmRestartsCountdown(t *testing.T) {
	detector := NewIdleDetector(60 * time.Millisecond)

	var fired atomic.Int32
	detector.OnTimeout(func() { fired.Add(1) })

	detector.Arm()
	time.Sleep(40 * time.Millisecond)
	detector.Arm()
	time.Sleep(40 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("re-arm should restart the countdown")
	}

	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("expected exactly one callback, got %d", fired.Load())
	}
}

func TestIdleDetectorStopIsFinal(t *testing.T) {
	detector := NewIdleDetector(10 * time.Millisecond)

	var fired atomic.Int32
	detector.OnTimeout(func() { fired.Add(1) })

	detector.Arm()
	detector.Stop()
	detector.Arm()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("expected no callbacks after Stop, got %d", fired.Load())
	}
}
