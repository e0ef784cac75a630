package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
)

// ErrNoStockPhrase is returned for text with no pre-rendered clip.
var ErrNoStockPhrase = errors.New("no stock phrase")

// Stock serves pre-rendered clips keyed by normalized phrase text. A clip
// named could_you_repeat_that.wav answers "Could you repeat that?".
type Stock struct {
	mu    sync.RWMutex
	clips map[string]Audio
}

func NewStock() *Stock {
	return &Stock{clips: make(map[string]Audio)}
}

// LoadStock reads every .wav file in dir.
func LoadStock(dir string) (*Stock, error) {
	s := NewStock()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read stock phrases: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		pcm, rate, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Name(), err)
		}
		phrase := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		s.Add(phrase, Audio{PCM: pcm, SampleRate: rate})
	}
	return s, nil
}

func (s *Stock) Name() string { return "stock" }

func (s *Stock) Add(phrase string, a Audio) {
	s.mu.Lock()
	s.clips[normalizePhrase(phrase)] = a
	s.mu.Unlock()
}

func (s *Stock) Has(text string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clips[normalizePhrase(text)]
	return ok
}

func (s *Stock) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clips)
}

func (s *Stock) Synthesize(_ context.Context, text string) (Audio, error) {
	s.mu.RLock()
	a, ok := s.clips[normalizePhrase(text)]
	s.mu.RUnlock()
	if !ok {
		return Audio{}, fmt.Errorf("%w for %q", ErrNoStockPhrase, text)
	}
	return a, nil
}

// normalizePhrase lowercases, drops punctuation and folds separators so file
// names and spoken text map to the same key.
func normalizePhrase(text string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '_' || r == '-':
			space = true
		}
	}
	return b.String()
}
