package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Recorder writes candidate utterances to audioDir/<session>/<n>.wav.
type Recorder struct {
	audioDir   string
	sampleRate int

	mu    sync.Mutex
	count map[string]int

	encode func(path string, pcm []byte, sampleRate int) error
}

func NewRecorder(audioDir string, sampleRate int) *Recorder {
	if audioDir == "" {
		audioDir = filepath.Join("data", "audio")
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	return &Recorder{
		audioDir:   audioDir,
		sampleRate: sampleRate,
		count:      make(map[string]int),
		encode:     writeWAV,
	}
}

// SaveUtterance persists one utterance and returns its path.
func (r *Recorder) SaveUtterance(sessionID string, pcm []byte) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("save utterance: empty session id")
	}

	r.mu.Lock()
	r.count[sessionID]++
	n := r.count[sessionID]
	r.mu.Unlock()

	dir := filepath.Join(r.audioDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio directory: %w", err)
	}

	path := filepath.Join(dir, strconv.Itoa(n)+".wav")
	if err := r.encode(path, pcm, r.sampleRate); err != nil {
		return "", err
	}
	return path, nil
}

// EndSession forgets the utterance counter for a session.
func (r *Recorder) EndSession(sessionID string) {
	r.mu.Lock()
	delete(r.count, sessionID)
	r.mu.Unlock()
}

func writeWAV(path string, pcm []byte, sampleRate int) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wav output: %w", err)
	}
	defer out.Close()

	header, err := wavHeader(len(pcm), sampleRate, pcmChannels, pcmBitDepth)
	if err != nil {
		return fmt.Errorf("build wav header: %w", err)
	}
	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := out.Write(pcm); err != nil {
		return fmt.Errorf("write wav payload: %w", err)
	}
	return nil
}
