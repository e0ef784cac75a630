package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Ghost Interviewer environment variables.
const EnvPrefix = "GHOST_INTERVIEWER_"

// ErrNoProviders is returned by Require when a gateway has nothing to call.
var ErrNoProviders = errors.New("no providers configured")

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	Server   Server     `yaml:"server"`
	Storage  Storage    `yaml:"storage"`
	Log      Log        `yaml:"log"`
	VAD      VAD        `yaml:"vad"`
	Dialogue Dialogue   `yaml:"dialogue"`
	Session  Session    `yaml:"session"`
	Gateway  Gateway    `yaml:"gateway"`
	STT      []Provider `yaml:"stt"`
	TTS      []Provider `yaml:"tts"`
	LLM      []Provider `yaml:"llm"`
	LiveKit  LiveKit    `yaml:"livekit"`
	GDrive   GDrive     `yaml:"gdrive"`
	Feedback Feedback   `yaml:"feedback"`

	GoogleCredentialsFile string `yaml:"google_credentials_file"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Storage struct {
	DBPath   string `yaml:"db_path"`
	AudioDir string `yaml:"audio_dir"`
	// TranscriptDir receives a markdown transcript per finished session.
	TranscriptDir string `yaml:"transcript_dir"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type VAD struct {
	SampleRate     int     `yaml:"sample_rate"`
	FrameMs        int     `yaml:"frame_ms"`
	Threshold      float64 `yaml:"threshold"`
	SpeechFrames   int     `yaml:"speech_frames"`
	SilenceFrames  int     `yaml:"silence_frames"`
	Model          string  `yaml:"model"`
	MaxUtterance   string  `yaml:"max_utterance"`
	MinUtteranceMs int     `yaml:"min_utterance_ms"`
}

type Dialogue struct {
	MinWords     int      `yaml:"min_words"`
	Keywords     []string `yaml:"keywords"`
	MaxFollowUps int      `yaml:"max_follow_ups"`
	Phrasing     bool     `yaml:"phrasing"`
}

type Session struct {
	IdleTimeout   string `yaml:"idle_timeout"`
	PacePlayback  bool   `yaml:"pace_playback"`
	RecordAudio   bool   `yaml:"record_audio"`
	Language      string `yaml:"language"`
	StockPhrases  string `yaml:"stock_phrases_dir"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

type Gateway struct {
	Attempts       int    `yaml:"attempts"`
	BaseBackoff    string `yaml:"base_backoff"`
	AttemptTimeout string `yaml:"attempt_timeout"`
	Limiter        string `yaml:"limiter"`
	RedisURL       string `yaml:"redis_url"`
}

// Provider configures one entry of a gateway chain. Lower priority is tried first.
// MaxPerWindow <= 0 means the provider is not rate limited.
type Provider struct {
	Name         string `yaml:"name"`
	Priority     int    `yaml:"priority"`
	MaxPerWindow int    `yaml:"max_per_window"`
	Window       string `yaml:"window"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	Voice        string `yaml:"voice"`
	Disabled     bool   `yaml:"disabled"`

	APIKey string `yaml:"-"`
}

type LiveKit struct {
	URL string `yaml:"url"`

	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

type GDrive struct {
	FolderID string `yaml:"folder_id"`
}

type Feedback struct {
	WebhookURL string `yaml:"webhook_url"`
}

func defaults() Config {
	return Config{
		Server:  Server{Addr: ":8080"},
		Storage: Storage{DBPath: "data/ghost-interviewer.db", AudioDir: "data/audio", TranscriptDir: "data/transcripts"},
		Log:     Log{Level: "info", Format: "json"},
		VAD: VAD{
			SampleRate:     16000,
			FrameMs:        20,
			Threshold:      0.5,
			SpeechFrames:   3,
			SilenceFrames:  35,
			Model:          "logistic",
			MaxUtterance:   "30s",
			MinUtteranceMs: 300,
		},
		Dialogue: Dialogue{MinWords: 8, MaxFollowUps: 2},
		Session: Session{
			IdleTimeout:  "5m",
			PacePlayback: true,
			Language:     "en-US",
		},
		Gateway: Gateway{
			Attempts:       3,
			BaseBackoff:    "250ms",
			AttemptTimeout: "15s",
			Limiter:        "memory",
		},
		STT: []Provider{
			{Name: "deepgram", Priority: 0, MaxPerWindow: 60, Window: "1m", Model: "nova-2"},
			{Name: "openai", Priority: 1, MaxPerWindow: 50, Window: "1m", Model: "whisper-1"},
		},
		TTS: []Provider{
			{Name: "elevenlabs", Priority: 0, MaxPerWindow: 60, Window: "1m", Model: "eleven_flash_v2_5", Voice: "21m00Tcm4TlvDq8ikWAM"},
			{Name: "openai", Priority: 1, MaxPerWindow: 50, Window: "1m", Model: "tts-1", Voice: "alloy"},
		},
		LiveKit:               LiveKit{URL: "ws://localhost:7880"},
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// Require returns an error when either speech gateway would have no provider
// to call. This is the only configuration problem that stops the server.
func (c *Config) Require() error {
	if len(c.EnabledSTT()) == 0 {
		return fmt.Errorf("stt: %w", ErrNoProviders)
	}
	if len(c.EnabledTTS()) == 0 && c.Session.StockPhrases == "" {
		return fmt.Errorf("tts: %w", ErrNoProviders)
	}
	return nil
}

func (c *Config) EnabledSTT() []Provider { return enabled(c.STT) }
func (c *Config) EnabledTTS() []Provider { return enabled(c.TTS) }
func (c *Config) EnabledLLM() []Provider { return enabled(c.LLM) }

// enabled filters out disabled providers and providers without credentials,
// sorted by priority.
func enabled(list []Provider) []Provider {
	out := make([]Provider, 0, len(list))
	for _, p := range list {
		if p.Disabled || !hasCredentials(p) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func hasCredentials(p Provider) bool {
	switch p.Name {
	case "google", "stock":
		return true
	default:
		return p.APIKey != ""
	}
}

// WindowDuration returns the provider's rate-limit window, one minute by default.
func (p Provider) WindowDuration() time.Duration {
	return parseDuration(p.Window, time.Minute)
}

func (c *Config) ParsedIdleTimeout() time.Duration {
	return parseDuration(c.Session.IdleTimeout, 5*time.Minute)
}

func (c *Config) ParsedMaxUtterance() time.Duration {
	return parseDuration(c.VAD.MaxUtterance, 30*time.Second)
}

func (c *Config) ParsedBaseBackoff() time.Duration {
	return parseDuration(c.Gateway.BaseBackoff, 250*time.Millisecond)
}

func (c *Config) ParsedAttemptTimeout() time.Duration {
	return parseDuration(c.Gateway.AttemptTimeout, 15*time.Second)
}

// FrameSamples is the number of samples in one VAD frame.
func (c *Config) FrameSamples() int {
	return c.VAD.SampleRate * c.VAD.FrameMs / 1000
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_DIR"); v != "" {
		cfg.Storage.AudioDir = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_DIR"); v != "" {
		cfg.Storage.TranscriptDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv(EnvPrefix + "VAD_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 && f < 1 {
			cfg.VAD.Threshold = f
		}
	}
	if v := os.Getenv(EnvPrefix + "VAD_SPEECH_FRAMES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.VAD.SpeechFrames = n
		}
	}
	if v := os.Getenv(EnvPrefix + "VAD_SILENCE_FRAMES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.VAD.SilenceFrames = n
		}
	}
	if v := os.Getenv(EnvPrefix + "VAD_MODEL"); v != "" {
		cfg.VAD.Model = v
	}
	if v := os.Getenv(EnvPrefix + "DIALOGUE_MIN_WORDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Dialogue.MinWords = n
		}
	}
	if v := os.Getenv(EnvPrefix + "DIALOGUE_KEYWORDS"); v != "" {
		cfg.Dialogue.Keywords = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "SESSION_IDLE_TIMEOUT"); v != "" {
		cfg.Session.IdleTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "STOCK_PHRASES_DIR"); v != "" {
		cfg.Session.StockPhrases = v
	}
	if v := os.Getenv(EnvPrefix + "GATEWAY_LIMITER"); v != "" {
		cfg.Gateway.Limiter = v
	}
	if v := os.Getenv(EnvPrefix + "REDIS_URL"); v != "" {
		cfg.Gateway.RedisURL = v
	}
	if v := os.Getenv(EnvPrefix + "LIVEKIT_URL"); v != "" {
		cfg.LiveKit.URL = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDrive.FolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
	if v := os.Getenv(EnvPrefix + "FEEDBACK_WEBHOOK_URL"); v != "" {
		cfg.Feedback.WebhookURL = v
	}
	if v := os.Getenv(EnvPrefix + "STT_ORDER"); v != "" {
		reorder(cfg.STT, splitList(v))
	}
	if v := os.Getenv(EnvPrefix + "TTS_ORDER"); v != "" {
		reorder(cfg.TTS, splitList(v))
	}
}

// reorder rewrites priorities so the named providers come first, in order.
func reorder(list []Provider, names []string) {
	rank := make(map[string]int, len(names))
	for i, n := range names {
		rank[n] = i
	}
	for i := range list {
		if r, ok := rank[list[i].Name]; ok {
			list[i].Priority = r
		} else {
			list[i].Priority = len(names) + list[i].Priority
		}
	}
}

func loadSecrets(cfg *Config) {
	for _, list := range [][]Provider{cfg.STT, cfg.TTS, cfg.LLM} {
		for i := range list {
			list[i].APIKey = os.Getenv(secretKey(list[i].Name))
		}
	}
	cfg.LiveKit.APIKey = os.Getenv(EnvPrefix + "LIVEKIT_API_KEY")
	cfg.LiveKit.APISecret = os.Getenv(EnvPrefix + "LIVEKIT_API_SECRET")
}

func secretKey(provider string) string {
	return EnvPrefix + strings.ToUpper(provider) + "_API_KEY"
}

func validate(cfg *Config) []string {
	var warnings []string

	for _, group := range []struct {
		kind string
		list []Provider
	}{{"stt", cfg.STT}, {"tts", cfg.TTS}, {"llm", cfg.LLM}} {
		for _, p := range group.list {
			if p.Disabled || hasCredentials(p) {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("%s provider %q has no API key and is skipped. Set %s.", group.kind, p.Name, secretKey(p.Name)))
		}
	}

	if cfg.Dialogue.Phrasing && len(cfg.EnabledLLM()) == 0 {
		warnings = append(warnings, "Dialogue phrasing enabled but no LLM provider is configured; canned phrases will be used.")
	}
	if cfg.VAD.SampleRate <= 0 || cfg.VAD.FrameMs <= 0 {
		warnings = append(warnings, "Invalid VAD sample_rate/frame_ms; using 16000 Hz, 20 ms.")
		cfg.VAD.SampleRate, cfg.VAD.FrameMs = 16000, 20
	}
	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold >= 1 {
		warnings = append(warnings, fmt.Sprintf("Invalid vad.threshold %v; using 0.5.", cfg.VAD.Threshold))
		cfg.VAD.Threshold = 0.5
	}
	if cfg.VAD.SpeechFrames <= 0 {
		cfg.VAD.SpeechFrames = 3
	}
	if cfg.VAD.SilenceFrames <= cfg.VAD.SpeechFrames {
		warnings = append(warnings, "vad.silence_frames should be larger than vad.speech_frames to tolerate pauses.")
	}
	if _, err := time.ParseDuration(cfg.Session.IdleTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid session.idle_timeout %q; using default 5m.", cfg.Session.IdleTimeout))
	}
	if cfg.Gateway.Attempts <= 0 {
		cfg.Gateway.Attempts = 3
	}
	switch cfg.Gateway.Limiter {
	case "memory", "":
	case "redis":
		if cfg.Gateway.RedisURL == "" {
			warnings = append(warnings, "gateway.limiter is redis but no redis_url is set; using in-memory limiter.")
			cfg.Gateway.Limiter = "memory"
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown gateway.limiter %q; using memory.", cfg.Gateway.Limiter))
		cfg.Gateway.Limiter = "memory"
	}
	if cfg.LiveKit.APIKey == "" || cfg.LiveKit.APISecret == "" {
		warnings = append(warnings, "LiveKit credentials not configured; only the websocket room transport is available.")
	}

	return warnings
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
