package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/config"
	"github.com/sjawhar/ghost-interviewer/internal/feedback"
	"github.com/sjawhar/ghost-interviewer/internal/gateway"
	"github.com/sjawhar/ghost-interviewer/internal/logger"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
	"github.com/sjawhar/ghost-interviewer/internal/vad"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "ghost-interviewer dev") || !strings.Contains(out, "commit: none") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ghost-interviewer.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const testConfig = `
stt:
  - name: deepgram
    priority: 0
    max_per_window: 60
    window: 1m
    model: nova-2
  - name: openai
    priority: 1
    model: whisper-1
tts:
  - name: openai
    priority: 0
    max_per_window: 50
    model: tts-1
    voice: alloy
llm:
  - name: anthropic
    disabled: true
`

func TestProvidersCmd(t *testing.T) {
	t.Setenv("GHOST_INTERVIEWER_DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("GHOST_INTERVIEWER_OPENAI_API_KEY", "")
	path := writeConfig(t, testConfig)

	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"providers", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("providers command failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"stt:",
		"1. deepgram",
		"60 per 1m0s",
		"openai       skipped (no credentials)",
		"anthropic    skipped (disabled)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestBuildGatewaysSkipsUnusableProviders(t *testing.T) {
	t.Setenv("GHOST_INTERVIEWER_DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("GHOST_INTERVIEWER_OPENAI_API_KEY", "oa-key")
	cfg, _, err := config.Load(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.LLM = append(cfg.LLM, config.Provider{Name: "mystery", APIKey: "k"})

	gws, err := buildGateways(context.Background(), cfg, gateway.NewMemoryLimiter(), logger.Discard())
	if err != nil {
		t.Fatalf("buildGateways: %v", err)
	}
	defer func() { _ = gws.Close() }()

	names := map[string][]string{}
	for _, st := range gws.Snapshot(context.Background()) {
		names[st.Gateway] = append(names[st.Gateway], st.Name)
	}
	if strings.Join(names["stt"], ",") != "deepgram,openai" {
		t.Fatalf("unexpected stt chain: %v", names["stt"])
	}
	if strings.Join(names["tts"], ",") != "openai" {
		t.Fatalf("unexpected tts chain: %v", names["tts"])
	}
	if gws.llm != nil {
		t.Fatalf("expected no llm gateway when every llm provider is unusable, got %v", names["llm"])
	}
}

func TestBuildGatewaysRunsStockLast(t *testing.T) {
	t.Setenv("GHOST_INTERVIEWER_DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("GHOST_INTERVIEWER_OPENAI_API_KEY", "oa-key")

	dir := t.TempDir()
	clip := audio.EncodeWAV(make([]byte, 3200), 16000)
	if err := os.WriteFile(filepath.Join(dir, "hello.wav"), clip, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	explicit := strings.Replace(testConfig, "tts:\n", "tts:\n  - name: stock\n    priority: -5\n", 1)
	for name, body := range map[string]string{"implicit": testConfig, "explicit": explicit} {
		cfg, _, err := config.Load(writeConfig(t, body))
		if err != nil {
			t.Fatalf("%s: Load: %v", name, err)
		}
		cfg.Session.StockPhrases = dir

		gws, err := buildGateways(context.Background(), cfg, gateway.NewMemoryLimiter(), logger.Discard())
		if err != nil {
			t.Fatalf("%s: buildGateways: %v", name, err)
		}

		var chain []string
		for _, st := range gws.Snapshot(context.Background()) {
			if st.Gateway == "tts" {
				chain = append(chain, st.Name)
			}
		}
		_ = gws.Close()
		if strings.Join(chain, ",") != "openai,stock" {
			t.Fatalf("%s: expected stock after every voice, got %v", name, chain)
		}
	}
}

func TestLastResortPriority(t *testing.T) {
	chain := []gateway.Provider[string]{{Name: "a", Priority: 3}, {Name: "b", Priority: -2}}
	if got := lastResort(chain, gateway.Provider[string]{Name: "stock", Priority: -10}); got.Priority != 4 {
		t.Fatalf("expected priority 4, got %d", got.Priority)
	}
	if got := lastResort(nil, gateway.Provider[string]{Name: "stock", Priority: 7}); got.Priority != 7 {
		t.Fatalf("expected an alone provider to keep its priority, got %d", got.Priority)
	}
}

func TestBuildGatewaysFailsWithoutSTT(t *testing.T) {
	cfg := config.Config{}
	if _, err := buildGateways(context.Background(), cfg, gateway.NewMemoryLimiter(), logger.Discard()); err == nil {
		t.Fatal("expected an error with no stt providers")
	}
}

func TestSessionConfigMapping(t *testing.T) {
	cfg, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.VAD.MinUtteranceMs = 250
	cfg.Dialogue.Keywords = []string{"kafka"}

	sc := sessionConfig(cfg)
	if sc.SampleRate != 16000 || sc.MinUtterance != 250*time.Millisecond || sc.MaxUtterance != 30*time.Second {
		t.Fatalf("unexpected audio settings: %+v", sc)
	}
	if sc.VAD.SpeechFrames != cfg.VAD.SpeechFrames || sc.VAD.SilenceFrames != cfg.VAD.SilenceFrames {
		t.Fatalf("unexpected vad settings: %+v", sc.VAD)
	}
	if sc.Dialogue.MaxFollowUps != 2 || sc.Dialogue.Keywords[0] != "kafka" {
		t.Fatalf("unexpected dialogue settings: %+v", sc.Dialogue)
	}
	if _, ok := sc.NewModel().(*vad.LogisticModel); !ok {
		t.Fatalf("expected logistic model by default, got %T", sc.NewModel())
	}

	cfg.VAD.Model = "energy"
	if _, ok := sessionConfig(cfg).NewModel().(vad.EnergyModel); !ok {
		t.Fatal("expected energy model")
	}
}

func TestBuildSinksOrder(t *testing.T) {
	cfg, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Storage.TranscriptDir = t.TempDir()
	cfg.Feedback.WebhookURL = "http://127.0.0.1:1/hook"
	cfg.GDrive.FolderID = ""

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	sinks, webhook := buildSinks(context.Background(), cfg, store, logger.Discard())
	if len(sinks) != 3 || webhook == nil {
		t.Fatalf("expected store, writer and webhook sinks, got %d", len(sinks))
	}
	if _, ok := sinks[0].(*storage.SQLiteStore); !ok {
		t.Fatalf("expected store first, got %T", sinks[0])
	}
	if _, ok := sinks[1].(*storage.Writer); !ok {
		t.Fatalf("expected writer second, got %T", sinks[1])
	}
	if _, ok := sinks[2].(*feedback.Webhook); !ok {
		t.Fatalf("expected webhook last, got %T", sinks[2])
	}
}
