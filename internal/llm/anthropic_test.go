package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

func anthropicReply(w http.ResponseWriter, stop string, texts ...string) {
	content := make([]map[string]any, 0, len(texts))
	for _, t := range texts {
		content = append(content, map[string]any{"type": "text", "text": t})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-3-5-haiku-latest",
		"content":       content,
		"stop_reason":   stop,
		"stop_sequence": "",
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 2},
	})
}

func newTestAnthropic(t *testing.T, url string, maxTokens int) *anthropicClient {
	t.Helper()
	client, err := newAnthropicClient("test-key", "claude-3-5-haiku-latest", &clientOptions{baseURL: url, maxTokens: maxTokens})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}
	return client
}

func TestAnthropicRequestShape(t *testing.T) {
	var req struct {
		MaxTokens int64 `json:"max_tokens"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		anthropicReply(w, "end_turn", " Thanks for walking me ", "through that.")
	}))
	defer server.Close()

	line, err := newTestAnthropic(t, server.URL, 64).Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "Spoken aloud."},
		{Role: RoleUser, Content: "Question: biggest outage?"},
		{Role: RoleUser, Content: "Answer: the DNS one."},
		{Role: RoleAssistant, Content: "Noted."},
		{Role: RoleUser, Content: "Acknowledge briefly."},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if line != "Thanks for walking me through that." {
		t.Fatalf("unexpected line %q", line)
	}

	if req.MaxTokens != 64 {
		t.Fatalf("expected max_tokens 64, got %d", req.MaxTokens)
	}
	if len(req.System) != 1 || req.System[0].Text != "Spoken aloud." {
		t.Fatalf("expected top-level system prompt, got %+v", req.System)
	}
	if len(req.Messages) != 3 || req.Messages[0].Role != "user" || req.Messages[1].Role != "assistant" {
		t.Fatalf("expected alternating turns, got %+v", req.Messages)
	}
	if req.Messages[0].Content[0].Text != "Question: biggest outage?\n\nAnswer: the DNS one." {
		t.Fatalf("expected merged first turn, got %q", req.Messages[0].Content[0].Text)
	}
}

func TestAnthropicCompletionErrors(t *testing.T) {
	cases := []struct {
		name string
		stop string
		text []string
		want error
	}{
		{"max tokens", "max_tokens", []string{"Could you say more about"}, ErrTruncated},
		{"no content", "end_turn", nil, ErrEmptyCompletion},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			anthropicReply(w, tc.stop, tc.text...)
		}))
		_, err := newTestAnthropic(t, server.URL, defaultMaxTokens).Complete(context.Background(), []Message{{Role: RoleUser, Content: "reword"}})
		server.Close()

		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestAnthropicOverloadedIsTransient(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	_, err := newTestAnthropic(t, server.URL, defaultMaxTokens).Complete(context.Background(), []Message{{Role: RoleUser, Content: "reword"}})
	if !gateway.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the SDK not to retry, got %d calls", calls)
	}
}
