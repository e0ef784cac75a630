package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

type openaiChat struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func openaiReply(w http.ResponseWriter, content, finish string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 123,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
	})
}

func TestOpenAISendsOneSystemMessage(t *testing.T) {
	var got openaiChat
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.Contains(auth, "test-key") {
			t.Errorf("expected bearer key, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		openaiReply(w, "  Could you give me a number for that?  ", "stop")
	}))
	defer server.Close()

	client, err := NewClient("openai", "test-key", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	line, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "Spoken aloud."},
		{Role: RoleSystem, Content: "One sentence."},
		{Role: RoleUser, Content: "The answer was vague."},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if line != "Could you give me a number for that?" {
		t.Fatalf("unexpected line %q", line)
	}

	if got.Model != "gpt-4o-mini" || got.MaxTokens != defaultMaxTokens {
		t.Fatalf("unexpected model or cap: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "Spoken aloud.\n\nOne sentence." {
		t.Fatalf("expected one folded system message, got %+v", got.Messages)
	}
}

func TestOpenAILengthCutIsTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		openaiReply(w, "Could you walk me", "length")
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1", maxTokens: 8})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "reword"}})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestOpenAIEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "chatcmpl-1", "object": "chat.completion", "choices": []any{}})
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1", maxTokens: defaultMaxTokens})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "reword"}})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestOpenAIStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
		}))

		client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1", maxTokens: defaultMaxTokens})
		if err != nil {
			t.Fatalf("newOpenAIClient failed: %v", err)
		}
		_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "reword"}})
		server.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if gateway.IsTransient(err) != tc.transient {
			t.Fatalf("status %d: transient = %v, want %v (%v)", tc.status, !tc.transient, tc.transient, err)
		}
	}
}

func TestOpenAINoRequestWithoutUserTurn(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		openaiReply(w, "ok", "stop")
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1", maxTokens: defaultMaxTokens})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), []Message{{Role: RoleSystem, Content: "be brief"}})
	if !errors.Is(err, ErrNoUserTurn) {
		t.Fatalf("expected ErrNoUserTurn, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no request, got %d", calls)
	}
}
