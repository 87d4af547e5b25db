package analyze

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/upskill-ai/salescoach/internal/scenario"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type evalStore map[string]*scenario.Scenario

func (s evalStore) Evaluation(id string) (*scenario.Scenario, bool) {
	sc, ok := s[id]
	return sc, ok
}

func testEvalStore() evalStore {
	return evalStore{
		"cold-call": {
			Messages: []scenario.Message{
				{Role: "system", Content: "Evaluate the cold call below."},
			},
		},
	}
}

const cannedEvaluation = `{
	"speaking_tone_style": {"professional_tone": 8, "active_listening": 7, "engagement_quality": 6, "total": 0},
	"conversation_content": {"needs_assessment": 20, "value_proposition": 18, "objection_handling": 15, "total": 0},
	"overall_score": 74,
	"strengths": ["clear opening"],
	"improvements": ["ask more questions"],
	"specific_feedback": "Solid call overall."
}`

func TestAnalyze(t *testing.T) {
	var gotPath string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		if got := r.Header.Get("api-key"); got != "chat-key" {
			t.Errorf("api-key header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": cannedEvaluation}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := NewConversationAnalyzer(testEvalStore(), srv.URL, "chat-key", "gpt-4o", testLogger())
	result, err := a.Analyze(context.Background(), "cold-call", "User: Hi...\nAssistant: Hello.")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if !strings.Contains(gotPath, "/openai/deployments/gpt-4o/chat/completions") {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotPath, "api-version=2024-12-01-preview") {
		t.Errorf("missing api-version: %q", gotPath)
	}
	if len(gotBody.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(gotBody.Messages))
	}
	if !strings.Contains(gotBody.Messages[1].Content, "Evaluate the cold call below.") {
		t.Error("prompt missing scenario evaluation text")
	}
	if !strings.Contains(gotBody.Messages[1].Content, "User: Hi...") {
		t.Error("prompt missing transcript")
	}
	if !strings.Contains(string(gotBody.ResponseFormat), "sales_evaluation") {
		t.Error("request missing structured response format")
	}

	if result.OverallScore != 74 {
		t.Errorf("OverallScore = %d", result.OverallScore)
	}
	// Totals are recomputed from individual scores, overriding model output.
	if result.SpeakingToneStyle.Total != 21 {
		t.Errorf("tone total = %d, want 21", result.SpeakingToneStyle.Total)
	}
	if result.ConversationContent.Total != 53 {
		t.Errorf("content total = %d, want 53", result.ConversationContent.Total)
	}
}

func TestAnalyze_NotConfigured(t *testing.T) {
	a := NewConversationAnalyzer(testEvalStore(), "", "", "gpt-4o", testLogger())
	if _, err := a.Analyze(context.Background(), "cold-call", "transcript"); err == nil {
		t.Fatal("expected error when endpoint and key are unset")
	}
}

func TestAnalyze_UnknownScenario(t *testing.T) {
	a := NewConversationAnalyzer(testEvalStore(), "https://example.invalid", "key", "gpt-4o", testLogger())
	if _, err := a.Analyze(context.Background(), "nope", "transcript"); err == nil {
		t.Fatal("expected error for unknown scenario")
	}
}

func TestAnalyze_ModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewConversationAnalyzer(testEvalStore(), srv.URL, "key", "gpt-4o", testLogger())
	if _, err := a.Analyze(context.Background(), "cold-call", "transcript"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestAnalyze_EmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	a := NewConversationAnalyzer(testEvalStore(), srv.URL, "key", "gpt-4o", testLogger())
	if _, err := a.Analyze(context.Background(), "cold-call", "transcript"); err == nil {
		t.Fatal("expected error on empty completion")
	}
}
