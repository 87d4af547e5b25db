package graphgen

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCalendar() CalendarData {
	var data CalendarData
	raw := `{
		"value": [
			{
				"subject": "Project Review",
				"attendees": [
					{"emailAddress": {"name": "John Doe"}},
					{"emailAddress": {"name": "Jane Smith"}}
				]
			},
			{
				"subject": "Sales Meeting",
				"attendees": [{"emailAddress": {"name": "Alice Johnson"}}]
			}
		]
	}`
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		panic(err)
	}
	return data
}

func TestGenerate_EmptyCalendarUsesFallback(t *testing.T) {
	g := NewGenerator("https://example.invalid", "key", "gpt-4o", testLogger())

	gen, err := g.Generate(context.Background(), CalendarData{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.ID != "graph-generated" {
		t.Errorf("ID = %q", gen.ID)
	}
	if gen.Name != "Your Personalized Sales Scenario" {
		t.Errorf("Name = %q", gen.Name)
	}
	if !gen.GeneratedFromGraph {
		t.Error("GeneratedFromGraph should be set")
	}
	if !strings.Contains(gen.Instructions(), "Jordan Martinez") {
		t.Error("expected fallback scenario content")
	}
}

func TestGenerate_NotConfiguredUsesFallback(t *testing.T) {
	g := NewGenerator("", "", "gpt-4o", testLogger())

	gen, err := g.Generate(context.Background(), testCalendar())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(gen.Instructions(), "Jordan Martinez") {
		t.Error("expected fallback scenario content without a configured model")
	}
}

func TestGenerate_FromMeetings(t *testing.T) {
	const content = "Discovery call with Fabrikam on cloud migration. You are Priya Shah, CIO at Fabrikam."

	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "gen-key" {
			t.Errorf("api-key header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content + "\n"}}},
		})
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "gen-key", "gpt-4o", testLogger())
	gen, err := g.Generate(context.Background(), testCalendar())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(gotBody.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(gotBody.Messages))
	}
	prompt := gotBody.Messages[1].Content
	if !strings.Contains(prompt, "- Project Review with John Doe, Jane Smith") {
		t.Errorf("prompt missing first meeting:\n%s", prompt)
	}
	if !strings.Contains(prompt, "- Sales Meeting with Alice Johnson") {
		t.Errorf("prompt missing second meeting:\n%s", prompt)
	}
	if gotBody.Temperature != 0.7 || gotBody.MaxTokens != 1500 {
		t.Errorf("generation parameters = %v/%d", gotBody.Temperature, gotBody.MaxTokens)
	}

	if gen.Instructions() != content {
		t.Errorf("Instructions() = %q", gen.Instructions())
	}
	if gen.Description != "Discovery call with Fabrikam on cloud migration." {
		t.Errorf("Description = %q", gen.Description)
	}
	if gen.Model != "gpt-4o" {
		t.Errorf("Model = %q", gen.Model)
	}
	if gen.ModelParameters.Temperature == nil || *gen.ModelParameters.Temperature != 0.7 {
		t.Errorf("Temperature = %v", gen.ModelParameters.Temperature)
	}
	if gen.ModelParameters.MaxTokens == nil || *gen.ModelParameters.MaxTokens != 2000 {
		t.Errorf("MaxTokens = %v", gen.ModelParameters.MaxTokens)
	}
}

func TestGenerate_ModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "key", "gpt-4o", testLogger())
	if _, err := g.Generate(context.Background(), testCalendar()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestExtractMeetings(t *testing.T) {
	var data CalendarData
	for i := 0; i < 5; i++ {
		data.Value = append(data.Value, Event{Subject: "Standup"})
	}
	if got := extractMeetings(data); len(got) != 3 {
		t.Errorf("meetings = %d, want at most 3", len(got))
	}

	meetings := extractMeetings(CalendarData{Value: []Event{{}}})
	if len(meetings) != 1 || meetings[0].subject != "Meeting" {
		t.Errorf("meetings = %+v, want default subject", meetings)
	}

	crowded := testCalendar()
	for i := 0; i < 3; i++ {
		crowded.Value[0].Attendees = append(crowded.Value[0].Attendees, Attendee{})
	}
	if got := extractMeetings(crowded); len(got[0].attendees) != 3 {
		t.Errorf("attendees = %d, want at most 3", len(got[0].attendees))
	}
}

func TestFormatMeetingList(t *testing.T) {
	got := formatMeetingList([]meeting{
		{subject: "Team Standup", attendees: []string{"Alice", "Bob"}},
		{subject: "Client Call", attendees: []string{"Charlie", "Diana", "Eve"}},
	})
	want := "- Team Standup with Alice, Bob\n- Client Call with Charlie, Diana, Eve"
	if got != want {
		t.Errorf("formatted list = %q, want %q", got, want)
	}
}

func TestFirstSentence_Truncates(t *testing.T) {
	long := strings.Repeat("x", 150) + ". More text."
	got := firstSentence(long)
	if len(got) != 103 || !strings.HasSuffix(got, "...") {
		t.Errorf("firstSentence = %q (len %d)", got, len(got))
	}

	if got := firstSentence("Short summary. Rest."); got != "Short summary." {
		t.Errorf("firstSentence = %q", got)
	}
}
