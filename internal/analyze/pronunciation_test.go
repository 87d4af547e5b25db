package analyze

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWavFromPCM(t *testing.T) {
	pcm := make([]byte, 4800) // 100ms of 24kHz 16-bit mono
	wav := wavFromPCM(pcm)

	if got := string(wav[0:4]); got != "RIFF" {
		t.Errorf("header = %q, want RIFF", got)
	}
	if got := string(wav[8:12]); got != "WAVE" {
		t.Errorf("format = %q, want WAVE", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Errorf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
	if len(wav) != 44+len(pcm) {
		t.Errorf("total size = %d, want %d", len(wav), 44+len(pcm))
	}
}

func TestCombineUserAudio(t *testing.T) {
	p := NewPronunciationAssessor("key", "swedencentral", testLogger())
	chunks := []AudioChunk{
		{Type: "user", Data: base64.StdEncoding.EncodeToString([]byte("abc"))},
		{Type: "assistant", Data: base64.StdEncoding.EncodeToString([]byte("SKIP"))},
		{Type: "user", Data: "!!!not base64!!!"},
		{Type: "user", Data: base64.StdEncoding.EncodeToString([]byte("def"))},
	}

	if got := string(p.combineUserAudio(chunks)); got != "abcdef" {
		t.Errorf("combined = %q, want %q", got, "abcdef")
	}
}

const cannedSpeechResponse = `{
	"RecognitionStatus": "Success",
	"NBest": [{
		"PronunciationAssessment": {
			"AccuracyScore": 92.5, "FluencyScore": 88.0, "CompletenessScore": 100.0,
			"ProsodyScore": 81.0, "PronScore": 90.0
		},
		"Words": [
			{"Word": "hello", "PronunciationAssessment": {"AccuracyScore": 95.0, "ErrorType": "None"}},
			{"Word": "world", "PronunciationAssessment": {"AccuracyScore": 85.0, "ErrorType": "Mispronunciation"}}
		]
	}]
}`

func TestAssess(t *testing.T) {
	var gotAssessmentHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Ocp-Apim-Subscription-Key"); got != "speech-key" {
			t.Errorf("subscription key header = %q", got)
		}
		gotAssessmentHeader = r.Header.Get("Pronunciation-Assessment")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(cannedSpeechResponse))
	}))
	defer srv.Close()

	p := NewPronunciationAssessor("speech-key", "swedencentral", testLogger())
	p.endpoint = srv.URL

	chunks := []AudioChunk{
		{Type: "user", Data: base64.StdEncoding.EncodeToString(make([]byte, 1024))},
	}
	result, err := p.Assess(context.Background(), chunks, "hello world")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	cfgJSON, err := base64.StdEncoding.DecodeString(gotAssessmentHeader)
	if err != nil {
		t.Fatalf("assessment header not base64: %v", err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		t.Fatalf("assessment header not JSON: %v", err)
	}
	if cfg["ReferenceText"] != "hello world" {
		t.Errorf("ReferenceText = %v", cfg["ReferenceText"])
	}
	if cfg["GradingSystem"] != "HundredMark" || cfg["Granularity"] != "Phoneme" {
		t.Errorf("grading config = %v", cfg)
	}
	if cfg["EnableMiscue"] != true || cfg["EnableProsodyAssessment"] != true {
		t.Errorf("miscue/prosody config = %v", cfg)
	}

	if result.PronunciationScore != 90.0 || result.AccuracyScore != 92.5 {
		t.Errorf("scores = %+v", result)
	}
	if result.ProsodyScore != 81.0 {
		t.Errorf("ProsodyScore = %v", result.ProsodyScore)
	}
	if len(result.Words) != 2 || result.Words[1].ErrorType != "Mispronunciation" {
		t.Errorf("words = %+v", result.Words)
	}
}

func TestAssess_MissingKey(t *testing.T) {
	p := NewPronunciationAssessor("", "swedencentral", testLogger())
	if _, err := p.Assess(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error for missing speech key")
	}
}

func TestAssess_NoUserAudio(t *testing.T) {
	p := NewPronunciationAssessor("key", "swedencentral", testLogger())
	chunks := []AudioChunk{{Type: "assistant", Data: base64.StdEncoding.EncodeToString([]byte("x"))}}
	if _, err := p.Assess(context.Background(), chunks, ""); err == nil {
		t.Fatal("expected error when no user audio is present")
	}
}

func TestAssess_RecognitionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"RecognitionStatus": "InitialSilenceTimeout", "NBest": []}`))
	}))
	defer srv.Close()

	p := NewPronunciationAssessor("key", "swedencentral", testLogger())
	p.endpoint = srv.URL

	chunks := []AudioChunk{{Type: "user", Data: base64.StdEncoding.EncodeToString([]byte("pcm"))}}
	if _, err := p.Assess(context.Background(), chunks, "text"); err == nil {
		t.Fatal("expected error on failed recognition")
	}
}
