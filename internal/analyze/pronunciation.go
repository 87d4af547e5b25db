package analyze

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Audio captured in the browser arrives as 16-bit mono PCM at 24 kHz, the
// format the voice endpoint streams.
const (
	sampleRate    = 24000
	bitsPerSample = 16
	channels      = 1
)

// AudioChunk is one recorded audio fragment from the analyze request.
// Only chunks of type "user" carry trainee speech.
type AudioChunk struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64 PCM
}

// WordScore is the per-word detail of a pronunciation assessment.
type WordScore struct {
	Word          string  `json:"word"`
	AccuracyScore float64 `json:"accuracy_score"`
	ErrorType     string  `json:"error_type"`
}

// PronunciationResult is the outcome of a pronunciation assessment.
type PronunciationResult struct {
	AccuracyScore      float64     `json:"accuracy_score"`
	FluencyScore       float64     `json:"fluency_score"`
	CompletenessScore  float64     `json:"completeness_score"`
	ProsodyScore       float64     `json:"prosody_score"`
	PronunciationScore float64     `json:"pronunciation_score"`
	Words              []WordScore `json:"words"`
}

// PronunciationAssessor scores trainee speech with the Azure Speech
// pronunciation assessment API.
type PronunciationAssessor struct {
	key      string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewPronunciationAssessor creates an assessor for the given region. A
// missing key is tolerated here and reported when Assess is called.
func NewPronunciationAssessor(key, region string, logger *slog.Logger) *PronunciationAssessor {
	return &PronunciationAssessor{
		key:      key,
		endpoint: fmt.Sprintf("https://%s.stt.speech.microsoft.com", region),
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.With("component", "pronunciation"),
	}
}

// speechResponse mirrors the detailed-format recognition result.
type speechResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	NBest             []struct {
		PronunciationAssessment struct {
			AccuracyScore     float64 `json:"AccuracyScore"`
			FluencyScore      float64 `json:"FluencyScore"`
			CompletenessScore float64 `json:"CompletenessScore"`
			ProsodyScore      float64 `json:"ProsodyScore"`
			PronScore         float64 `json:"PronScore"`
		} `json:"PronunciationAssessment"`
		Words []struct {
			Word                    string `json:"Word"`
			PronunciationAssessment struct {
				AccuracyScore float64 `json:"AccuracyScore"`
				ErrorType     string  `json:"ErrorType"`
			} `json:"PronunciationAssessment"`
		} `json:"Words"`
	} `json:"NBest"`
}

// Assess combines the user's audio chunks and submits them for
// pronunciation assessment against the reference text.
func (p *PronunciationAssessor) Assess(ctx context.Context, chunks []AudioChunk, referenceText string) (*PronunciationResult, error) {
	if p.key == "" {
		return nil, errors.New("Azure Speech key not configured")
	}

	pcm := p.combineUserAudio(chunks)
	if len(pcm) == 0 {
		return nil, errors.New("no audio data to assess")
	}

	wav := wavFromPCM(pcm)

	assessmentCfg, err := json.Marshal(map[string]any{
		"ReferenceText":           referenceText,
		"GradingSystem":           "HundredMark",
		"Granularity":             "Phoneme",
		"EnableMiscue":            true,
		"EnableProsodyAssessment": true,
	})
	if err != nil {
		return nil, err
	}

	url := p.endpoint + "/speech/recognition/conversation/cognitiveservices/v1?language=en-US&format=detailed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wav))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/wav; codecs=audio/pcm; samplerate=%d", sampleRate))
	req.Header.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(assessmentCfg))
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call speech service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("speech service returned %s: %s", resp.Status, data)
	}

	var result speechResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode speech response: %w", err)
	}
	if result.RecognitionStatus != "Success" || len(result.NBest) == 0 {
		return nil, fmt.Errorf("speech recognition failed: %s", result.RecognitionStatus)
	}

	best := result.NBest[0]
	out := &PronunciationResult{
		AccuracyScore:      best.PronunciationAssessment.AccuracyScore,
		FluencyScore:       best.PronunciationAssessment.FluencyScore,
		CompletenessScore:  best.PronunciationAssessment.CompletenessScore,
		ProsodyScore:       best.PronunciationAssessment.ProsodyScore,
		PronunciationScore: best.PronunciationAssessment.PronScore,
	}
	for _, w := range best.Words {
		out.Words = append(out.Words, WordScore{
			Word:          w.Word,
			AccuracyScore: w.PronunciationAssessment.AccuracyScore,
			ErrorType:     w.PronunciationAssessment.ErrorType,
		})
	}

	p.logger.Info("pronunciation assessed", "score", out.PronunciationScore, "words", len(out.Words))
	return out, nil
}

// combineUserAudio decodes and concatenates the trainee's audio chunks.
// Undecodable chunks are skipped, not fatal.
func (p *PronunciationAssessor) combineUserAudio(chunks []AudioChunk) []byte {
	var pcm []byte
	for _, chunk := range chunks {
		if chunk.Type != "user" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		if err != nil {
			p.logger.Warn("skipping undecodable audio chunk", "error", err)
			continue
		}
		pcm = append(pcm, data...)
	}
	return pcm
}

// wavFromPCM wraps raw PCM samples in a 16-bit mono 24 kHz WAV container.
func wavFromPCM(pcm []byte) []byte {
	var buf bytes.Buffer

	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16)) // PCM chunk size
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM format
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
