// Package analyze scores finished training conversations: transcript
// evaluation through Azure OpenAI and pronunciation assessment through the
// Azure Speech service.
package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/upskill-ai/salescoach/internal/scenario"
)

const chatAPIVersion = "2024-12-01-preview"

// EvaluationStore resolves evaluation prompts by scenario ID.
type EvaluationStore interface {
	Evaluation(id string) (*scenario.Scenario, bool)
}

// ToneScores holds the speaking tone and style section of an evaluation.
type ToneScores struct {
	ProfessionalTone  int `json:"professional_tone"`
	ActiveListening   int `json:"active_listening"`
	EngagementQuality int `json:"engagement_quality"`
	Total             int `json:"total"`
}

// ContentScores holds the conversation content section of an evaluation.
type ContentScores struct {
	NeedsAssessment   int `json:"needs_assessment"`
	ValueProposition  int `json:"value_proposition"`
	ObjectionHandling int `json:"objection_handling"`
	Total             int `json:"total"`
}

// Evaluation is the structured result of a transcript analysis.
type Evaluation struct {
	SpeakingToneStyle   ToneScores    `json:"speaking_tone_style"`
	ConversationContent ContentScores `json:"conversation_content"`
	OverallScore        int           `json:"overall_score"`
	Strengths           []string      `json:"strengths"`
	Improvements        []string      `json:"improvements"`
	SpecificFeedback    string        `json:"specific_feedback"`
}

// ConversationAnalyzer evaluates transcripts against a scenario's evaluation
// prompt using Azure OpenAI chat completions with a strict response schema.
type ConversationAnalyzer struct {
	scenarios  EvaluationStore
	endpoint   string
	apiKey     string
	deployment string
	client     *http.Client
	logger     *slog.Logger
}

// NewConversationAnalyzer creates an analyzer. An empty endpoint or key is
// tolerated at construction; Analyze reports it when called.
func NewConversationAnalyzer(scenarios EvaluationStore, endpoint, apiKey, deployment string, logger *slog.Logger) *ConversationAnalyzer {
	return &ConversationAnalyzer{
		scenarios:  scenarios,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		deployment: deployment,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "analyzer"),
	}
}

type chatRequest struct {
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat json.RawMessage `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze evaluates a transcript for the given scenario.
func (a *ConversationAnalyzer) Analyze(ctx context.Context, scenarioID, transcript string) (*Evaluation, error) {
	if a.endpoint == "" || a.apiKey == "" {
		return nil, errors.New("Azure OpenAI endpoint or API key not configured")
	}

	eval, ok := a.scenarios.Evaluation(scenarioID)
	if !ok {
		return nil, fmt.Errorf("no evaluation prompt for scenario %q", scenarioID)
	}

	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{
				Role: "system",
				Content: "You are an expert sales conversation evaluator. " +
					"Analyze the provided conversation and return a structured evaluation.",
			},
			{Role: "user", Content: buildEvaluationPrompt(eval, transcript)},
		},
		ResponseFormat: evaluationResponseFormat,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.endpoint, a.deployment, chatAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call evaluation model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("evaluation model returned %s: %s", resp.Status, data)
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, errors.New("no content received from evaluation model")
	}

	var result Evaluation
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("parse evaluation: %w", err)
	}

	// The model fills in section totals; recompute them so they always match
	// the individual scores.
	result.SpeakingToneStyle.Total = result.SpeakingToneStyle.ProfessionalTone +
		result.SpeakingToneStyle.ActiveListening +
		result.SpeakingToneStyle.EngagementQuality
	result.ConversationContent.Total = result.ConversationContent.NeedsAssessment +
		result.ConversationContent.ValueProposition +
		result.ConversationContent.ObjectionHandling

	a.logger.Info("conversation evaluated", "scenario_id", scenarioID, "overall_score", result.OverallScore)
	return &result, nil
}

func buildEvaluationPrompt(eval *scenario.Scenario, transcript string) string {
	return eval.Instructions() + `

EVALUATION CRITERIA:

**SPEAKING TONE & STYLE (30 points total):**
- professional_tone: 0-10 points for confident, consultative, appropriate business language
- active_listening: 0-10 points for acknowledging concerns and asking clarifying questions
- engagement_quality: 0-10 points for encouraging dialogue and thoughtful responses

**CONVERSATION CONTENT QUALITY (70 points total):**
- needs_assessment: 0-25 points for understanding customer challenges and goals
- value_proposition: 0-25 points for clear benefits with data/examples/reasoning
- objection_handling: 0-20 points for addressing concerns with constructive solutions

Calculate overall_score as the sum of all individual scores (max 100).

You are evaluating the conversation from perspective of the user (starting the conversation).
DO NOT rate the conversation of the 'assistant'!

Provide maximum of 3 strengths and 3 areas of improvement.

CONVERSATION TO EVALUATE:
` + transcript
}

// evaluationResponseFormat is the strict JSON schema the model must answer
// with.
var evaluationResponseFormat = json.RawMessage(`{
  "type": "json_schema",
  "json_schema": {
    "name": "sales_evaluation",
    "strict": true,
    "schema": {
      "type": "object",
      "properties": {
        "speaking_tone_style": {
          "type": "object",
          "properties": {
            "professional_tone": {"type": "integer"},
            "active_listening": {"type": "integer"},
            "engagement_quality": {"type": "integer"},
            "total": {"type": "integer"}
          },
          "required": ["professional_tone", "active_listening", "engagement_quality", "total"],
          "additionalProperties": false
        },
        "conversation_content": {
          "type": "object",
          "properties": {
            "needs_assessment": {"type": "integer"},
            "value_proposition": {"type": "integer"},
            "objection_handling": {"type": "integer"},
            "total": {"type": "integer"}
          },
          "required": ["needs_assessment", "value_proposition", "objection_handling", "total"],
          "additionalProperties": false
        },
        "overall_score": {"type": "integer"},
        "strengths": {"type": "array", "items": {"type": "string"}},
        "improvements": {"type": "array", "items": {"type": "string"}},
        "specific_feedback": {"type": "string"}
      },
      "required": ["speaking_tone_style", "conversation_content", "overall_score", "strengths", "improvements", "specific_feedback"],
      "additionalProperties": false
    }
  }
}`)
