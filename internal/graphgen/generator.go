// Package graphgen generates personalized training scenarios from Microsoft
// Graph calendar data. Upcoming meetings are summarized into a prompt and a
// role-play scenario is produced by Azure OpenAI, with a canned fallback when
// no meetings or no model is available.
package graphgen

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

// GeneratedID is the scenario ID every Graph-generated scenario is stored
// under; clients create agents against it like any other scenario.
const GeneratedID = "graph-generated"

// Attendee is one meeting participant from a Graph calendar event.
type Attendee struct {
	EmailAddress struct {
		Name string `json:"name"`
	} `json:"emailAddress"`
}

// Event is one Graph calendar event.
type Event struct {
	Subject   string     `json:"subject"`
	Attendees []Attendee `json:"attendees"`
}

// CalendarData is the Graph API calendar-view response shape.
type CalendarData struct {
	Value []Event `json:"value"`
}

// GeneratedScenario is a scenario produced from calendar data. It carries the
// regular scenario fields plus its fixed ID and origin marker.
type GeneratedScenario struct {
	ID string `json:"id"`
	scenario.Scenario
	GeneratedFromGraph bool `json:"generated_from_graph"`
}

// meeting is the distilled form of an event used for prompt building.
type meeting struct {
	subject   string
	attendees []string
}

// Generator turns calendar data into role-play scenarios via Azure OpenAI
// chat completions.
type Generator struct {
	endpoint   string
	apiKey     string
	deployment string
	client     *http.Client
	logger     *slog.Logger
}

// NewGenerator creates a generator. An unconfigured endpoint or key is
// tolerated; Generate then serves the fallback scenario.
func NewGenerator(endpoint, apiKey, deployment string, logger *slog.Logger) *Generator {
	return &Generator{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		deployment: deployment,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "graphgen"),
	}
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
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

// Generate builds a scenario from calendar data. Without meetings or without
// a configured model it falls back to a canned scenario; a failing model call
// is an error.
func (g *Generator) Generate(ctx context.Context, data CalendarData) (*GeneratedScenario, error) {
	meetings := extractMeetings(data)

	content, err := g.scenarioContent(ctx, meetings)
	if err != nil {
		return nil, err
	}

	temperature := 0.7
	maxTokens := 2000
	gen := &GeneratedScenario{
		ID: GeneratedID,
		Scenario: scenario.Scenario{
			Name:        "Your Personalized Sales Scenario",
			Description: firstSentence(content),
			Model:       g.deployment,
			ModelParameters: scenario.ModelParameters{
				Temperature: &temperature,
				MaxTokens:   &maxTokens,
			},
			Messages: []scenario.Message{{Role: "system", Content: content}},
		},
		GeneratedFromGraph: true,
	}

	g.logger.Info("scenario generated from calendar", "meetings", len(meetings))
	return gen, nil
}

// extractMeetings distills up to three events, keeping up to three attendee
// names each.
func extractMeetings(data CalendarData) []meeting {
	events := data.Value
	if len(events) > 3 {
		events = events[:3]
	}

	meetings := make([]meeting, 0, len(events))
	for _, event := range events {
		subject := event.Subject
		if subject == "" {
			subject = "Meeting"
		}
		attendees := event.Attendees
		if len(attendees) > 3 {
			attendees = attendees[:3]
		}
		names := make([]string, 0, len(attendees))
		for _, a := range attendees {
			names = append(names, a.EmailAddress.Name)
		}
		meetings = append(meetings, meeting{subject: subject, attendees: names})
	}
	return meetings
}

func (g *Generator) scenarioContent(ctx context.Context, meetings []meeting) (string, error) {
	if len(meetings) == 0 {
		return fallbackContent, nil
	}
	if g.endpoint == "" || g.apiKey == "" {
		g.logger.Warn("scenario model not configured, using fallback scenario")
		return fallbackContent, nil
	}

	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{
				Role: "system",
				Content: "You are an expert at creating realistic business role-play scenarios for sales training. " +
					"Generate engaging, professional scenarios that help salespeople prepare for real meetings.",
			},
			{Role: "user", Content: buildGenerationPrompt(meetings)},
		},
		Temperature: 0.7,
		MaxTokens:   1500,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		g.endpoint, g.deployment, chatAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call scenario model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("scenario model returned %s: %s", resp.Status, data)
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no content received from scenario model")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// firstSentence extracts the content's first sentence as the scenario
// description, capped at 100 characters.
func firstSentence(content string) string {
	sentence, _, _ := strings.Cut(content, ".")
	sentence += "."
	if len(sentence) > 100 {
		sentence = sentence[:100] + "..."
	}
	return sentence
}

func formatMeetingList(meetings []meeting) string {
	lines := make([]string, 0, len(meetings))
	for _, m := range meetings {
		lines = append(lines, fmt.Sprintf("- %s with %s", m.subject, strings.Join(m.attendees, ", ")))
	}
	return strings.Join(lines, "\n")
}

func buildGenerationPrompt(meetings []meeting) string {
	return "Generate a role-play scenario to help a salesperson prepare for their upcoming client meetings. " +
		"Based on their calendar, the following meetings are scheduled:\n\n" +
		formatMeetingList(meetings) + "\n\n" +
		"Create a realistic sales practice scenario for an upcoming customer meeting using the following " +
		"structure:\n\n" +
		"1. **Context**: Start with a quick summary.\n" +
		"2. **Character**: Define the person the trainee will interact with (name, title, company background). " +
		"The company description should include industry, size, and strategic focus.\n" +
		"3. **Behavioral Guidelines (Act Human)**: Outline how the character should behave in conversation " +
		"(e.g., open, skeptical, budget-conscious, visionary).\n" +
		"4. **Character Profile**: Provide background experience and current responsibilities that shape the " +
		"character's perspective.\n" +
		"5. **Key Concerns**: List 2-3 specific business concerns, objections, or challenges the character should " +
		"raise during the conversation. These should be realistic for their role and company context.\n" +
		"6. **Instruction**: End by telling the AI to roleplay as this character, responding naturally and " +
		"professionally, raising concerns where relevant.\n\n" +
		"**Example output:**\n\n" +
		"Discovery call with ContosoCare on SaaS platform.\n\n" +
		"You are **Sarah Lee, Director of Patient Experience at ContosoCare**, a healthcare provider focused on " +
		"delivering modern, patient-centered digital solutions while navigating strict compliance requirements.\n\n" +
		"**BEHAVIORAL GUIDELINES (Act Human):**\n\n" +
		"* Speak conversationally, avoid jargon overload\n" +
		"* Show interest in how technology solves real problems\n" +
		"* Ask open-ended questions about business outcomes\n\n" +
		"**YOUR CHARACTER PROFILE:**\n\n" +
		"* 12 years in healthcare operations and patient engagement\n" +
		"* Recently led ContosoCare's shift to hybrid care models (in-person + telehealth)\n" +
		"* Practical, budget-aware, but open to innovation if it improves patient satisfaction\n\n" +
		"**KEY CONCERNS TO RAISE:**\n\n" +
		"1. How does your platform handle HIPAA/GDPR compliance without slowing workflows?\n" +
		"2. Our clinicians already struggle with multiple tools - how will this integrate with existing EMR " +
		"systems?\n" +
		"3. Budgets are tight - what ROI can we realistically expect in the first year?\n\n" +
		"**Respond naturally as Sarah Lee would, maintaining professional tone while expressing genuine business " +
		"concerns.**\n\n" +
		"Directly start with the summary (No 'Context:')\n"
}

// fallbackContent is served when no meetings are available or the scenario
// model is not configured.
const fallbackContent = "You are Jordan Martinez, Operations Director at TechCorp Solutions, a mid-size technology " +
	"consulting firm with 200+ employees. You're evaluating new software solutions to improve team " +
	"collaboration and productivity.\n\n" +
	"BEHAVIORAL GUIDELINES (Act Human):\n" +
	"- Show genuine interest but maintain professional skepticism\n" +
	"- Ask clarifying questions when information seems unclear\n" +
	"- Take natural pauses to \"think\" before responding to complex proposals\n\n" +
	"YOUR CHARACTER PROFILE:\n" +
	"- 10+ years in operations and technology management\n" +
	"- Results-driven but relationship-focused\n" +
	"- Currently managing remote and hybrid teams\n\n" +
	"KEY CONCERNS TO RAISE:\n" +
	"1. Integration complexity with existing systems and workflows\n" +
	"2. Change management and user adoption challenges\n" +
	"3. Total cost of ownership including training and support\n\n" +
	"Respond naturally as Jordan would, maintaining professional tone while expressing genuine business " +
	"concerns about technology investments and team productivity.\n"
