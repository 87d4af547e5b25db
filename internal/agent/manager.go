// Package agent manages the registry of role-play agents created from
// training scenarios.
package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upskill-ai/salescoach/internal/scenario"
)

// baseInstructions is appended to every scenario prompt so the agent behaves
// like a person on a phone call rather than an assistant.
const baseInstructions = `

CRITICAL INTERACTION GUIDELINES:
- Keep responses SHORT and conversational (2-3 sentences max, as if speaking on phone)
- ALWAYS stay in character - never break role or acknowledge you're an AI
- Simulate natural human speech patterns with pauses, "um", "well", occasional hesitation
- Respond as a real person would in this business context
- Use natural phone conversation style - direct, clear, but personable
- Show genuine human emotions and reactions appropriate to the situation
- Ask follow-up questions to keep the conversation flowing naturally
- Avoid overly formal or robotic language - speak like a real business professional would
`

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)

// Agent is one role-play agent profile. Immutable after creation.
type Agent struct {
	ID           string    `json:"id"`
	ScenarioID   string    `json:"scenario_id"`
	Remote       bool      `json:"remote"` // configured upstream; never overridden by the proxy
	Model        string    `json:"model"`
	Instructions string    `json:"instructions"`
	Temperature  float64   `json:"temperature"`
	MaxTokens    int       `json:"max_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// Manager is the in-memory agent registry. Lookups are safe for concurrent
// use from proxy sessions; mutation happens only through Create and Delete.
type Manager struct {
	defaultModel string
	logger       *slog.Logger

	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewManager creates an empty agent registry. defaultModel is used when a
// scenario does not name its own model.
func NewManager(defaultModel string, logger *slog.Logger) *Manager {
	return &Manager{
		defaultModel: defaultModel,
		logger:       logger.With("component", "agent"),
		agents:       make(map[string]*Agent),
	}
}

// Create builds an agent from a scenario and registers it. The returned ID
// is what clients pass in the voice handshake to select this agent.
func (m *Manager) Create(scenarioID string, sc *scenario.Scenario) (*Agent, error) {
	if sc == nil {
		return nil, fmt.Errorf("scenario %q has no definition", scenarioID)
	}

	model := sc.Model
	if model == "" {
		model = m.defaultModel
	}
	temperature := defaultTemperature
	if sc.ModelParameters.Temperature != nil {
		temperature = *sc.ModelParameters.Temperature
	}
	maxTokens := defaultMaxTokens
	if sc.ModelParameters.MaxTokens != nil {
		maxTokens = *sc.ModelParameters.MaxTokens
	}

	a := &Agent{
		ID:           fmt.Sprintf("local-agent-%s-%s", scenarioID, shortID()),
		ScenarioID:   scenarioID,
		Model:        model,
		Instructions: sc.Instructions() + baseInstructions,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.agents[a.ID] = a
	m.mu.Unlock()

	m.logger.Info("agent created", "agent_id", a.ID, "scenario_id", scenarioID, "model", model)
	return a, nil
}

// Get returns the agent for id. The returned value is a copy: a profile
// resolved for a session stays frozen even if the agent is deleted mid-call.
func (m *Manager) Get(id string) (*Agent, bool) {
	m.mu.RLock()
	a, ok := m.agents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	copied := *a
	return &copied, true
}

// Delete removes the agent for id. Deleting an unknown id is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	_, existed := m.agents[id]
	delete(m.agents, id)
	m.mu.Unlock()

	if existed {
		m.logger.Info("agent deleted", "agent_id", id)
	}
}

// Count returns the number of registered agents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
