// Package scenario loads role-play and evaluation prompt definitions from
// YAML files.
package scenario

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	rolePlaySuffix   = "-role-play.prompt.yml"
	evaluationSuffix = "-evaluation.prompt.yml"
)

// Message is a single prompt message.
type Message struct {
	Role    string `yaml:"role" json:"role"`
	Content string `yaml:"content" json:"content"`
}

// ModelParameters holds optional model tuning values from a prompt file.
type ModelParameters struct {
	Temperature *float64 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens" json:"max_tokens,omitempty"`
}

// Scenario is one prompt definition, either a role-play or an evaluation.
type Scenario struct {
	Name            string          `yaml:"name" json:"name"`
	Description     string          `yaml:"description" json:"description"`
	Model           string          `yaml:"model" json:"model,omitempty"`
	ModelParameters ModelParameters `yaml:"modelParameters" json:"modelParameters,omitempty"`
	Messages        []Message       `yaml:"messages" json:"messages"`
}

// Instructions returns the scenario's system prompt, the content of the
// first message.
func (s *Scenario) Instructions() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[0].Content
}

// Summary is the listing form of a scenario.
type Summary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	IsGraphScenario bool   `json:"is_graph_scenario,omitempty"`
}

// Manager holds scenarios loaded at startup plus scenarios generated at
// runtime. The file-loaded maps are read-only after construction; generated
// scenarios go through the mutex.
type Manager struct {
	logger      *slog.Logger
	scenarios   map[string]*Scenario // role-play prompts by scenario ID
	evaluations map[string]*Scenario // evaluation prompts by scenario ID

	mu        sync.RWMutex
	generated map[string]*Scenario
}

// NewManager loads all prompt files from dir. A missing directory yields an
// empty manager, not an error; individual malformed files are skipped.
func NewManager(dir string, logger *slog.Logger) *Manager {
	m := &Manager{
		logger:      logger.With("component", "scenario"),
		scenarios:   make(map[string]*Scenario),
		evaluations: make(map[string]*Scenario),
		generated:   make(map[string]*Scenario),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Warn("scenario directory not readable", "dir", dir, "error", err)
		return m
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var target map[string]*Scenario
		var id string
		switch {
		case strings.HasSuffix(name, rolePlaySuffix):
			target = m.scenarios
			id = strings.TrimSuffix(name, rolePlaySuffix)
		case strings.HasSuffix(name, evaluationSuffix):
			target = m.evaluations
			id = strings.TrimSuffix(name, evaluationSuffix)
		default:
			continue
		}

		sc, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			m.logger.Error("skipping scenario file", "file", name, "error", err)
			continue
		}
		target[id] = sc
		m.logger.Info("loaded scenario", "id", id, "file", name)
	}

	m.logger.Info("scenarios loaded", "role_play", len(m.scenarios), "evaluation", len(m.evaluations))
	return m
}

func loadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &sc, nil
}

// Get returns the role-play scenario for id, checking file-loaded scenarios
// first and then generated ones.
func (m *Manager) Get(id string) (*Scenario, bool) {
	if sc, ok := m.scenarios[id]; ok {
		return sc, true
	}
	m.mu.RLock()
	sc, ok := m.generated[id]
	m.mu.RUnlock()
	return sc, ok
}

// StoreGenerated registers a runtime-generated scenario so agents can be
// created against it. Storing under an existing id replaces it.
func (m *Manager) StoreGenerated(id string, sc *Scenario) {
	m.mu.Lock()
	m.generated[id] = sc
	m.mu.Unlock()
	m.logger.Info("stored generated scenario", "id", id)
}

// Evaluation returns the evaluation prompt for id.
func (m *Manager) Evaluation(id string) (*Scenario, bool) {
	sc, ok := m.evaluations[id]
	return sc, ok
}

// List returns summaries of all role-play scenarios, sorted by ID, followed
// by the personalized Graph scenario entry.
func (m *Manager) List() []Summary {
	out := make([]Summary, 0, len(m.scenarios)+1)
	for id, sc := range m.scenarios {
		out = append(out, Summary{ID: id, Name: sc.Name, Description: sc.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	out = append(out, Summary{
		ID:              "graph-api",
		Name:            "Personalized Scenario",
		Description:     "AI-generated scenario based on your upcoming meetings and context from Microsoft Graph",
		IsGraphScenario: true,
	})
	return out
}
