// Package voiceproxy relays WebSocket traffic between a browser client and
// the Azure Voice Live endpoint. It resolves the agent profile from the
// client's opening message, dials the upstream with the right routing
// parameters, pushes the initial session configuration, and then forwards
// frames verbatim in both directions until either side disconnects.
package voiceproxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/upskill-ai/salescoach/internal/agent"
)

const apiVersion = "2025-05-01-preview"

// AgentStore resolves agent profiles by ID. Lookups must be safe for
// concurrent use; a miss is reported via the bool, never an error.
type AgentStore interface {
	Get(id string) (*agent.Agent, bool)
}

// Dialer opens the upstream WebSocket connection. *websocket.Dialer
// satisfies it.
type Dialer interface {
	Dial(urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures the Handler.
type Options struct {
	ResourceName   string // Azure AI resource, forms the upstream host
	ProjectName    string // agent-project-name query parameter
	DefaultModel   string // model route when no agent applies
	DefaultAgentID string // optional globally configured remote agent
	APIKey         string // api-key header; empty means no upstream is possible

	// HandshakeTimeout bounds the wait for the client's first message.
	// Zero disables the deadline.
	HandshakeTimeout time.Duration

	// Dialer overrides the upstream dialer, for tests. Defaults to
	// websocket.DefaultDialer.
	Dialer Dialer
}

// Handler proxies one voice session per call to Handle. It holds no
// per-session state; concurrent sessions share only the read-only agent
// store.
type Handler struct {
	agents AgentStore
	opts   Options
	dialer Dialer
	logger *slog.Logger
}

// New creates a voice proxy handler.
func New(agents AgentStore, opts Options, logger *slog.Logger) *Handler {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Handler{
		agents: agents,
		opts:   opts,
		dialer: dialer,
		logger: logger.With("component", "voiceproxy"),
	}
}

// Handle runs one proxy session over an already-upgraded client connection.
// It returns when the session is over; the upstream socket is closed here,
// the client socket by whoever accepted it.
func (h *Handler) Handle(client *websocket.Conn) {
	agentID, err := h.extractAgentID(client)
	if err != nil {
		// A failed read leaves the connection unusable, so no upstream
		// is dialed. The error frame is best effort; on a handshake
		// timeout the socket is often still writable.
		h.logger.Warn("no handshake message from client", "error", err)
		h.sendError(client, "No session configuration received")
		return
	}

	upstream, err := h.connectUpstream(agentID)
	if err != nil {
		h.logger.Error("voice session setup failed", "agent_id", agentID, "error", err)
		h.sendError(client, "Failed to connect to Azure Voice API")
		return
	}
	defer func() { _ = upstream.Close() }()

	h.logger.Info("connected to voice endpoint", "agent_id", orDefault(agentID))

	h.send(client, map[string]any{
		"type":    "proxy.connected",
		"message": "Connected to Azure Voice API",
	})

	h.relay(client, upstream)

	h.logger.Info("voice session ended", "agent_id", orDefault(agentID))
}

// extractAgentID blocks on the client's first message and pulls the agent ID
// out of a session.update frame. A parse failure or a different message type
// yields an empty ID and the session proceeds with default routing; a read
// failure (timeout or disconnect) is an error, since the connection can no
// longer be read from.
func (h *Handler) extractAgentID(client *websocket.Conn) (string, error) {
	if h.opts.HandshakeTimeout > 0 {
		_ = client.SetReadDeadline(time.Now().Add(h.opts.HandshakeTimeout))
		defer func() { _ = client.SetReadDeadline(time.Time{}) }()
	}

	_, data, err := client.ReadMessage()
	if err != nil {
		return "", err
	}

	var msg struct {
		Type    string `json:"type"`
		Session struct {
			AgentID string `json:"agent_id"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("handshake message not parseable", "error", err)
		return "", nil
	}
	if msg.Type != "session.update" {
		return "", nil
	}
	return msg.Session.AgentID, nil
}

// connectUpstream resolves the agent profile, dials the voice endpoint and
// sends the initial session configuration. A missing API key fails before
// any network traffic.
func (h *Handler) connectUpstream(agentID string) (*websocket.Conn, error) {
	var profile *agent.Agent
	if agentID != "" {
		profile, _ = h.agents.Get(agentID)
	}

	if h.opts.APIKey == "" {
		return nil, errors.New("no API key configured (AZURE_OPENAI_API_KEY)")
	}

	header := http.Header{}
	header.Set("api-key", h.opts.APIKey)

	target := h.upstreamURL(agentID, profile)
	conn, resp, err := h.dialer.Dial(target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial voice endpoint: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial voice endpoint: %w", err)
	}

	if err := h.send(conn, sessionConfig(profile, h.opts.DefaultModel)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session config: %w", err)
	}
	return conn, nil
}

// upstreamURL builds the voice endpoint URL. Exactly one routing parameter
// is appended: agent-id for remote-hosted profiles (or the configured
// default agent), model otherwise.
func (h *Handler) upstreamURL(agentID string, profile *agent.Agent) string {
	base := fmt.Sprintf(
		"wss://%s.cognitiveservices.azure.com/voice-agent/realtime?api-version=%s&x-ms-client-request-id=%s&agent-project-name=%s",
		h.opts.ResourceName, apiVersion, uuid.New(), url.QueryEscape(h.opts.ProjectName),
	)

	switch {
	case profile != nil && profile.Remote:
		return base + "&agent-id=" + url.QueryEscape(agentID)
	case profile != nil:
		model := profile.Model
		if model == "" {
			model = h.opts.DefaultModel
		}
		return base + "&model=" + url.QueryEscape(model)
	case h.opts.DefaultAgentID != "":
		return base + "&agent-id=" + url.QueryEscape(h.opts.DefaultAgentID)
	default:
		return base + "&model=" + url.QueryEscape(h.opts.DefaultModel)
	}
}

// sessionConfig builds the initial session.update payload. Profile fields
// are applied only for locally-defined agents; remote-hosted agents carry
// their own server-side configuration.
func sessionConfig(profile *agent.Agent, defaultModel string) map[string]any {
	session := map[string]any{
		"modalities":                    []string{"text", "audio"},
		"turn_detection":                map[string]string{"type": "azure_semantic_vad"},
		"input_audio_noise_reduction":   map[string]string{"type": "azure_deep_noise_suppression"},
		"input_audio_echo_cancellation": map[string]string{"type": "server_echo_cancellation"},
		"avatar":                        map[string]string{"character": "lisa", "style": "casual-sitting"},
	}

	if profile != nil && !profile.Remote {
		model := profile.Model
		if model == "" {
			model = defaultModel
		}
		session["model"] = model
		session["instructions"] = profile.Instructions
		session["temperature"] = profile.Temperature
		session["max_response_output_tokens"] = profile.MaxTokens
	}

	return map[string]any{"type": "session.update", "session": session}
}

// relay forwards frames verbatim in both directions and returns when the
// first direction ends. The surviving goroutine is unblocked by the deferred
// socket closes in Handle and the accepting HTTP handler; a closed peer
// makes its next read or write fail immediately.
func (h *Handler) relay(client, upstream *websocket.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		for {
			msgType, data, err := client.ReadMessage()
			if err != nil {
				return
			}
			if err := upstream.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		for {
			msgType, data, err := upstream.ReadMessage()
			if err != nil {
				return
			}
			if err := client.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}()

	<-done
}

// send marshals v and writes it as a text frame. Errors are returned but
// safe to ignore for best-effort notifications to a possibly-gone client.
func (h *Handler) send(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handler) sendError(conn *websocket.Conn, message string) {
	_ = h.send(conn, map[string]any{
		"type":  "error",
		"error": map[string]string{"message": message},
	})
}

func orDefault(agentID string) string {
	if agentID == "" {
		return "default"
	}
	return agentID
}
