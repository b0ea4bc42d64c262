package contract

import (
	"strings"
	"time"

	statex "github.com/verdantlabs/greencart/assistant/state"
)

type Intent string

const (
	IntentSearch    Intent = "product_search"
	IntentCart      Intent = "cart"
	IntentShipping  Intent = "shipping"
	IntentFootprint Intent = "footprint"
	IntentCompare   Intent = "compare"
	IntentCheckout  Intent = "checkout"
	IntentGeneral   Intent = "general"
	IntentDirect    Intent = "direct"
)

type WorkflowKind string

const (
	WorkflowSequential   WorkflowKind = "sequential"
	WorkflowParallel     WorkflowKind = "parallel"
	WorkflowHierarchical WorkflowKind = "hierarchical"
)

type HealthStatus string

const (
	HealthUnknown     HealthStatus = "unknown"
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnreachable HealthStatus = "unreachable"
)

// CapabilityCard is the published descriptor of one handler: identity,
// declared capabilities, and current health. Owned by the registry.
type CapabilityCard struct {
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Capabilities  []string     `json:"capabilities"`
	Status        HealthStatus `json:"status"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
}

// Has reports whether the card declares the capability.
func (c CapabilityCard) Has(capability string) bool {
	for _, have := range c.Capabilities {
		if strings.EqualFold(have, capability) {
			return true
		}
	}
	return false
}

// TaskDescriptor is one classified request. It is immutable once
// dispatched; handlers receive value copies.
type TaskDescriptor struct {
	ID                string         `json:"id"`
	OriginText        string         `json:"origin_text"`
	Intent            Intent         `json:"intent"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	Workflow          WorkflowKind   `json:"workflow"`
	PrimaryHandler    string         `json:"primary_handler"`
	SecondaryHandlers []string       `json:"secondary_handlers,omitempty"`
}

// HandlerNames lists primary plus secondaries in declared order.
func (d TaskDescriptor) HandlerNames() []string {
	names := make([]string, 0, 1+len(d.SecondaryHandlers))
	if d.PrimaryHandler != "" {
		names = append(names, d.PrimaryHandler)
	}
	names = append(names, d.SecondaryHandlers...)
	return names
}

// HandlerRequest is what one handler invocation receives. Previous carries
// the prior handler's result in sequential workflows.
type HandlerRequest struct {
	Task      TaskDescriptor `json:"task"`
	SessionID string         `json:"session_id"`
	Previous  *HandlerResult `json:"previous,omitempty"`
}

// FollowUp is a hierarchical workflow signal: the primary handler asks the
// router to dispatch another task on its behalf.
type FollowUp struct {
	Intent     Intent         `json:"intent"`
	Handler    string         `json:"handler,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type HandlerResult struct {
	Handler   string         `json:"handler"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Err       string         `json:"error,omitempty"`
	ErrKind   string         `json:"error_kind,omitempty"`
	Degraded  bool           `json:"degraded,omitempty"`
	FollowUps []FollowUp     `json:"follow_ups,omitempty"`
}

// AggregatedResult is the outcome of one dispatch: best-effort partial
// results plus the names of degraded and failed handlers.
type AggregatedResult struct {
	TaskID   string          `json:"task_id"`
	Intent   Intent          `json:"intent"`
	Workflow WorkflowKind    `json:"workflow"`
	Results  []HandlerResult `json:"results"`
	Partial  bool            `json:"partial,omitempty"`
	Degraded []string        `json:"degraded,omitempty"`
	Failed   []string        `json:"failed,omitempty"`
}

// Message joins the non-empty handler messages in result order.
func (a AggregatedResult) Message() string {
	parts := make([]string, 0, len(a.Results))
	for _, r := range a.Results {
		if strings.TrimSpace(r.Message) != "" {
			parts = append(parts, r.Message)
		}
	}
	return strings.Join(parts, "\n")
}

// BroadcastResult is one handler's answer to a registry broadcast probe.
type BroadcastResult struct {
	Handler string `json:"handler"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Err     string `json:"error,omitempty"`
}

/* ------------------------------ api payloads ------------------------------ */

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type ChatResponse struct {
	SessionID string           `json:"session_id"`
	Response  string           `json:"response"`
	Intent    Intent           `json:"intent"`
	Workflow  WorkflowKind     `json:"workflow"`
	Handlers  []string         `json:"handlers,omitempty"`
	Degraded  []string         `json:"degraded,omitempty"`
	Session   *statex.CartView `json:"session,omitempty"`
}

// SendRequest is a direct dispatch that bypasses the classifier.
type SendRequest struct {
	AgentName  string         `json:"agent_name"`
	Task       string         `json:"task"`
	Parameters map[string]any `json:"parameters,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
}

type BroadcastRequest struct {
	Message string   `json:"message"`
	Exclude []string `json:"exclude,omitempty"`
}

/* ----------------------------- tool transport ----------------------------- */

// ToolDescriptor, ResourceDescriptor and PromptTemplate are discovery
// metadata published by a transport endpoint. Callers never mutate them.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

type PromptTemplate struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

type Discovery struct {
	Tools     []ToolDescriptor     `json:"tools"`
	Resources []ResourceDescriptor `json:"resources"`
	Prompts   []PromptTemplate     `json:"prompts"`
}

type ToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult carries a decoded tool outcome. Error is a semantic failure
// reported by the tool itself, distinct from transport errors.
type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"text"`
}
