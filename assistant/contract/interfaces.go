package contract

import (
	"context"

	statex "github.com/verdantlabs/greencart/assistant/state"
)

// Handler is one task-domain endpoint. Handle must be safe for concurrent
// calls across sessions; Probe answers registry broadcasts and must never
// mutate session state.
type Handler interface {
	Name() string
	Capabilities() []string
	Handle(ctx context.Context, req HandlerRequest) (HandlerResult, error)
	Probe(ctx context.Context, message string) BroadcastResult
}

// Classifier turns one utterance into a dispatchable task descriptor.
// Classification never fails: unmatched text yields the general route.
type Classifier interface {
	Classify(text string, sess *statex.SessionState) TaskDescriptor
}

// Dispatcher executes one task descriptor to completion and aggregates
// every handler outcome, failures included.
type Dispatcher interface {
	Execute(ctx context.Context, task TaskDescriptor, sessionID string) AggregatedResult
}

// Registry tracks handlers, their capability cards, and health.
type Registry interface {
	Register(h Handler) error
	Unregister(name string) error
	List() []CapabilityCard
	Get(name string) (CapabilityCard, error)
	Resolve(name string) (Handler, error)
	FindByCapability(capability string) []CapabilityCard
	Heartbeat(name string) error
	MarkDegraded(name string)
	Broadcast(ctx context.Context, message string, exclude []string) []BroadcastResult
}

// ToolGateway is the uniform discover/invoke boundary to transport
// endpoints. Implementations perform no retries; retry policy belongs to
// the router.
type ToolGateway interface {
	Discover(ctx context.Context, endpoint string) (Discovery, error)
	Invoke(ctx context.Context, endpoint string, tool string, args map[string]any) (ToolResult, error)
	ReadResource(ctx context.Context, endpoint string, uri string) (ResourceContent, error)
	RenderPrompt(ctx context.Context, endpoint string, name string, args map[string]string) (string, error)
}

// EventPublisher pushes domain events to an external broker.
type EventPublisher interface {
	PublishJSON(ctx context.Context, topic string, payload any) error
}
