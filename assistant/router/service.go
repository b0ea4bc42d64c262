package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	nodex "github.com/verdantlabs/greencart/assistant/nodes"
	statex "github.com/verdantlabs/greencart/assistant/state"
	logx "github.com/verdantlabs/greencart/pkg/logger"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
)

// Option customizes Router.
type Option func(*Router)

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router owns the chat pipeline: validate, load, classify, resolve,
// dispatch, reply. One compiled graph serves every request.
type Router struct {
	classifier contractx.Classifier
	registry   contractx.Registry
	engine     contractx.Dispatcher
	sessions   *statex.Manager

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
	log zerolog.Logger
}

func New(
	classifier contractx.Classifier,
	registry contractx.Registry,
	engine contractx.Dispatcher,
	sessions *statex.Manager,
	opts ...Option,
) (*Router, error) {
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if registry == nil {
		return nil, errors.New("handler registry is required")
	}
	if engine == nil {
		return nil, errors.New("dispatch engine is required")
	}
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}

	r := &Router{
		classifier: classifier,
		registry:   registry,
		engine:     engine,
		sessions:   sessions,
		now:        time.Now,
		log:        logx.Component("router"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	graphRunner, err := r.compileChatGraph(context.Background())
	if err != nil {
		return nil, err
	}
	r.graphRunner = graphRunner

	return r, nil
}

// Chat runs one utterance through the pipeline. A blank session id starts
// a fresh session under a generated id, returned in the response.
func (r *Router) Chat(ctx context.Context, sessionID string, text string) (contractx.ChatResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}

	out, err := r.graphRunner.Invoke(ctx, nodex.GraphInput{
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		return contractx.ChatResponse{}, err
	}

	r.log.Debug().
		Str("session_id", out.Response.SessionID).
		Str("intent", string(out.Response.Intent)).
		Str("workflow", string(out.Response.Workflow)).
		Strs("handlers", out.Response.Handlers).
		Msg("chat dispatched")
	return out.Response, nil
}

// Send dispatches one task straight to a named handler, skipping the
// classifier. The handler must be registered; health gating still applies
// at dispatch.
func (r *Router) Send(ctx context.Context, req contractx.SendRequest) (contractx.AggregatedResult, error) {
	agentName := strings.TrimSpace(req.AgentName)
	if agentName == "" {
		return contractx.AggregatedResult{}, fmt.Errorf("%w: agent name is empty", contractx.ErrValidation)
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return contractx.AggregatedResult{}, fmt.Errorf("%w: task is empty", contractx.ErrValidation)
	}
	if _, err := r.registry.Get(agentName); err != nil {
		return contractx.AggregatedResult{}, err
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	descriptor := contractx.TaskDescriptor{
		ID:             uuid.NewString(),
		OriginText:     task,
		Intent:         contractx.IntentDirect,
		Parameters:     req.Parameters,
		Workflow:       contractx.WorkflowSequential,
		PrimaryHandler: agentName,
	}
	return r.engine.Execute(ctx, descriptor, sessionID), nil
}
