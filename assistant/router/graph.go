package router

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/verdantlabs/greencart/assistant/nodes"
)

func (r *Router) compileChatGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, r.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_session",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadSession(ctx, in, r.sessions)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_session: %w", err)
	}

	if err := graph.AddLambdaNode("classify_intent",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ClassifyIntent(in, r.classifier)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node classify_intent: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_handlers",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ResolveHandlers(in, r.registry)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_handlers: %w", err)
	}

	if err := graph.AddLambdaNode("execute_workflow",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ExecuteWorkflow(ctx, in, r.engine)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node execute_workflow: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(ctx, in, r.sessions)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_session"},
		{"load_session", "classify_intent"},
		{"classify_intent", "resolve_handlers"},
		{"resolve_handlers", "execute_workflow"},
		{"execute_workflow", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("router.chat"))
	if err != nil {
		return nil, fmt.Errorf("compile router graph: %w", err)
	}
	return runner, nil
}
