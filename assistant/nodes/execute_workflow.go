package routernode

import (
	"context"
	"fmt"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
)

// ExecuteWorkflow hands the task to the dispatch engine. The engine never
// returns an error; failures ride inside the aggregate so a broken handler
// still produces a reply.
func ExecuteWorkflow(ctx context.Context, in *GraphState, engine contractx.Dispatcher) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	in.Aggregate = engine.Execute(ctx, in.Task, in.SessionID)
	return in, nil
}
