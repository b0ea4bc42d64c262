package routernode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	statex "github.com/verdantlabs/greencart/assistant/state"
)

// FinalizeReply flattens the aggregate into the chat response and attaches
// a fresh cart snapshot, read after dispatch so the caller sees what the
// handlers actually did.
func FinalizeReply(ctx context.Context, in *GraphState, sessions *statex.Manager) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Aggregate.Message())
	if reply == "" {
		reply = fallbackReply(in.Aggregate)
	}

	st, err := sessions.View(ctx, in.SessionID)
	if err != nil {
		return GraphOutput{}, err
	}
	cart := st.ViewCart()

	return GraphOutput{
		Response: contractx.ChatResponse{
			SessionID: in.SessionID,
			Response:  reply,
			Intent:    in.Aggregate.Intent,
			Workflow:  in.Aggregate.Workflow,
			Handlers:  handlerNames(in.Aggregate.Results),
			Degraded:  impairedHandlers(in.Aggregate),
			Session:   &cart,
		},
	}, nil
}

// impairedHandlers folds failed and degraded handlers into one list for
// the chat surface; the aggregate keeps the two apart for callers that
// care.
func impairedHandlers(agg contractx.AggregatedResult) []string {
	if len(agg.Failed) == 0 && len(agg.Degraded) == 0 {
		return agg.Degraded
	}
	seen := make(map[string]bool, len(agg.Failed)+len(agg.Degraded))
	var names []string
	for _, name := range append(append([]string(nil), agg.Failed...), agg.Degraded...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// fallbackReply covers an aggregate whose handlers produced no prose, so
// the caller never reads an empty response off a failed dispatch.
func fallbackReply(agg contractx.AggregatedResult) string {
	for _, r := range agg.Results {
		if r.Err != "" {
			return fmt.Sprintf("I couldn't complete that: %s.", r.Err)
		}
	}
	return "Nothing to report for that request."
}

func handlerNames(results []contractx.HandlerResult) []string {
	if len(results) == 0 {
		return nil
	}
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Handler)
	}
	return names
}
