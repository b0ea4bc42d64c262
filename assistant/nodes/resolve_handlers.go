package routernode

import (
	"fmt"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
)

// ResolveHandlers checks the descriptor's handlers against the registry
// before dispatch. One reachable declared handler is enough to proceed;
// per-handler failures stay isolated in the aggregate. When every declared
// handler is gone the intent's capability name picks a substitute, and
// only when that also comes up empty does routing fail.
func ResolveHandlers(in *GraphState, registry contractx.Registry) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	task, err := resolveHandlers(in.Task, registry)
	if err != nil {
		return nil, err
	}

	in.Task = task
	return in, nil
}

func resolveHandlers(task contractx.TaskDescriptor, registry contractx.Registry) (contractx.TaskDescriptor, error) {
	for _, name := range task.HandlerNames() {
		card, err := registry.Get(name)
		if err != nil {
			continue
		}
		if card.Status != contractx.HealthUnreachable {
			return task, nil
		}
	}

	for _, card := range registry.FindByCapability(string(task.Intent)) {
		if card.Status == contractx.HealthUnreachable {
			continue
		}
		task.PrimaryHandler = card.Name
		task.SecondaryHandlers = nil
		return task, nil
	}

	return contractx.TaskDescriptor{}, fmt.Errorf("%w: intent=%q", contractx.ErrNoCapableHandler, task.Intent)
}
