package routernode

import (
	"context"
	"fmt"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	statex "github.com/verdantlabs/greencart/assistant/state"
)

// LoadSession attaches a read snapshot of the caller's session so the
// classifier can see cart contents. Handlers mutate through the manager
// under its key lock, never through this copy.
func LoadSession(ctx context.Context, in *GraphState, sessions *statex.Manager) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := sessions.View(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	in.Session = st
	return in, nil
}
