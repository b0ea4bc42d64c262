package routernode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	statex "github.com/verdantlabs/greencart/assistant/state"
)

var (
	ErrInvalidMessage = fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	ErrInvalidSession = fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
)

type GraphInput struct {
	SessionID string
	Text      string
}

type GraphOutput struct {
	Response contractx.ChatResponse
}

type GraphState struct {
	SessionID string
	Text      string
	Now       time.Time

	Session *statex.SessionState
	Task    contractx.TaskDescriptor

	Aggregate contractx.AggregatedResult
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		SessionID: sessionID,
		Text:      text,
		Now:       nowFn().UTC(),
	}, nil
}
