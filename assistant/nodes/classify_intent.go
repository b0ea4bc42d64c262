package routernode

import (
	"fmt"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
)

// ClassifyIntent turns the utterance into a task descriptor. There is no
// failure path: text no rule claims routes to the general handler.
func ClassifyIntent(in *GraphState, classifier contractx.Classifier) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Task = classifier.Classify(in.Text, in.Session)
	return in, nil
}
