package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	"github.com/verdantlabs/greencart/pkg/openrouter"
)

const generalSystemPrompt = "You are GreenCart, a carbon-footprint-aware shopping assistant. " +
	"Keep answers short and steer the user toward searching products, managing the cart, " +
	"choosing low-carbon shipping, or checking out."

const cannedReply = "I can help you shop with the climate in mind: try \"find a recycled backpack\", " +
	"\"add sku-sunglasses to my cart\", \"use eco shipping\", or \"check out\"."

// GeneralHandler is the default route. Text nothing else claims lands
// here, so it must always produce a reply: with a chat model configured it
// generates one, otherwise it falls back to a canned pointer at the things
// the assistant can do.
type GeneralHandler struct {
	base
	builder openrouter.LLMBuilder

	once     sync.Once
	model    model.ToolCallingChatModel
	buildErr error
}

var _ contractx.Handler = (*GeneralHandler)(nil)

// NewGeneralHandler wires the default route. builder may be nil.
func NewGeneralHandler(builder openrouter.LLMBuilder) *GeneralHandler {
	return &GeneralHandler{
		base:    newBase("general", "general", "help"),
		builder: builder,
	}
}

func (h *GeneralHandler) Handle(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	if err := ctx.Err(); err != nil {
		return contractx.HandlerResult{}, err
	}

	chat := h.chatModel(ctx)
	if chat == nil {
		return h.ok(cannedReply, nil), nil
	}

	out, err := chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(generalSystemPrompt),
		schema.UserMessage(req.Task.OriginText),
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("general reply generation failed, using canned reply")
		return h.ok(cannedReply, nil), nil
	}

	reply := strings.TrimSpace(out.Content)
	if reply == "" {
		reply = cannedReply
	}
	return h.ok(reply, nil), nil
}

// chatModel builds the model on first use and remembers a build failure
// instead of retrying it on every request.
func (h *GeneralHandler) chatModel(ctx context.Context) model.ToolCallingChatModel {
	if h.builder == nil {
		return nil
	}
	h.once.Do(func() {
		h.model, h.buildErr = h.builder.New(ctx)
		if h.buildErr != nil {
			h.log.Warn().Err(h.buildErr).Msg("chat model unavailable, general replies fall back to canned text")
		}
	})
	if h.buildErr != nil {
		return nil
	}
	return h.model
}
