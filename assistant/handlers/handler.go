// Package handlers holds the built-in task handlers, one per task domain.
// Each handler talks to the tool transport and the session store and
// nothing else; routing, retries and timeouts live in the workflow engine.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	"github.com/verdantlabs/greencart/assistant/toolserver"
	logx "github.com/verdantlabs/greencart/pkg/logger"
)

// base carries the identity every handler shares.
type base struct {
	name string
	caps []string
	log  zerolog.Logger
}

func newBase(name string, caps ...string) base {
	return base{
		name: name,
		caps: caps,
		log:  logx.Component("handler." + name),
	}
}

func (b base) Name() string {
	return b.name
}

func (b base) Capabilities() []string {
	return append([]string(nil), b.caps...)
}

// Probe answers registry broadcasts. It never touches session state.
func (b base) Probe(ctx context.Context, message string) contractx.BroadcastResult {
	if err := ctx.Err(); err != nil {
		return contractx.BroadcastResult{Handler: b.name, OK: false, Err: err.Error()}
	}
	return contractx.BroadcastResult{Handler: b.name, OK: true, Message: b.name + " ready"}
}

func (b base) ok(message string, data map[string]any) contractx.HandlerResult {
	return contractx.HandlerResult{Handler: b.name, Message: message, Data: data}
}

/* ------------------------------ tool plumbing ----------------------------- */

// callTool invokes one transport tool and decodes its JSON payload into
// out. A failure reported by the tool itself comes back wrapped in
// ErrUpstreamInvocation with the tool's own message.
func callTool(ctx context.Context, gw contractx.ToolGateway, endpoint, tool string, args map[string]any, out any) error {
	res, err := gw.Invoke(ctx, endpoint, tool, args)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return fmt.Errorf("%w: %s: %s", contractx.ErrUpstreamInvocation, tool, res.Error)
	}
	if out == nil {
		return nil
	}
	return decodeInto(res.Result, out)
}

func decodeInto(payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: re-encode tool payload: %v", contractx.ErrUpstreamInvocation, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode tool payload: %v", contractx.ErrUpstreamInvocation, err)
	}
	return nil
}

// fetchProduct looks one product up by id. The catalog reports unknown ids
// as a tool-level failure; that is remapped to ErrNotFound so callers can
// tell a missing product from a broken transport.
func fetchProduct(ctx context.Context, gw contractx.ToolGateway, endpoint, productID string) (toolserver.Product, error) {
	var product toolserver.Product
	err := callTool(ctx, gw, endpoint, toolserver.ToolCatalogGet, map[string]any{"product_id": productID}, &product)
	if err != nil {
		if errors.Is(err, contractx.ErrUpstreamInvocation) && strings.Contains(err.Error(), "product not found") {
			return product, fmt.Errorf("%w: product %s", contractx.ErrNotFound, productID)
		}
		return product, err
	}
	return product, nil
}

/* ----------------------------- parameter access ---------------------------- */

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if s, ok := params[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// intParam tolerates the numeric shapes JSON decoding produces.
func intParam(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// stringsParam accepts a []string, a []any of strings, or one
// comma-separated string.
func stringsParam(params map[string]any, key string) []string {
	if params == nil {
		return nil
	}

	clean := func(values []string) []string {
		out := make([]string, 0, len(values))
		for _, v := range values {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}

	switch v := params[key].(type) {
	case []string:
		return clean(v)
	case []any:
		values := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
		return clean(values)
	case string:
		return clean(strings.Split(v, ","))
	}
	return nil
}
