// Package registry tracks task handlers, their capability cards, and their
// heartbeat-driven health.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	logx "github.com/verdantlabs/greencart/pkg/logger"
)

const (
	// DefaultHeartbeatInterval is how often live handlers are expected to
	// refresh their cards; staleness is judged at twice this interval.
	DefaultHeartbeatInterval = 30 * time.Second

	staleMultiplier = 2
)

var ErrAlreadyRegistered = errors.New("handler already registered")

// Option customizes Registry.
type Option func(*Registry)

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

type entry struct {
	handler contractx.Handler
	card    contractx.CapabilityCard
}

// Registry is read-mostly: many concurrent router lookups against
// occasional registration and heartbeat writes. Reads share one RWMutex
// and take the write lock only when they catch a card past its staleness
// window; the background sweeper covers idle stretches.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*entry

	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func New(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]*entry),
		interval: DefaultHeartbeatInterval,
		now:      time.Now,
		log:      logx.Component("registry"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

var _ contractx.Registry = (*Registry)(nil)

func (r *Registry) Register(h contractx.Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}
	name := strings.TrimSpace(h.Name())
	if name == "" {
		return errors.New("handler name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}

	now := r.now()
	r.handlers[name] = &entry{
		handler: h,
		card: contractx.CapabilityCard{
			Name:          name,
			Capabilities:  append([]string(nil), h.Capabilities()...),
			Status:        contractx.HealthHealthy,
			LastHeartbeat: now,
		},
	}
	r.log.Info().Str("handler", name).Strs("capabilities", h.Capabilities()).Msg("handler registered")
	return nil
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; !exists {
		return fmt.Errorf("%w: handler %s", contractx.ErrNotFound, name)
	}
	delete(r.handlers, name)
	r.log.Info().Str("handler", name).Msg("handler unregistered")
	return nil
}

// List returns every card, stale statuses applied, sorted by name.
func (r *Registry) List() []contractx.CapabilityCard {
	r.sweepIfStale(r.now())

	r.mu.RLock()
	defer r.mu.RUnlock()

	cards := make([]contractx.CapabilityCard, 0, len(r.handlers))
	for _, e := range r.handlers {
		cards = append(cards, cloneCard(e.card))
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })
	return cards
}

func (r *Registry) Get(name string) (contractx.CapabilityCard, error) {
	r.sweepIfStale(r.now())

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.handlers[name]
	if !exists {
		return contractx.CapabilityCard{}, fmt.Errorf("%w: handler %s", contractx.ErrNotFound, name)
	}
	return cloneCard(e.card), nil
}

// Resolve hands back the handler itself for dispatch. Unreachable handlers
// do not resolve.
func (r *Registry) Resolve(name string) (contractx.Handler, error) {
	r.sweepIfStale(r.now())

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.handlers[name]
	if !exists {
		return nil, fmt.Errorf("%w: handler %s", contractx.ErrNotFound, name)
	}
	if e.card.Status == contractx.HealthUnreachable {
		return nil, fmt.Errorf("%w: %s is unreachable", contractx.ErrHandlerUnavailable, name)
	}
	return e.handler, nil
}

// FindByCapability returns the Healthy cards declaring the capability,
// sorted by name.
func (r *Registry) FindByCapability(capability string) []contractx.CapabilityCard {
	r.sweepIfStale(r.now())

	r.mu.RLock()
	defer r.mu.RUnlock()

	var cards []contractx.CapabilityCard
	for _, e := range r.handlers {
		if e.card.Status != contractx.HealthHealthy {
			continue
		}
		if !e.card.Has(capability) {
			continue
		}
		cards = append(cards, cloneCard(e.card))
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })
	return cards
}

// Heartbeat refreshes the card and recovers it to Healthy.
func (r *Registry) Heartbeat(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.handlers[name]
	if !exists {
		return fmt.Errorf("%w: handler %s", contractx.ErrNotFound, name)
	}
	e.card.LastHeartbeat = r.now()
	e.card.Status = contractx.HealthHealthy
	return nil
}

// MarkDegraded flags a handler that missed a per-call deadline. A later
// heartbeat recovers it; staleness still wins over degradation.
func (r *Registry) MarkDegraded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.handlers[name]
	if !exists {
		return
	}
	if e.card.Status == contractx.HealthHealthy {
		e.card.Status = contractx.HealthDegraded
		r.log.Warn().Str("handler", name).Msg("handler marked degraded")
	}
}

// Broadcast probes every currently Healthy handler outside the excluded
// set and collects individual results in name order. Probes never touch
// session state, so broadcasting is safe at any time.
func (r *Registry) Broadcast(ctx context.Context, message string, exclude []string) []contractx.BroadcastResult {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[strings.TrimSpace(name)] = true
	}

	r.sweepIfStale(r.now())

	r.mu.RLock()
	targets := make([]*entry, 0, len(r.handlers))
	for _, e := range r.handlers {
		if e.card.Status != contractx.HealthHealthy || excluded[e.card.Name] {
			continue
		}
		targets = append(targets, e)
	}
	r.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].card.Name < targets[j].card.Name })

	results := make([]contractx.BroadcastResult, 0, len(targets))
	for _, e := range targets {
		if err := ctx.Err(); err != nil {
			results = append(results, contractx.BroadcastResult{Handler: e.card.Name, OK: false, Err: err.Error()})
			continue
		}
		results = append(results, e.handler.Probe(ctx, message))
	}
	return results
}

// StartSweeper flips stale cards in the background until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, sweepInterval time.Duration) {
	if sweepInterval <= 0 {
		sweepInterval = r.interval
	}
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.mu.Lock()
				r.markStaleLocked(r.now())
				r.mu.Unlock()
			}
		}
	}()
}

// sweepIfStale checks for stale cards under the read lock and flips them
// under the write lock only when one is actually found, so concurrent
// lookups share the lock in the common all-fresh case.
func (r *Registry) sweepIfStale(now time.Time) {
	r.mu.RLock()
	stale := r.anyStaleLocked(now)
	r.mu.RUnlock()
	if !stale {
		return
	}

	r.mu.Lock()
	r.markStaleLocked(now)
	r.mu.Unlock()
}

// anyStaleLocked reports whether a card has outlived the staleness window.
// Caller holds at least the read lock.
func (r *Registry) anyStaleLocked(now time.Time) bool {
	window := r.interval * staleMultiplier
	for _, e := range r.handlers {
		if e.card.Status == contractx.HealthUnreachable {
			continue
		}
		if now.Sub(e.card.LastHeartbeat) > window {
			return true
		}
	}
	return false
}

// markStaleLocked flips handlers whose heartbeat is older than twice the
// heartbeat interval to Unreachable. Caller holds the write lock.
func (r *Registry) markStaleLocked(now time.Time) {
	window := r.interval * staleMultiplier
	for _, e := range r.handlers {
		if e.card.Status == contractx.HealthUnreachable {
			continue
		}
		if now.Sub(e.card.LastHeartbeat) > window {
			r.log.Warn().
				Str("handler", e.card.Name).
				Time("last_heartbeat", e.card.LastHeartbeat).
				Msg("handler heartbeat stale, marking unreachable")
			e.card.Status = contractx.HealthUnreachable
		}
	}
}

func cloneCard(card contractx.CapabilityCard) contractx.CapabilityCard {
	out := card
	out.Capabilities = append([]string(nil), card.Capabilities...)
	return out
}
