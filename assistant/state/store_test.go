package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreLoadMissing(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	_, err := store.Load(context.Background(), "nope")
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestMemoryStoreRoundTripCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	st := NewSessionState("session-1", testClock())
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Mutating the original after Save must not reach the stored copy.
	st.CartItems[0].FootprintKg = 1

	loaded, err := store.Load(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !almostEqual(loaded.CartItems[0].FootprintKg, 49.0) {
		t.Fatalf("stored item footprint = %v, want 49.0", loaded.CartItems[0].FootprintKg)
	}

	// And mutating the loaded copy must not reach the store either.
	loaded.CartItems[0].FootprintKg = 2
	again, err := store.Load(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !almostEqual(again.CartItems[0].FootprintKg, 49.0) {
		t.Fatalf("stored item footprint = %v after load mutation, want 49.0", again.CartItems[0].FootprintKg)
	}
}

func TestMemoryStoreEvictsOverLimit(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(WithMaxSessions(2))
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(context.Background(), NewSessionState(id, testClock())); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	if _, err := store.Load(context.Background(), "a"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("oldest session survived eviction: err = %v", err)
	}
	if _, err := store.Load(context.Background(), "c"); err != nil {
		t.Fatalf("newest session evicted: err = %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", store.Len())
	}
}

func TestMemoryStoreExpiresByTTL(t *testing.T) {
	t.Parallel()

	current := testClock()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	store := NewMemoryStore(WithMemoryTTL(time.Minute), WithMemoryClock(clock))
	if err := store.Save(context.Background(), NewSessionState("session-1", testClock())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	mu.Lock()
	current = current.Add(2 * time.Minute)
	mu.Unlock()

	if _, err := store.Load(context.Background(), "session-1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() after TTL error = %v, want ErrStateNotFound", err)
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(NewMemoryStore(), WithManagerClock(testClock))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

func TestManagerMutateCreatesLazily(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	st, err := mgr.Mutate(context.Background(), "session-1", func(s *SessionState) error {
		return s.AddToCart(sunglasses(), testClock())
	})
	if err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}
	if !almostEqual(st.TotalFootprintKg, 49.0) {
		t.Fatalf("TotalFootprintKg = %v, want 49.0", st.TotalFootprintKg)
	}

	view, err := mgr.View(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if len(view.CartItems) != 1 {
		t.Fatalf("persisted cart lines = %d, want 1", len(view.CartItems))
	}
}

func TestManagerMutateFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	if _, err := mgr.Mutate(context.Background(), "session-1", func(s *SessionState) error {
		return s.AddToCart(sunglasses(), testClock())
	}); err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}

	boom := errors.New("boom")
	_, err := mgr.Mutate(context.Background(), "session-1", func(s *SessionState) error {
		s.CartItems = nil
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Mutate() error = %v, want boom", err)
	}

	view, err := mgr.View(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if len(view.CartItems) != 1 {
		t.Fatalf("failed mutation leaked: cart lines = %d, want 1", len(view.CartItems))
	}
}

func TestManagerMutateRejectsInvalidResult(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	_, err := mgr.Mutate(context.Background(), "session-1", func(s *SessionState) error {
		s.TotalFootprintKg = 77 // bypasses recompute; must be caught before save
		return nil
	})
	if !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("Mutate() error = %v, want ErrInvalidSessionState", err)
	}

	view, err := mgr.View(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if view.TotalFootprintKg != 0 {
		t.Fatalf("invalid state persisted: total = %v", view.TotalFootprintKg)
	}
}

func TestManagerMutateCancelledContext(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.Mutate(ctx, "session-1", func(s *SessionState) error {
		return s.AddToCart(sunglasses(), testClock())
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Mutate() error = %v, want context.Canceled", err)
	}
}

func TestManagerViewDoesNotPersist(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	mgr, err := NewManager(store, WithManagerClock(testClock))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	view, err := mgr.View(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if view.Lifecycle != LifecycleActive || len(view.CartItems) != 0 {
		t.Fatalf("unexpected fresh view: %+v", view)
	}

	if _, err := store.Load(context.Background(), "ghost"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("View persisted a session: err = %v", err)
	}
}

func TestManagerSerializesPerKey(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers+1)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := mgr.Mutate(context.Background(), "session-1", func(s *SessionState) error {
				return s.AddToCart(CartItem{
					ItemID:      fmt.Sprintf("sku-%02d", n),
					Quantity:    1,
					FootprintKg: 1.0,
				}, testClock())
			})
			errs <- err
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := mgr.Mutate(context.Background(), "session-1", func(s *SessionState) error {
			if s.CartEmpty() {
				return nil // shipping needs a non-empty cart; skip if we won the race
			}
			return s.SelectShipping("eco", 150.0, testClock())
		})
		errs <- err
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Mutate() error = %v", err)
		}
	}

	st, err := mgr.View(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if len(st.CartItems) != writers {
		t.Fatalf("cart lines = %d, want %d", len(st.CartItems), writers)
	}
	if !almostEqual(st.ProductFootprintKg, float64(writers)) {
		t.Fatalf("ProductFootprintKg = %v, want %v", st.ProductFootprintKg, float64(writers))
	}
	if !almostEqual(st.TotalFootprintKg, st.ProductFootprintKg+st.ShippingFootprintKg) {
		t.Fatalf("invariant broken under concurrency: total=%v product=%v shipping=%v",
			st.TotalFootprintKg, st.ProductFootprintKg, st.ShippingFootprintKg)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
