package state

import (
	"errors"
	"math"
	"testing"
	"time"
)

func testClock() time.Time {
	return time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
}

func sunglasses() CartItem {
	return CartItem{ItemID: "sku-sunglasses", Name: "Recycled Sunglasses", Quantity: 1, Price: 59.90, FootprintKg: 49.0}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= FootprintTolerance
}

func newActiveSession(t *testing.T) *SessionState {
	t.Helper()
	return NewSessionState("session-1", testClock())
}

func TestAddToCartRecomputesProductFootprint(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}

	if !almostEqual(st.ProductFootprintKg, 49.0) {
		t.Fatalf("ProductFootprintKg = %v, want 49.0", st.ProductFootprintKg)
	}
	if !almostEqual(st.TotalFootprintKg, 49.0) {
		t.Fatalf("TotalFootprintKg = %v, want 49.0", st.TotalFootprintKg)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestEcoShippingTotal(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if err := st.SelectShipping("eco", 150.0, testClock()); err != nil {
		t.Fatalf("SelectShipping() error = %v", err)
	}

	if !almostEqual(st.TotalFootprintKg, 199.0) {
		t.Fatalf("TotalFootprintKg = %v, want 199.0", st.TotalFootprintKg)
	}
}

func TestShippingOverwritesInsteadOfAccumulating(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if err := st.SelectShipping("eco", 150.0, testClock()); err != nil {
		t.Fatalf("SelectShipping(eco) error = %v", err)
	}
	if err := st.SelectShipping("express", 450.0, testClock()); err != nil {
		t.Fatalf("SelectShipping(express) error = %v", err)
	}

	if !almostEqual(st.TotalFootprintKg, 499.0) {
		t.Fatalf("TotalFootprintKg = %v, want 499.0 (overwrite, not 649.0)", st.TotalFootprintKg)
	}
	if st.SelectedShippingMethod != "express" {
		t.Fatalf("SelectedShippingMethod = %q, want express", st.SelectedShippingMethod)
	}
}

func TestPaymentSuccessResetsSession(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if err := st.SelectShipping("eco", 150.0, testClock()); err != nil {
		t.Fatalf("SelectShipping() error = %v", err)
	}
	if err := st.Checkout(testClock()); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if st.Lifecycle != LifecycleCheckout {
		t.Fatalf("Lifecycle = %q, want checkout", st.Lifecycle)
	}

	receipt, err := st.PaymentSuccess(testClock())
	if err != nil {
		t.Fatalf("PaymentSuccess() error = %v", err)
	}

	if !almostEqual(receipt.TotalFootprintKg, 199.0) {
		t.Fatalf("receipt total = %v, want 199.0", receipt.TotalFootprintKg)
	}
	if len(receipt.Items) != 1 {
		t.Fatalf("receipt items = %d, want 1", len(receipt.Items))
	}
	if receipt.ShippingMethod != "eco" {
		t.Fatalf("receipt shipping method = %q, want eco", receipt.ShippingMethod)
	}

	if !almostEqual(st.TotalFootprintKg, 0) || !almostEqual(st.ProductFootprintKg, 0) || !almostEqual(st.ShippingFootprintKg, 0) {
		t.Fatalf("footprints not zeroed: total=%v product=%v shipping=%v",
			st.TotalFootprintKg, st.ProductFootprintKg, st.ShippingFootprintKg)
	}
	if len(st.CartItems) != 0 {
		t.Fatalf("cart not cleared: %d items", len(st.CartItems))
	}
	if st.Lifecycle != LifecycleActive {
		t.Fatalf("Lifecycle = %q, want active after reset", st.Lifecycle)
	}
}

func TestViewCartIsReadOnly(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if err := st.SelectShipping("eco", 150.0, testClock()); err != nil {
		t.Fatalf("SelectShipping() error = %v", err)
	}

	view := st.ViewCart()
	if !almostEqual(view.TotalFootprintKg, 199.0) {
		t.Fatalf("view total = %v, want 199.0", view.TotalFootprintKg)
	}

	// Scribbling on the view must not reach the session.
	view.Items[0].FootprintKg = 9999
	view.TotalFootprintKg = 0

	if !almostEqual(st.TotalFootprintKg, 199.0) {
		t.Fatalf("TotalFootprintKg = %v after ViewCart, want 199.0", st.TotalFootprintKg)
	}
	if !almostEqual(st.CartItems[0].FootprintKg, 49.0) {
		t.Fatalf("item footprint = %v after ViewCart, want 49.0", st.CartItems[0].FootprintKg)
	}
	if !almostEqual(st.ShippingFootprintKg, 150.0) {
		t.Fatalf("ShippingFootprintKg = %v after ViewCart, want 150.0", st.ShippingFootprintKg)
	}
}

func TestAddToCartReplayDoesNotDoubleCount(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() replay error = %v", err)
	}

	if len(st.CartItems) != 1 {
		t.Fatalf("cart lines = %d, want 1", len(st.CartItems))
	}
	if !almostEqual(st.ProductFootprintKg, 49.0) {
		t.Fatalf("ProductFootprintKg = %v, want 49.0 after replay", st.ProductFootprintKg)
	}
}

func TestRemoveFromCartRecomputes(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if err := st.AddToCart(CartItem{ItemID: "sku-bottle", Name: "Steel Bottle", Quantity: 2, FootprintKg: 3.5}, testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if !almostEqual(st.ProductFootprintKg, 49.0+7.0) {
		t.Fatalf("ProductFootprintKg = %v, want 56.0", st.ProductFootprintKg)
	}

	if err := st.RemoveFromCart("sku-sunglasses", testClock()); err != nil {
		t.Fatalf("RemoveFromCart() error = %v", err)
	}
	if !almostEqual(st.ProductFootprintKg, 7.0) {
		t.Fatalf("ProductFootprintKg = %v, want 7.0", st.ProductFootprintKg)
	}

	err := st.RemoveFromCart("sku-sunglasses", testClock())
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("RemoveFromCart() error = %v, want ErrItemNotFound", err)
	}
}

func TestSelectShippingOnEmptyCart(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	err := st.SelectShipping("eco", 150.0, testClock())
	if !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("SelectShipping() error = %v, want ErrInvalidSessionState", err)
	}
	if st.ShippingFootprintKg != 0 || st.SelectedShippingMethod != "" {
		t.Fatalf("state changed on rejected SelectShipping: %+v", st)
	}
}

func TestCheckoutOnEmptyCart(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	err := st.Checkout(testClock())
	if !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("Checkout() error = %v, want ErrInvalidSessionState", err)
	}
	if st.Lifecycle != LifecycleActive {
		t.Fatalf("Lifecycle = %q after rejected checkout, want active", st.Lifecycle)
	}
}

func TestPaymentWithoutCheckout(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	_, err := st.PaymentSuccess(testClock())
	if !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("PaymentSuccess() error = %v, want ErrInvalidSessionState", err)
	}
}

func TestNoCartMutationDuringCheckout(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if err := st.Checkout(testClock()); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	if err := st.AddToCart(sunglasses(), testClock()); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("AddToCart() during checkout error = %v, want ErrInvalidSessionState", err)
	}
	if err := st.RemoveFromCart("sku-sunglasses", testClock()); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("RemoveFromCart() during checkout error = %v, want ErrInvalidSessionState", err)
	}
	if err := st.Checkout(testClock()); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("Checkout() during checkout error = %v, want ErrInvalidSessionState", err)
	}

	// Shipping swaps stay legal while checking out.
	if err := st.SelectShipping("express", 450.0, testClock()); err != nil {
		t.Fatalf("SelectShipping() during checkout error = %v", err)
	}
}

func TestClearCartResets(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if err := st.SelectShipping("eco", 150.0, testClock()); err != nil {
		t.Fatalf("SelectShipping() error = %v", err)
	}

	if err := st.ClearCart(testClock()); err != nil {
		t.Fatalf("ClearCart() error = %v", err)
	}
	if len(st.CartItems) != 0 || !almostEqual(st.TotalFootprintKg, 0) {
		t.Fatalf("ClearCart left state: items=%d total=%v", len(st.CartItems), st.TotalFootprintKg)
	}
	if st.Lifecycle != LifecycleActive {
		t.Fatalf("Lifecycle = %q after ClearCart, want active", st.Lifecycle)
	}
}

func TestTotalInvariantAcrossOperationSequence(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	steps := []func() error{
		func() error { return st.AddToCart(sunglasses(), testClock()) },
		func() error {
			return st.AddToCart(CartItem{ItemID: "sku-tee", Name: "Organic Tee", Quantity: 3, FootprintKg: 2.1}, testClock())
		},
		func() error { return st.SelectShipping("eco", 150.0, testClock()) },
		func() error { return st.RemoveFromCart("sku-tee", testClock()) },
		func() error { return st.SelectShipping("express", 450.0, testClock()) },
		func() error { return st.AddToCart(sunglasses(), testClock()) },
		func() error { return st.Checkout(testClock()) },
		func() error { return st.SelectShipping("eco", 150.0, testClock()) },
		func() error {
			_, err := st.PaymentSuccess(testClock())
			return err
		},
	}

	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
		if !almostEqual(st.TotalFootprintKg, st.ProductFootprintKg+st.ShippingFootprintKg) {
			t.Fatalf("step %d broke invariant: total=%v product=%v shipping=%v",
				i, st.TotalFootprintKg, st.ProductFootprintKg, st.ShippingFootprintKg)
		}
		if err := st.Validate(); err != nil {
			t.Fatalf("step %d Validate() error = %v", i, err)
		}
	}
}

func TestValidateDetectsDriftedTotal(t *testing.T) {
	t.Parallel()

	st := newActiveSession(t)
	if err := st.AddToCart(sunglasses(), testClock()); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}

	st.TotalFootprintKg = 123.45
	if err := st.Validate(); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("Validate() error = %v, want ErrInvalidSessionState for drifted total", err)
	}
}
