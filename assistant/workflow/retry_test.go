package workflow

import (
	"testing"
	"time"
)

func TestDelayGrowsExponentiallyAndCaps(t *testing.T) {
	t.Parallel()

	p := Policy{
		MaxRetries:        5,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2.0,
	}

	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{5, 2 * time.Second},
		{10, 2 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.retryCount); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.retryCount, got, tc.want)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	bad := []Policy{
		{MaxRetries: -1, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2},
		{MaxRetries: 1, InitialDelay: 0, MaxDelay: time.Second, BackoffMultiplier: 2},
		{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond, BackoffMultiplier: 2},
		{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 0},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
