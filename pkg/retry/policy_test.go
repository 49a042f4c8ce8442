package retry

import (
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	policy := Policy{
		MaxAttempts:       4,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{200, 10 * time.Second},
	}

	for _, test := range tests {
		if actual := policy.Delay(test.retryCount); actual != test.expected {
			t.Errorf("Delay(%d) = %v, want %v", test.retryCount, actual, test.expected)
		}
	}
}

func TestPolicyShouldRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	if !p.ShouldRetry(2) {
		t.Error("expected retry after 2 attempts")
	}
	if p.ShouldRetry(3) {
		t.Error("expected no retry after 3 attempts")
	}
	if !(Policy{}).ShouldRetry(1000) {
		t.Error("zero MaxAttempts means unlimited")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DeliveryPolicy().Validate(); err != nil {
		t.Fatalf("default delivery policy invalid: %v", err)
	}
	if err := MatchingPolicy().Validate(); err != nil {
		t.Fatalf("default matching policy invalid: %v", err)
	}
	bad := Policy{InitialDelay: time.Minute, MaxDelay: time.Second, BackoffMultiplier: 2}
	if err := bad.Validate(); err == nil {
		t.Error("expected error when InitialDelay > MaxDelay")
	}
}
