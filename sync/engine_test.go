package sync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUniqueTxIDsDeduplicates(t *testing.T) {
	history := map[string][]HistoryEntry{
		"addr1": {{TxID: "abc", Height: 100}, {TxID: "def", Height: 0}},
		"addr2": {{TxID: "abc", Height: 100}},
	}
	ids := UniqueTxIDs(history)
	if len(ids) != 2 {
		t.Fatalf("len = %d, want 2", len(ids))
	}
	if ids["abc"] != 100 {
		t.Errorf("abc height = %d, want 100", ids["abc"])
	}
}

func TestUniqueTxIDsPrefersConfirmedHeight(t *testing.T) {
	history := map[string][]HistoryEntry{
		"addr1": {{TxID: "abc", Height: 0}},
		"addr2": {{TxID: "abc", Height: 500}},
	}
	ids := UniqueTxIDs(history)
	if ids["abc"] != 500 {
		t.Errorf("height = %d, want 500 (confirmed height preferred over unconfirmed 0)", ids["abc"])
	}
}

func TestProjectBalanceSplitsConfirmedUnconfirmed(t *testing.T) {
	utxos := []UTXO{
		{Value: 1000, Height: 500},
		{Value: 2000, Height: 0},
		{Value: 500, Height: -1},
	}
	b := ProjectBalance(utxos)
	if b.Confirmed != 1000 {
		t.Errorf("Confirmed = %d, want 1000", b.Confirmed)
	}
	if b.Unconfirmed != 2500 {
		t.Errorf("Unconfirmed = %d, want 2500", b.Unconfirmed)
	}
}

func TestWithRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	result, err := withRetry(context.Background(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryGivesUpEventually(t *testing.T) {
	// A short-lived context bounds the test: withRetry gives up either once
	// the max-attempt cap is hit or once ctx expires, whichever comes first.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := withRetry(ctx, func() (int, error) {
		calls++
		return 0, errors.New("persistent")
	})
	if err == nil {
		t.Fatal("expected an error after repeated failures")
	}
	if calls < 1 {
		t.Errorf("calls = %d, want at least 1 attempt before giving up", calls)
	}
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := withRetry(ctx, func() (int, error) {
		calls++
		return 0, errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}
