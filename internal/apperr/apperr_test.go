package apperr

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := E(ErrUpstreamUnavailable, "recipe.Search", cause, "meal_type", "lunch")

	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Expected error to match ErrUpstreamUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected error to match its cause")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("Expected error not to match ErrNotFound")
	}
	msg := err.Error()
	for _, want := range []string{"recipe.Search", "upstream unavailable", "meal_type=lunch", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message %q to contain %q", msg, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), Validation("op", "bad day %d", 9))
	if KindOf(wrapped) != ErrValidation {
		t.Errorf("Expected ErrValidation, got %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != nil {
		t.Errorf("Expected nil kind for plain error")
	}
}

func TestRetryRead(t *testing.T) {
	policy := RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxElapsed: time.Second}

	t.Run("RetriesTransient", func(t *testing.T) {
		calls := 0
		v, err := RetryRead(context.Background(), policy, func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, Unavailable("read", errors.New("timeout"))
			}
			return 42, nil
		})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if v != 42 {
			t.Errorf("Expected 42, got %d", v)
		}
		if calls != 3 {
			t.Errorf("Expected 3 calls, got %d", calls)
		}
	})

	t.Run("StopsOnPermanent", func(t *testing.T) {
		calls := 0
		_, err := RetryRead(context.Background(), policy, func(context.Context) (int, error) {
			calls++
			return 0, E(ErrNotFound, "read", nil)
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected 1 call, got %d", calls)
		}
	})

	t.Run("GivesUpAfterMaxTries", func(t *testing.T) {
		calls := 0
		_, err := RetryRead(context.Background(), policy, func(context.Context) (string, error) {
			calls++
			return "", Unavailable("read", errors.New("down"))
		})
		if !errors.Is(err, ErrUpstreamUnavailable) {
			t.Fatalf("Expected ErrUpstreamUnavailable, got %v", err)
		}
		if calls != 3 {
			t.Errorf("Expected 3 calls, got %d", calls)
		}
	})
}
