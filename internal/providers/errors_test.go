package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]ErrorType{
		"insufficient_quota":        ErrorQuota,
		"429 rate":                  ErrorRate,
		"prompt too long":           ErrorContext,
		"timeout":                   ErrorTransient,
		"upstream status 503":       ErrorTransient,
		"bad request":               ErrorPermanent,
		"model service unavailable": ErrorTransient,
		"openai generate error 400": ErrorPermanent,
	}
	for msg, want := range cases {
		if got := ClassifyError(errors.New(msg)); got != want {
			t.Fatalf("classify %q: got %s want %s", msg, got, want)
		}
	}
}

func TestClassifyContextErrors(t *testing.T) {
	if got := ClassifyError(fmt.Errorf("generate: %w", context.Canceled)); got != ErrorCanceled {
		t.Fatalf("canceled: got %s", got)
	}
	if got := ClassifyError(fmt.Errorf("generate: %w", context.DeadlineExceeded)); got != ErrorTransient {
		t.Fatalf("deadline: got %s", got)
	}
	if IsRetryable(context.Canceled) {
		t.Fatalf("cancellation must not be retried")
	}
	if !IsRetryable(errors.New("429 too many requests")) {
		t.Fatalf("rate limit should be retried")
	}
}
