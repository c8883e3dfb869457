package product

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("fetch stage: %w", NewError(KindNavigationTimeout, "", errors.New("deadline")))
	if got := KindOf(wrapped); got != KindNavigationTimeout {
		t.Fatalf("expected navigation timeout, got %q", got)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("expected internal for foreign error, got %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %q", got)
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	t.Parallel()

	err := NewError(KindSelectorNotFound, "#price", nil)
	if !errors.Is(err, &Error{Kind: KindSelectorNotFound}) {
		t.Fatal("expected errors.Is to match on kind")
	}
	if errors.Is(err, &Error{Kind: KindEmptyContent}) {
		t.Fatal("expected different kinds not to match")
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *Error
		want string
	}{
		{NewError(KindEmptyContent, "", nil), "empty_content"},
		{NewError(KindSelectorNotFound, "#main", nil), "selector_not_found: #main"},
		{NewError(KindLaunchFailure, "", errors.New("no chrome")), "launch_failure: no chrome"},
		{NewError(KindMalformedResponse, "json", errors.New("eof")), "malformed_response: json: eof"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Fatalf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()

	msg := Message(NewError(KindMissingRequiredField, "price", nil))
	if !strings.Contains(msg, "price") {
		t.Fatalf("expected detail in message, got %q", msg)
	}
	if got := Message(errors.New("raw")); got != kindMessages[KindInternal] {
		t.Fatalf("expected internal message, got %q", got)
	}
	if got := Message(NewError(KindLaunchFailure, "exec: chrome", nil)); strings.Contains(got, "exec") {
		t.Fatalf("launch detail must not leak into message: %q", got)
	}
}

func TestFetchOptionsMinLength(t *testing.T) {
	t.Parallel()

	if got := (FetchOptions{}).MinLength(); got != DefaultMinContentLength {
		t.Fatalf("expected default min length, got %d", got)
	}
	if got := (FetchOptions{MinContentLength: 10}).MinLength(); got != 10 {
		t.Fatalf("expected override, got %d", got)
	}
}
