package errors

import (
	"errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	underlying := errors.New("boom")
	err := New(ParseFailure, "parse", underlying).WithFile("src/main.cpp")

	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty message")
	}
	if !errors.Is(err, underlying) {
		t.Fatalf("expected Unwrap to expose underlying error")
	}
}

func TestErrorIsKind(t *testing.T) {
	err := New(NotReady, "search_symbols", nil)
	if !errors.Is(err, Sentinel(NotReady)) {
		t.Fatalf("expected errors.Is to match on Kind")
	}
	if errors.Is(err, Sentinel(Cancelled)) {
		t.Fatalf("expected errors.Is to reject mismatched Kind")
	}
}

func TestMultiAggregatesAndFiltersNil(t *testing.T) {
	m := NewMulti([]error{nil, New(ParseFailure, "parse", nil), nil, New(WorkerCrashed, "dispatch", nil)})
	if len(m.Errors) != 2 {
		t.Fatalf("expected 2 errors after filtering nils, got %d", len(m.Errors))
	}
	if m.Error() == "" {
		t.Fatalf("expected non-empty aggregate message")
	}
}

func TestMultiSingleError(t *testing.T) {
	inner := New(StorageCorruption, "open", nil)
	m := NewMulti([]error{inner})
	if m.Error() != inner.Error() {
		t.Fatalf("single-error Multi should delegate to that error's message")
	}
}
