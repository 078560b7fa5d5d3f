package edelta

import (
	"errors"
	"strings"
	"testing"
)

func TestSafelyCall(t *testing.T) {
	errBoom := errors.New("boom")
	if err := safelyCall(func(n int) error { return nil }, 1); err != nil {
		t.Fatalf("safelyCall = %v, wanted nil", err)
	}
	if err := safelyCall(func(n int) error { return errBoom }, 1); err != errBoom {
		t.Fatalf("safelyCall = %v, wanted %v", err, errBoom)
	}

	err := safelyCall(func(s []int) error {
		_ = s[5]
		return nil
	}, nil)
	var p panicked
	if !errors.As(err, &p) {
		t.Fatalf("safelyCall = %v, wanted a recovered panic", err)
	}
	if !strings.HasPrefix(err.Error(), "panic: runtime error: index out of range") {
		t.Errorf("err = %q", err)
	}
	if !strings.Contains(p.stack, "goroutine") {
		t.Errorf("stack = %q", p.stack)
	}
}
