package feed

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsConnErrorTyped(t *testing.T) {
	err := &ConnError{Op: "dial", Err: errors.New("boom")}
	if !IsConnError(err) {
		t.Fatalf("typed ConnError not recognized")
	}
	if !IsConnError(fmt.Errorf("wrapped: %w", err)) {
		t.Fatalf("wrapped ConnError not recognized")
	}
}

func TestIsConnErrorSubstrings(t *testing.T) {
	for _, msg := range []string{
		"connection reset by peer",
		"read timeout exceeded",
		"use of closed network connection",
		"dial tcp: connection refused",
		"unexpected EOF",
	} {
		if !IsConnError(errors.New(msg)) {
			t.Errorf("%q should be connection-class", msg)
		}
	}
}

func TestIsConnErrorRejectsOthers(t *testing.T) {
	if IsConnError(nil) {
		t.Fatalf("nil is not an error")
	}
	if IsConnError(errors.New("invalid character 'x' in JSON")) {
		t.Fatalf("message-level error misclassified as connection-class")
	}
}
