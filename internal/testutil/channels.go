// Package testutil carries small channel helpers shared by test files.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Wait blocks until ch closes or delivers, failing the test after the
// timeout. Use it for done channels and shutdown signals.
func Wait(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

// Receive returns the next value from ch, failing the test when none
// arrives within the timeout.
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.Fail(t, msg)
		var zero T
		return zero
	}
}
