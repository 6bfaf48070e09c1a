// Package harvesterrors defines the harvester's error taxonomy (§7): one
// sentinel per error kind, with wrapped details carried via %w chains, in
// the same wrapped-sentinel style a staged-sync pipeline stage uses for its
// own fatal-vs-retryable error classification.
package harvesterrors

import (
	"errors"
	"fmt"
)

// Sentinels for the error kinds in §7. Use errors.Is against these after
// wrapping with fmt.Errorf("...: %w", ErrX).
var (
	// ErrTransientConnection covers socket closed/refused, broken pipe,
	// upstream handshake failure, or an upstream RPC-transport error.
	// The supervisor catches this class and triggers reconnect.
	ErrTransientConnection = errors.New("transient connection error")

	// ErrBlockDecode is thrown from a decode path when a structural
	// invariant breaks (not a single-record failure). The supervisor
	// logs and continues to the next iteration.
	ErrBlockDecode = errors.New("block decode error")

	// ErrDecodeRecord is a single extrinsic/log/storage/event decode
	// failure. Handled inside the owning job by flagging the row retry.
	ErrDecodeRecord = errors.New("record decode error")

	// ErrStorageMissing is returned when state_getStorageAt comes back
	// empty where the caller expected a value; it is fatal for that call.
	ErrStorageMissing = errors.New("expected storage entry missing")

	// ErrShutdown is the sentinel that unwinds a job loop to a clean exit.
	ErrShutdown = errors.New("shutdown requested")

	// ErrConfig covers missing required configuration or a detected
	// chain-identity mismatch; both fail fast at startup.
	ErrConfig = errors.New("configuration error")
)

// IsTransientConnection reports whether err (or anything it wraps) is a
// transient-connection failure.
func IsTransientConnection(err error) bool { return errors.Is(err, ErrTransientConnection) }

// IsShutdown reports whether err signals a requested shutdown.
func IsShutdown(err error) bool { return errors.Is(err, ErrShutdown) }

// WrapDecodeRecord wraps a per-record decode failure with context.
func WrapDecodeRecord(scope string, err error) error {
	return fmt.Errorf("%s: %w: %v", scope, ErrDecodeRecord, err)
}

// WrapTransient wraps a transport-layer failure detected from a raw error,
// e.g. a websocket close, refused connection, or broken pipe.
func WrapTransient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrTransientConnection, err)
}
