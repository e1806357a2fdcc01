package chain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"
)

// TransientError wraps failures worth retrying: network faults, timeouts,
// rate limits, 5xx responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient chain error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps failures that will not succeed on retry: reverts,
// malformed responses, nonce exhaustion, insufficient funds.
type PermanentError struct {
	Op     string
	Revert string // revert reason when the node surfaced one
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Revert != "" {
		return fmt.Sprintf("permanent chain error in %s: reverted: %s", e.Op, e.Revert)
	}
	return fmt.Sprintf("permanent chain error in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// RevertReason extracts the revert message from a permanent error, or "".
func RevertReason(err error) string {
	var p *PermanentError
	if errors.As(err, &p) {
		return p.Revert
	}
	return ""
}

// classify maps a raw RPC error into the adapter taxonomy. Ambiguous errors
// default to transient so the caller's backoff gets a chance.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsPermanent(err) {
		return err
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "execution reverted"):
		return &PermanentError{Op: op, Revert: revertFromMessage(err.Error()), Err: err}
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "invalid sender"),
		strings.Contains(msg, "malformed"):
		return &PermanentError{Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") {
		return &TransientError{Op: op, Err: err}
	}

	return &TransientError{Op: op, Err: err}
}

// revertFromMessage pulls the human-readable reason out of a node error
// string like "execution reverted: Already paused".
func revertFromMessage(msg string) string {
	const marker = "execution reverted"
	idx := strings.Index(strings.ToLower(msg), marker)
	if idx < 0 {
		return ""
	}
	rest := msg[idx+len(marker):]
	rest = strings.TrimLeft(rest, ": ")
	return strings.TrimSpace(rest)
}

// Backoff parameters for transient retries.
const (
	retryInitialDelay = 500 * time.Millisecond
	retryFactor       = 2
	retryMaxAttempts  = 5
)

// Retry runs fn up to retryMaxAttempts times, backing off exponentially with
// jitter on transient errors. Permanent errors and context cancellation stop
// the loop immediately.
func Retry(ctx context.Context, fn func() error) error {
	delay := retryInitialDelay
	var err error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err = fn()
		if err == nil || IsPermanent(err) {
			return err
		}
		if attempt == retryMaxAttempts {
			break
		}
		// Jitter up to half the current delay.
		sleep := delay + time.Duration(rand.Int63n(int64(delay/2)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= retryFactor
	}
	return err
}
