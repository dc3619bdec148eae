// Package apierr carries the core's error taxonomy and maps each kind to
// the process's exit code.
package apierr

import "fmt"

// Kind tags the taxonomy a failure belongs to.
type Kind string

const (
	KindConfig             Kind = "config"
	KindDependencyTimeout  Kind = "dependency_timeout"
	KindStoreUnavailable   Kind = "store_unavailable"
	KindStoreError         Kind = "store_error"
	KindFatalStore         Kind = "fatal_store"
	KindRestartPolicyDenied Kind = "restart_policy_denied"
)

// Error is the single error type every fail-fast path in the core returns.
// Business-logic errors from a ProcessFunc are never wrapped in this —
// they go straight to mark_failed untouched.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func Config(detail string, err error) *Error {
	return New(KindConfig, detail, err)
}

func DependencyTimeout(detail string, err error) *Error {
	return New(KindDependencyTimeout, detail, err)
}

func StoreUnavailable(detail string, err error) *Error {
	return New(KindStoreUnavailable, detail, err)
}

func StoreError(detail string, err error) *Error {
	return New(KindStoreError, detail, err)
}

func FatalStore(detail string, err error) *Error {
	return New(KindFatalStore, detail, err)
}

func RestartPolicyDenied(detail string, err error) *Error {
	return New(KindRestartPolicyDenied, detail, err)
}

// ExitCode implements the process's exit-code table. A nil error exits 0;
// an error with no *Error in its chain exits 1; callers that need the
// signal-driven 130/143 codes set those directly from the signal handler
// rather than through this path.
//
// KindStoreUnavailable and KindStoreError are deliberately absent from
// this switch: a store-unavailable condition during steady-state
// operation never terminates the process on its own — the worker loop
// sleeps and re-probes, and health degrades. Only the startup dependency
// wait (KindDependencyTimeout) and a genuinely fatal store fault
// (KindFatalStore, e.g. a migration checksum mismatch) exit the process.
// If one of these kinds ever does reach this function as the process's
// final error, it falls through to the generic exit 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if !asAPIErr(err, &e) {
		return 1
	}
	switch e.Kind {
	case KindConfig:
		return 1
	case KindDependencyTimeout:
		return 2
	case KindFatalStore:
		return 3
	case KindRestartPolicyDenied:
		return 4
	default:
		return 1
	}
}

func asAPIErr(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
