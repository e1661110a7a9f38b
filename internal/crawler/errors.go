package crawler

import (
	"context"
	"errors"
)

// Retryable failures.
var (
	ErrNavigationTimeout = errors.New("navigation timeout")
	ErrResolveTimeout    = errors.New("resolve timeout: no new tab or navigation observed")
	ErrLoadTimeout       = errors.New("tab load timeout")
	ErrDetailTimeout     = errors.New("detail fetch timeout")
	ErrNoListings        = errors.New("no listings found")
)

// Terminal-per-item failures.
var (
	ErrInvalidCapturedURL = errors.New("captured url rejected")
	ErrNoTitle            = errors.New("listing has no title")
)

// Terminal-per-run failures.
var (
	ErrBrowserLaunch = errors.New("browser launch failed")
	ErrNoKeywords    = errors.New("profile has no keywords")
)

// Sink and queue errors.
var (
	ErrDuplicateJob = errors.New("duplicate job")
	ErrJobNotFound  = errors.New("job not found")
	ErrQueueClosed  = errors.New("queue closed")
)

// Outcome is the scheduler-facing classification of a task attempt.
type Outcome int

// Outcomes.
const (
	OutcomeOK Outcome = iota
	OutcomeRetryable
	OutcomeTerminalItem
	OutcomeTerminalRun
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminalItem:
		return "terminal_item"
	case OutcomeTerminalRun:
		return "terminal_run"
	default:
		return "unknown"
	}
}

// Classify maps an error onto an Outcome. Unknown errors are retryable so a
// transient glitch gets another attempt, bounded by the task's retry budget.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrBrowserLaunch), errors.Is(err, ErrNoKeywords):
		return OutcomeTerminalRun
	case errors.Is(err, ErrInvalidCapturedURL), errors.Is(err, ErrNoTitle),
		errors.Is(err, ErrDuplicateJob), errors.Is(err, context.Canceled):
		return OutcomeTerminalItem
	default:
		return OutcomeRetryable
	}
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	return Classify(err) == OutcomeRetryable
}

// IsTimeout reports whether err is one of the typed timeouts.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrNavigationTimeout) ||
		errors.Is(err, ErrResolveTimeout) ||
		errors.Is(err, ErrLoadTimeout) ||
		errors.Is(err, ErrDetailTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
