package notifier

import (
	"errors"
	"fmt"
)

var (
	ErrStoreUnavailable      = errors.New("notifier: schedule store unavailable")
	ErrLedgerUnavailable     = errors.New("notifier: ledger unavailable")
	ErrSendFailed            = errors.New("notifier: send failed")
	ErrScheduleInconsistency = errors.New("notifier: schedule inconsistency")
)

func classify(class, cause error) error {
	return fmt.Errorf("%w: %w", class, cause)
}

// errorKind names the class of err for logs and alerts.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, ErrSendFailed):
		return "send_failed"
	case errors.Is(err, ErrScheduleInconsistency):
		return "schedule_inconsistency"
	default:
		return "unknown"
	}
}
