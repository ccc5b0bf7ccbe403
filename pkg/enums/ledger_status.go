package enums

import "fmt"

// LedgerStatus tracks a gateway payment from intent creation to order commit.
type LedgerStatus string

const (
	LedgerStatusPending      LedgerStatus = "pending"
	LedgerStatusCaptured     LedgerStatus = "captured"
	LedgerStatusCommitted    LedgerStatus = "committed"
	LedgerStatusCancelled    LedgerStatus = "cancelled"
	LedgerStatusCommitFailed LedgerStatus = "commit_failed"
	LedgerStatusExpired      LedgerStatus = "expired"
)

var validLedgerStatuses = []LedgerStatus{
	LedgerStatusPending,
	LedgerStatusCaptured,
	LedgerStatusCommitted,
	LedgerStatusCancelled,
	LedgerStatusCommitFailed,
	LedgerStatusExpired,
}

func (s LedgerStatus) String() string {
	return string(s)
}

func (s LedgerStatus) IsValid() bool {
	for _, candidate := range validLedgerStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// NeedsReconciliation reports whether money may have been taken without an order.
func (s LedgerStatus) NeedsReconciliation() bool {
	switch s {
	case LedgerStatusCaptured, LedgerStatusCommitFailed:
		return true
	case LedgerStatusPending, LedgerStatusCommitted, LedgerStatusCancelled, LedgerStatusExpired:
		return false
	default:
		return false
	}
}

func ParseLedgerStatus(value string) (LedgerStatus, error) {
	for _, candidate := range validLedgerStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger status %q", value)
}
