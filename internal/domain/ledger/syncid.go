package ledger

import (
	"fmt"
	"strings"
	"time"
)

// SyncID derives the deterministic dedup key for one physical punch.
// Terminal id, employee code and second-precision timestamp together make
// re-pulling an overlapping window idempotent across the whole fleet.
func SyncID(terminalID uint64, employeeCode string, ts time.Time) (string, error) {
	code := strings.TrimSpace(employeeCode)
	if code == "" {
		return "", ErrEmptyCode
	}
	return fmt.Sprintf("ZK_%d_%s_%s", terminalID, code, ts.Format("20060102150405")), nil
}
