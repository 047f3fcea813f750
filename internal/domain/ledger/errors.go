package ledger

import "errors"

var (
	ErrInvalidDate      = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidWindow    = errors.New("date window start is after end")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrEmptyCode        = errors.New("employee code is required")
)
