package ledger

import "fmt"

// Direction is the normalized side of a punch.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ClassifyPunch maps a terminal punch subtype onto a direction. Subtypes
// 0 (check-in), 3 (break-in) and 4 (overtime-in) are entries; every other
// subtype counts as an exit. This is policy, not device metadata.
func ClassifyPunch(subtype int) Direction {
	switch subtype {
	case 0, 3, 4:
		return DirectionIn
	default:
		return DirectionOut
	}
}

// ParseDirection validates a stored direction value.
func ParseDirection(value string) (Direction, error) {
	switch Direction(value) {
	case DirectionIn, DirectionOut:
		return Direction(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, value)
	}
}

// Wire returns the remote representation ("IN"/"OUT").
func (d Direction) Wire() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}
