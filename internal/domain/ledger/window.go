package ledger

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// Window is an inclusive pull window [From 00:00:00, To 23:59:59].
type Window struct {
	From time.Time
	To   time.Time
}

// ParseWindow builds a pull window from optional YYYY-MM-DD bounds.
// A missing start defaults to yesterday, a missing end to today.
func ParseWindow(dateFrom string, dateTo string, now time.Time) (Window, error) {
	var w Window

	if dateFrom == "" {
		day := now.AddDate(0, 0, -1)
		w.From = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location())
	} else {
		from, err := time.ParseInLocation(DateLayout, dateFrom, now.Location())
		if err != nil {
			return Window{}, fmt.Errorf("%w: %q", ErrInvalidDate, dateFrom)
		}
		w.From = from
	}

	end := now
	if dateTo != "" {
		to, err := time.ParseInLocation(DateLayout, dateTo, now.Location())
		if err != nil {
			return Window{}, fmt.Errorf("%w: %q", ErrInvalidDate, dateTo)
		}
		end = to
	}
	w.To = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, now.Location())

	if w.From.After(w.To) {
		return Window{}, ErrInvalidWindow
	}
	return w, nil
}

// Contains reports whether a punch timestamp falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.From) && !ts.After(w.To)
}
