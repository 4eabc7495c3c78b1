package publisher

import (
	"math/rand"
	"slices"
	"time"
)

// Window is a named hour range of a day. Bounds are half-open:
// [Start:00, End:00).
type Window struct {
	Start int
	End   int
	Label string
}

// Contains reports whether t's wall-clock hour falls inside the window.
func (w Window) Contains(t time.Time) bool {
	h := t.Hour()
	return h >= w.Start && h < w.End
}

// WindowsFor returns the day layout for a publication frequency.
// Frequencies above four reuse the four-window layout.
func WindowsFor(frequency int) []Window {
	switch {
	case frequency <= 1:
		return []Window{{9, 11, "morning"}}
	case frequency == 2:
		return []Window{{8, 11, "morning"}, {18, 21, "evening"}}
	case frequency == 3:
		return []Window{{8, 11, "morning"}, {12, 17, "afternoon"}, {18, 21, "evening"}}
	default:
		return []Window{{8, 10, "early morning"}, {11, 13, "noon"}, {14, 17, "afternoon"}, {18, 21, "evening"}}
	}
}

// Slot is a planned local timestamp and the label of its window.
type Slot struct {
	At     time.Time
	Window string
}

// GenerateSlots returns exactly n slots strictly after now, ascending, one
// random minute per window per day starting at now's date. Dates and hours
// are taken in now's location.
func GenerateSlots(n, frequency int, now time.Time, rng *rand.Rand) []Slot {
	if n <= 0 {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	windows := WindowsFor(frequency)
	perDay := len(windows)
	horizon := max(3, (n+perDay-1)/perDay+3)

	y, m, d := now.Date()
	loc := now.Location()
	slots := make([]Slot, 0, horizon*perDay)
	day := 0
	for {
		for ; day < horizon; day++ {
			for _, w := range windows {
				hour := w.Start + rng.Intn(w.End-w.Start)
				minute := rng.Intn(60)
				at := time.Date(y, m, d+day, hour, minute, 0, 0, loc)
				if at.After(now) {
					slots = append(slots, Slot{At: at, Window: w.Label})
				}
			}
		}
		if len(slots) >= n {
			break
		}
		horizon += 3
	}

	slices.SortStableFunc(slots, func(a, b Slot) int { return a.At.Compare(b.At) })
	return slots[:n]
}
