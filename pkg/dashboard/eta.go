package dashboard

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// CountdownInterval is how often ETA displays should be re-rendered.
const CountdownInterval = 30 * time.Second

var digitRunRe = regexp.MustCompile(`(\d+)`)

// ParseETA extracts a minute count from a raw eta value. Numbers pass
// through; strings yield their first digit run ("about 15 min" -> 15);
// anything else is nil.
func ParseETA(v any) *int {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return &x
	case int64:
		n := int(x)
		return &n
	case float64:
		n := int(x)
		return &n
	case string:
		m := digitRunRe.FindString(x)
		if m == "" {
			return nil
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil
		}
		return &n
	default:
		return nil
	}
}

// ETADisplay renders the arrival estimate for the board.
func (p *Patient) ETADisplay(now time.Time) string {
	if p.Status == StatusArrived {
		return "Arrived"
	}
	if p.ETAMinutes == nil || p.ETATimestamp.IsZero() {
		return "ETA: --"
	}
	remaining := *p.ETAMinutes - int(now.Sub(p.ETATimestamp)/time.Minute)
	if remaining <= 0 {
		return "Arriving now"
	}
	return fmt.Sprintf("ETA: %d min", remaining)
}

// ETARemaining returns the minutes left, clamped at zero. Nil when arrived
// or unknown.
func (p *Patient) ETARemaining(now time.Time) *int {
	if p.Status == StatusArrived {
		return nil
	}
	if p.ETAMinutes == nil || p.ETATimestamp.IsZero() {
		return nil
	}
	remaining := *p.ETAMinutes - int(now.Sub(p.ETATimestamp)/time.Minute)
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}
