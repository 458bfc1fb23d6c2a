package chapters

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp accepts Go duration syntax ("1m30s"), bare seconds ("90.5")
// or clock notation ("[HH:]MM:SS[.fff]"). Negative values are rejected.
func ParseTimestamp(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadTimestamp)
	}

	var (
		d   time.Duration
		err error
	)
	switch {
	case strings.Contains(s, ":"):
		d, err = parseClock(s)
	default:
		if secs, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			d, err = fromSeconds(secs)
		} else {
			d, err = time.ParseDuration(s)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrBadTimestamp, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w %q: negative", ErrBadTimestamp, raw)
	}
	return d, nil
}

func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("too many fields")
	}

	secs, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || secs < 0 || secs >= 60 {
		return 0, fmt.Errorf("bad seconds field %q", parts[len(parts)-1])
	}

	var whole int64
	for i, field := range parts[:len(parts)-1] {
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad field %q", field)
		}
		// Minutes are bounded only when hours are present.
		if len(parts) == 3 && i == 1 && n >= 60 {
			return 0, fmt.Errorf("bad minutes field %q", field)
		}
		whole = whole*60 + n
	}

	return fromSeconds(float64(whole)*60 + secs)
}

func fromSeconds(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("not a number")
	}
	if secs > float64(math.MaxInt64)/float64(time.Second) {
		return 0, fmt.Errorf("out of range")
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}
