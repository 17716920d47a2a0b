package membership

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"time"
)

var durationPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var durationUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseDuration parses "<digits><unit>" with unit one of s, m, h, d.
// Zero is rejected. Values beyond the time.Duration range saturate to the
// largest representable duration.
func ParseDuration(text string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, ErrInvalidFormat
	}
	unit := durationUnits[m[2]]

	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return time.Duration(math.MaxInt64), nil
		}
		return 0, ErrInvalidFormat
	}
	if n == 0 {
		return 0, ErrInvalidFormat
	}
	if n > uint64(math.MaxInt64/int64(unit)) {
		return time.Duration(math.MaxInt64), nil
	}
	return time.Duration(n) * unit, nil
}
