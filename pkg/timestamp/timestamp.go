// Package timestamp converts between time.Time and the float64 seconds since
// the Unix epoch that message metadata carries on the wire.
//
// Zero Value Semantics:
//   - A timestamp of 0 means "not set"
//   - The zero time.Time converts to 0 and 0 converts back to the zero time
//
// Usage Examples:
//
//	// Current time
//	now := timestamp.Now()
//
//	// Convert from and to time.Time
//	sec := timestamp.FromTime(t)
//	t := timestamp.ToTime(sec)
//
//	// Age of a message stamped at sec
//	age := timestamp.Since(sec)
package timestamp

import (
	"fmt"
	"math"
	"time"
)

// maxSeconds is the start of the year 3000.
const maxSeconds = 32503680000

// Now returns the current time in seconds.
func Now() float64 {
	return FromTime(time.Now())
}

// FromTime converts t to seconds. Sub-microsecond precision is lost for
// present-day times.
func FromTime(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// ToTime converts seconds to a time.Time, rounding to the nearest
// nanosecond. Returns the zero time for 0.
func ToTime(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9)))
}

// Format renders seconds as RFC3339 with nanoseconds in UTC.
// Returns empty string if the timestamp is 0.
func Format(sec float64) string {
	if sec == 0 {
		return ""
	}
	return ToTime(sec).UTC().Format(time.RFC3339Nano)
}

// Since returns the time elapsed since sec. Returns 0 if sec is zero.
func Since(sec float64) time.Duration {
	if sec == 0 {
		return 0
	}
	return time.Since(ToTime(sec))
}

// Between returns end minus start.
// Returns 0 if either timestamp is zero.
func Between(start, end float64) time.Duration {
	if start == 0 || end == 0 {
		return 0
	}
	return ToTime(end).Sub(ToTime(start))
}

// Validate rejects timestamps that are not finite, negative, or past the
// year 3000.
func Validate(sec float64) error {
	switch {
	case math.IsNaN(sec) || math.IsInf(sec, 0):
		return fmt.Errorf("timestamp is not finite: %v", sec)
	case sec < 0:
		return fmt.Errorf("timestamp cannot be negative: %v", sec)
	case sec > maxSeconds:
		return fmt.Errorf("timestamp too far in future: %v", sec)
	}
	return nil
}
