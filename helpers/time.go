package helpers

import (
	"math"
	"time"
)

func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x <= 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

// UnixFloat converts t to float seconds, as carried by bus frame timestamps.
func UnixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FloatTime is inverse of UnixFloat with microsecond precision.
func FloatTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}
