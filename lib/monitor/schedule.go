package monitor

import (
	"math/rand/v2"
	"time"

	"github.com/fiffu/listingwatch/config"
)

const jitterFactor = 0.25

// Scheduler decides how long a watch sleeps between polls.
type Scheduler struct {
	min, max     time.Duration
	quietStart   int
	quietEnd     int
	loc          *time.Location
	quietRecheck time.Duration

	// rand returns a float in [0, 1).
	rand func() float64
}

func NewScheduler(cfg *config.Config) *Scheduler {
	return &Scheduler{
		min:          cfg.MinInterval(),
		max:          cfg.MaxInterval(),
		quietStart:   cfg.Monitor.QuietHoursStart,
		quietEnd:     cfg.Monitor.QuietHoursEnd,
		loc:          cfg.QuietHoursLocation(),
		quietRecheck: time.Duration(cfg.Monitor.QuietRecheckSecs) * time.Second,
		rand:         rand.Float64,
	}
}

// NextInterval clamps the configured interval to [min, max], applies
// symmetric jitter of up to 25%, and never returns less than min.
func (s *Scheduler) NextInterval(intervalMinutes int) time.Duration {
	base := time.Duration(intervalMinutes) * time.Minute
	if base < s.min {
		base = s.min
	}
	if base > s.max {
		base = s.max
	}

	jitter := (s.rand()*2 - 1) * jitterFactor
	next := base + time.Duration(float64(base)*jitter)
	if next < s.min {
		next = s.min
	}
	return next
}

// IsQuietHour reports whether t falls inside the quiet-hours window,
// evaluated in the configured timezone.
func (s *Scheduler) IsQuietHour(t time.Time) bool {
	return inQuietWindow(t.In(s.loc).Hour(), s.quietStart, s.quietEnd)
}

// QuietRecheck is how long a worker naps before re-checking quiet hours.
func (s *Scheduler) QuietRecheck() time.Duration {
	return s.quietRecheck
}

// inQuietWindow treats [start, end) as an hour range that may wrap past
// midnight. An empty range disables quiet hours.
func inQuietWindow(hour, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}
