package xtime

import "time"

func UTCNow() time.Time {
	return time.Now().UTC()
}

// Clock returns the current time. A nil Clock falls back to UTCNow.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return UTCNow()
	}

	return c()
}

// Fixed returns a Clock that always reports t, in UTC.
func Fixed(t time.Time) Clock {
	t = t.UTC()
	return func() time.Time { return t }
}

// Cutoff returns the instant retention before now.
// A non-positive retention yields the zero time, so nothing is older than the cutoff.
func (c Clock) Cutoff(retention time.Duration) time.Time {
	if retention <= 0 {
		return time.Time{}
	}

	return c.Now().Add(-retention)
}
