package retry

import "time"

// Backoff doubles the delay per attempt and caps it at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Next returns the delay before the attempt that follows attempt n (n >= 1).
func (b Backoff) Next(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
