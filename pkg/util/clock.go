package util

import "time"

// UTCClock wraps now so every reading is in UTC. Stored timestamps and query bounds must share
// one offset: sqlite keeps times as text and compares them lexically. A nil now means time.Now.
func UTCClock(now func() time.Time) func() time.Time {
	if now == nil {
		now = time.Now
	}
	return func() time.Time { return now().UTC() }
}
