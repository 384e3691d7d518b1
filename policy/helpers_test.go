// policy/helpers_test.go
package policy_test

import "time"

// timeNow returns a fixed instant so event timestamps are stable across runs.
func timeNow() time.Time {
	return time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
}
