package trial

import "time"

// Clock supplies the current time. Production code uses the system
// clock; tests inject a manually advanced one to pin window boundaries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
