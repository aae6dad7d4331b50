package lifecycle

import (
	"time"
)

// Clock abstracts time so timeout logic runs against a fake clock in
// tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock
func SystemClock() Clock { return systemClock{} }
