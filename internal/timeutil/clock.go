package timeutil

import "time"

// Clock abstracts timer scheduling so timing-sensitive components can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled. Stop reports whether
// the callback was prevented from running.
type Timer interface {
	Stop() bool
}

// Real is a Clock backed by the time package.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
