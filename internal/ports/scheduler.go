package ports

import "time"

// Scheduler is a single-threaded cooperative executor. Every func handed to Post or
// AfterFunc runs on the same logical thread, one at a time, in the order they became due.
type Scheduler interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Timer is a pending AfterFunc. Stop is best effort: a callback that already became due may
// still run, so callbacks MUST guard themselves.
type Timer interface {
	Stop() bool
}
