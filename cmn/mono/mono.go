// Package mono provides a cheap monotonic clock that measures elapsed time
// without touching the wall clock.
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds since an arbitrary, process-local epoch. Only
// differences between two NanoTime() calls are meaningful.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }
