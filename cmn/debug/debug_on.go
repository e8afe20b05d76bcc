//go:build debug

package debug

import (
	"fmt"
	"sync"

	"github.com/watt-toolkit/pjrmi/cmn/nlog"
)

func ON() bool { return true }

func Infof(format string, args ...any) { nlog.Infof(format, args...) }

func Func(f func()) { f() }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func AssertFunc(f func() bool, args ...any) { Assert(f(), args...) }

func AssertNoErr(err error) {
	if err != nil {
		panic("assertion failed: " + err.Error())
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

// sync.Mutex/sync.RWMutex expose no public "is locked" query and TryLock is
// not safe to probe concurrently with the real unlock, so these stay no-ops
// even in debug builds; they exist so call sites don't need a build tag.
func AssertMutexLocked(_ *sync.Mutex)      {}
func AssertRWMutexLocked(_ *sync.RWMutex)  {}
func AssertRWMutexRLocked(_ *sync.RWMutex) {}
