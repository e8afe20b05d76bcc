// Package cos provides common low-level types and utilities shared by all
// pjrmi packages: error taxonomy, connection-error classification, and
// small helpers that don't deserve their own package.
package cos

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	ratomic "sync/atomic"
	"syscall"

	"github.com/watt-toolkit/pjrmi/cmn/debug"
	"github.com/watt-toolkit/pjrmi/cmn/nlog"
)

// Error taxonomy (spec.md §7). Each kind is a distinct type so callers can
// discriminate via errors.As; Is* helpers are provided for the common cases.
type (
	// malformed header, impossible length, EOF mid-frame - always fatal
	ErrFraming struct{ reason string }
	// hello handshake failed - always fatal
	ErrVersionMismatch struct{ want, got string }
	// no local-to-wire encoding exists for a (value, type) pair
	ErrMarshal struct{ reason string }
	// value does not round-trip through the target numeric type
	ErrPrecisionLoss struct{ value any; target string }
	// zero or multiple overload candidates
	ErrOverload struct {
		Name       string
		Candidates []string
		Ambiguous  bool
	}
	// server returned an EXCEPTION frame
	ErrRemote struct {
		ClassName string
		Message   string
		Stack     string
	}
	// SHM file creation / transport write failure
	ErrResource struct{ reason string }
)

func NewErrFraming(format string, a ...any) *ErrFraming { return &ErrFraming{fmt.Sprintf(format, a...)} }
func (e *ErrFraming) Error() string                     { return "framing error: " + e.reason }

func NewErrVersionMismatch(want, got string) *ErrVersionMismatch {
	return &ErrVersionMismatch{want, got}
}
func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("version mismatch: want %q, got %q", e.want, e.got)
}

func NewErrMarshal(format string, a ...any) *ErrMarshal { return &ErrMarshal{fmt.Sprintf(format, a...)} }
func (e *ErrMarshal) Error() string                     { return "cannot convert: " + e.reason }

func NewErrPrecisionLoss(value any, target string) *ErrPrecisionLoss {
	return &ErrPrecisionLoss{value, target}
}
func (e *ErrPrecisionLoss) Error() string {
	return fmt.Sprintf("value %v does not round-trip through %s", e.value, e.target)
}

func NewErrOverload(name string, candidates []string, ambiguous bool) *ErrOverload {
	return &ErrOverload{Name: name, Candidates: candidates, Ambiguous: ambiguous}
}
func (e *ErrOverload) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("ambiguous overload for %q: %v", e.Name, e.Candidates)
	}
	return fmt.Sprintf("no matching overload for %q: tried %v", e.Name, e.Candidates)
}

func NewErrRemote(className, message, stack string) *ErrRemote {
	return &ErrRemote{ClassName: className, Message: message, Stack: stack}
}
func (e *ErrRemote) Error() string { return e.ClassName + ": " + e.Message }

func NewErrResource(format string, a ...any) *ErrResource { return &ErrResource{fmt.Sprintf(format, a...)} }
func (e *ErrResource) Error() string                      { return "resource error: " + e.reason }

// Errs accumulates up to maxErrs distinct errors, e.g. across a batch of
// drop-reference sends, and renders them as one.
type Errs struct {
	errs []error
	cnt  int64
	mu   sync.Mutex
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) JoinErr() (cnt int, err error) {
	if cnt = e.Cnt(); cnt > 0 {
		e.mu.Lock()
		err = errors.Join(e.errs...)
		e.mu.Unlock()
	}
	return
}

func (e *Errs) Error() string {
	cnt, err := e.JoinErr()
	if cnt == 0 {
		return ""
	}
	if cnt > 1 {
		return fmt.Sprintf("%v (and %d more error%s)", err, cnt-1, Plural(cnt-1))
	}
	return err.Error()
}

func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

//
// connection-error classification, used by transport implementations to
// decide "fatal" vs "retriable" per spec.md §7
//

func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

//
// abnormal termination - mirrors aistore's cos.ExitLogf: flush logs, then die
//

const fatalPrefix = "FATAL ERROR: "

func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	if flag.Parsed() {
		nlog.ErrorDepth(1, msg+"\n")
		nlog.Flush(true)
	}
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

var (
	exitHooksMu sync.Mutex
	exitHooks   []func()
)

// RegisterExitHook arranges for f to run at process exit via a registered
// os.Exit-independent shutdown path (session.Connect's pid-guarded
// best-effort disconnect, spec.md §4.10). Hooks run in registration order;
// panics are caught so one misbehaving hook cannot block the rest.
func RegisterExitHook(f func()) {
	exitHooksMu.Lock()
	exitHooks = append(exitHooks, f)
	exitHooksMu.Unlock()
}

// RunExitHooks invokes every registered hook; callers (typically a
// top-level main or signal handler) are responsible for calling this
// before os.Exit, since Go provides no atexit() equivalent.
func RunExitHooks() {
	exitHooksMu.Lock()
	hooks := append([]func(){}, exitHooks...)
	exitHooksMu.Unlock()
	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					nlog.Errorf("exit hook panicked: %v", r)
				}
			}()
			h()
		}()
	}
}
