// Package nlog provides pjrmi's own buffering, timestamping, file-rotating
// logger. Adapted from aistore's cmn/nlog: three severities (info, warning,
// error) each accumulate into a
// small fixed buffer that is flushed to disk (or stderr) either when it
// fills up or when Flush is called explicitly (typically on shutdown).
package nlog

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/watt-toolkit/pjrmi/cmn/mono"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const maxLineSize = 2 * 1024

var MaxSize int64 = 4 * 1024 * 1024

type nsev struct {
	mw      sync.Mutex
	buf     bytes.Buffer
	file    *os.File
	written int64
	last    time.Time
}

var (
	nsevs = [...]*nsev{
		sevInfo: {},
		sevWarn: {},
		sevErr:  {},
	}

	toStderr     bool
	alsoToStderr bool
	logDir       string
	role         string
	title        string

	onceInit sync.Once
)

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func SetLogDirRole(dir, r string) { logDir, role = dir, r }
func SetTitle(s string)           { title = s }

func InfoLogName() string { return sname() + ".INFO" }
func ErrLogName() string  { return sname() + ".ERROR" }

func sname() string {
	if role == "" {
		return "pjrmi"
	}
	return "pjrmi." + role
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth+1, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth+1, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }

func log(sev severity, depth int, format string, args ...any) {
	onceInit.Do(initFiles)

	line := render(sev, depth+1, format, args...)

	if toStderr || !flag.Parsed() {
		os.Stderr.WriteString(line)
		return
	}
	if alsoToStderr || sev >= sevErr {
		os.Stderr.WriteString(line)
	}
	// warnings are duplicated into both the INFO and ERROR logs, same as aistore
	if sev >= sevWarn {
		nsevs[sevErr].append(line)
	}
	nsevs[sevInfo].append(line)
	if sev != sevInfo {
		nsevs[sev].append(line)
	}
}

func render(sev severity, depth int, format string, args ...any) string {
	now := time.Now()
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		file, line = "???", 0
	} else {
		file = filepath.Base(file)
	}
	var msg string
	if format == "" {
		msg = fmt.Sprintln(args...)
	} else {
		msg = fmt.Sprintf(format, args...)
		if len(msg) == 0 || msg[len(msg)-1] != '\n' {
			msg += "\n"
		}
	}
	sevc := "IWE"[sev]
	s := fmt.Sprintf("%c%s %s:%d] %s", sevc, now.Format("0102 15:04:05.000000"), file, line, msg)
	if len(s) > maxLineSize {
		s = s[:maxLineSize-1] + "\n"
	}
	return s
}

func (n *nsev) append(line string) {
	n.mw.Lock()
	n.buf.WriteString(line)
	n.last = time.Now()
	if n.buf.Len() > maxLineSize*8 {
		n.flushLocked()
	}
	n.mw.Unlock()
}

// flushLocked writes the buffer out and rotates the file once MaxSize is exceeded.
func (n *nsev) flushLocked() {
	if n.file == nil && logDir != "" {
		return // lazily opened by initFiles; if that failed we stay stderr-only
	}
	if n.file == nil {
		return
	}
	b := n.buf.Bytes()
	if len(b) == 0 {
		return
	}
	nw, _ := n.file.Write(b)
	n.written += int64(nw)
	n.buf.Reset()
	if n.written > MaxSize {
		n.rotateLocked()
	}
}

func (n *nsev) rotateLocked() {
	if n.file == nil {
		return
	}
	n.file.Close()
	n.file = nil
	n.written = 0
	name := filepath.Join(logDir, sevName(n)+".log")
	_ = os.Rename(name, name+".1")
	openLocked(n)
}

func initFiles() {
	if logDir == "" {
		return
	}
	_ = os.MkdirAll(logDir, 0o755)
	for sev, n := range nsevs {
		_ = sev
		openLocked(n)
	}
}

func openLocked(n *nsev) {
	name := filepath.Join(logDir, sevName(n)+".log")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		os.Stderr.WriteString("nlog: " + err.Error() + "\n")
		return
	}
	n.file = f
}

func sevName(n *nsev) string {
	switch n {
	case nsevs[sevInfo]:
		return InfoLogName()
	case nsevs[sevErr]:
		return ErrLogName()
	default:
		return sname() + ".WARN"
	}
}

// Flush forces all buffered log lines to disk. Pass exit=true on shutdown to
// additionally fsync and close the underlying files.
func Flush(exit ...bool) {
	ex := len(exit) > 0 && exit[0]
	now := mono.NanoTime()
	_ = now
	for _, n := range nsevs {
		n.mw.Lock()
		n.flushLocked()
		if ex && n.file != nil {
			n.file.Sync()
			n.file.Close()
			n.file = nil
		}
		n.mw.Unlock()
	}
}

// Since returns how long it has been since anything was logged - used by
// callers that periodically decide whether a Flush is warranted.
func Since() time.Duration {
	var newest time.Time
	for _, n := range nsevs {
		n.mw.Lock()
		last := n.last
		n.mw.Unlock()
		if last.After(newest) {
			newest = last
		}
	}
	if newest.IsZero() {
		return 0
	}
	return time.Since(newest)
}

func pidString() string { return strconv.Itoa(os.Getpid()) }
