package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
)

// FIFO is a named-pipe-pair transport to a co-located child process
// (spec.md §6): one FIFO for each direction, since a single FIFO can't be
// opened for both reading and writing at once without races between
// peers.
type FIFO struct {
	inPath, outPath string
	in, out         *os.File
}

func NewFIFO(inPath, outPath string) *FIFO {
	return &FIFO{inPath: inPath, outPath: outPath}
}

func (f *FIFO) Connect() error {
	for _, p := range []string{f.inPath, f.outPath} {
		if err := unix.Mkfifo(p, 0o600); err != nil && !os.IsExist(err) {
			return cos.NewErrResource(fmt.Sprintf("fifo mkfifo %s: %v", p, err))
		}
	}
	in, err := os.OpenFile(f.inPath, os.O_RDONLY, os.ModeNamedPipe)
	if err != nil {
		return cos.NewErrResource(fmt.Sprintf("fifo open %s: %v", f.inPath, err))
	}
	out, err := os.OpenFile(f.outPath, os.O_WRONLY, os.ModeNamedPipe)
	if err != nil {
		in.Close()
		return cos.NewErrResource(fmt.Sprintf("fifo open %s: %v", f.outPath, err))
	}
	f.in, f.out = in, out
	return nil
}

func (f *FIFO) Disconnect() error {
	var firstErr error
	if f.in != nil {
		firstErr = f.in.Close()
	}
	if f.out != nil {
		if err := f.out.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *FIFO) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *FIFO) Write(p []byte) (int, error) { return f.out.Write(p) }
func (f *FIFO) IsLocalhost() bool           { return true }
