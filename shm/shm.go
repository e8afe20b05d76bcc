// Package shm implements the shared-memory fast path for bulk numeric
// arrays (spec.md §4.9): eligibility gating, mmap'd transfer between
// same-host peers, and a background cleaner for abandoned files. Grounded
// on aistore's memsys slab-reuse idiom, generalized from in-process
// buffer pooling to an mmap'd file handoff between two processes.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/karrick/godirwalk"
	"golang.org/x/sys/unix"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
	"github.com/watt-toolkit/pjrmi/cmn/hk"
	"github.com/watt-toolkit/pjrmi/cmn/nlog"
)

// DType is the single-character dtype code carried on the wire alongside
// the array (spec.md §4.9's "UTF-16 dtype-code").
type DType byte

const (
	DTypeByte   DType = 'b'
	DTypeShort  DType = 's'
	DTypeInt    DType = 'i'
	DTypeLong   DType = 'l'
	DTypeFloat  DType = 'f'
	DTypeDouble DType = 'd'
)

func (d DType) elemSize() int {
	switch d {
	case DTypeByte:
		return 1
	case DTypeShort:
		return 2
	case DTypeInt, DTypeFloat:
		return 4
	case DTypeLong, DTypeDouble:
		return 8
	}
	return 0
}

// Eligible reports whether an array transfer qualifies for the SHM fast
// path (spec.md §4.9): same host, feature enabled, length within an int32,
// and a supported dtype.
func Eligible(sameHost, enabled bool, length int, dtype DType) bool {
	return sameHost && enabled && length >= 0 && int64(length) <= 1<<31-1 && dtype.elemSize() > 0
}

const cleanupAge = 5 * time.Second
const hkName = "shm.cleaner" + hk.NameSuffix

// Channel manages one connection's directory of SHM files: writing
// outbound arrays, reading inbound ones, and periodically evicting
// abandoned files.
type Channel struct {
	dir   string
	hk    *hk.Housekeeper
	owned map[string]time.Time
}

func NewChannel(dir string, keeper *hk.Housekeeper) (*Channel, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, cos.NewErrResource(fmt.Sprintf("shm: cannot create directory %s: %v", dir, err))
	}
	c := &Channel{dir: dir, owned: make(map[string]time.Time)}
	keeper.Reg(hkName, time.Second, c.tick)
	c.hk = keeper
	return c, nil
}

func (c *Channel) tick() time.Duration {
	c.clean()
	return 0
}

// WriteArray maps a fresh file under the channel directory and copies raw
// into it, returning the filename to encode on the wire (spec.md §4.9:
// "tag S · UTF-16 filename · int32 length · UTF-16 dtype-code"). On any
// failure the caller must fall back to inline encoding - that decision is
// the marshaller's, this function only reports the error.
func (c *Channel) WriteArray(raw []byte, dtype DType) (filename string, err error) {
	name := "pjrmi-" + cos.GenUUID() + ".shm"
	path := filepath.Join(c.dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", cos.NewErrResource(fmt.Sprintf("shm: create %s: %v", path, err))
	}
	defer f.Close()

	if len(raw) > 0 {
		if err := f.Truncate(int64(len(raw))); err != nil {
			os.Remove(path)
			return "", cos.NewErrResource(fmt.Sprintf("shm: truncate %s: %v", path, err))
		}
		mapped, err := unix.Mmap(int(f.Fd()), 0, len(raw), unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			os.Remove(path)
			return "", cos.NewErrResource(fmt.Sprintf("shm: mmap %s: %v", path, err))
		}
		copy(mapped, raw)
		if err := unix.Munmap(mapped); err != nil {
			nlog.Warningf("shm: munmap %s: %v", path, err)
		}
	}

	c.owned[name] = time.Now()
	return name, nil
}

// ReadArray maps path read-only and copies its contents out, matching the
// length the wire header declared.
func (c *Channel) ReadArray(filename string, length int) ([]byte, error) {
	path := filepath.Join(c.dir, filename)
	f, err := os.Open(path)
	if err != nil {
		return nil, cos.NewErrResource(fmt.Sprintf("shm: open %s: %v", path, err))
	}
	defer f.Close()

	if length == 0 {
		return nil, nil
	}
	mapped, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, cos.NewErrResource(fmt.Sprintf("shm: mmap %s: %v", path, err))
	}
	defer unix.Munmap(mapped)

	out := make([]byte, length)
	copy(out, mapped)
	return out, nil
}

// clean evicts files this channel wrote more than cleanupAge ago; it walks
// the directory with godirwalk rather than os.ReadDir to match the
// allocation-light directory scan aistore's on-disk namespace walker uses.
func (c *Channel) clean() {
	cutoff := time.Now().Add(-cleanupAge)
	err := godirwalk.Walk(c.dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			name := filepath.Base(path)
			created, ok := c.owned[name]
			if !ok || created.After(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				nlog.Warningf("shm: failed to evict %s: %v", path, err)
				return nil
			}
			delete(c.owned, name)
			return nil
		},
	})
	if err != nil {
		nlog.Warningf("shm: cleaner walk failed: %v", err)
	}
}

// Shutdown unlinks every file this channel still owns, per spec.md §4.9's
// "at disconnect all remaining files are unlinked".
func (c *Channel) Shutdown() {
	for name := range c.owned {
		os.Remove(filepath.Join(c.dir, name))
		delete(c.owned, name)
	}
}
