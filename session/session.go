// Package session implements pjrmi's connection lifecycle (spec.md §4.2,
// §4.10): handshake and capability negotiation, background thread
// startup, bootstrap type resolution, the named lock service, and
// shutdown.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/watt-toolkit/pjrmi/cmn/atomic"
	"github.com/watt-toolkit/pjrmi/cmn/cos"
	"github.com/watt-toolkit/pjrmi/cmn/hk"
	"github.com/watt-toolkit/pjrmi/cmn/nlog"
	"github.com/watt-toolkit/pjrmi/registry/handles"
	"github.com/watt-toolkit/pjrmi/registry/types"
	"github.com/watt-toolkit/pjrmi/rpc"
	"github.com/watt-toolkit/pjrmi/shm"
	"github.com/watt-toolkit/pjrmi/transport"
	"github.com/watt-toolkit/pjrmi/wire"
)

// ProtocolVersion is the ASCII hello literal (spec.md §4.2, §6): "currently
// PJRMI_1.13".
const ProtocolVersion = "PJRMI_1.13"

// capability bits (spec.md §4.2)
const capWorkerThreads byte = 1 << 0

// BootstrapOrder fixes the eager type-resolution sequence spec.md §4.3
// requires before anything else may be constructed.
var BootstrapOrder = []string{
	"boolean", "byte", "short", "char", "int", "long", "float", "double",
	"java.lang.Object", "java.lang.String",
	"java.lang.Boolean", "java.lang.Byte", "java.lang.Short", "java.lang.Character",
	"java.lang.Integer", "java.lang.Long", "java.lang.Float", "java.lang.Double",
	"java.lang.Iterable", "java.util.Collection", "java.util.Map", "java.util.Iterator",
	"java.lang.Comparable", "java.lang.Throwable",
}

// Session owns one connection's worth of state: the transport, the
// correlator, the three registries, and the background threads (spec.md
// §4.10). Its zero value is not usable; construct via Connect.
type Session struct {
	transport transport.Transport
	Correlator *rpc.Correlator
	Types      *types.Registry
	Handles    *handles.Registry
	SHM        *shm.Channel
	hk         *hk.Housekeeper

	serviceName   string
	reentrant     bool
	selfID        uint64
	pidAtConnect  int
	typeCachePath string

	connected atomic.Bool

	locksMu sync.Mutex
	locks   map[string]int // name -> local refcount (spec.md §6: reentrant by refcount)
}

// Config controls how Connect negotiates and wires a session.
type Config struct {
	Transport   transport.Transport
	CommandLine string
	Dispatcher  rpc.Dispatcher
	Workers     int64
	SHMDir      string // empty disables the SHM fast path even on localhost
	// TypeCachePath, if set, warm-starts the type registry from a prior
	// SaveCache and persists it back on Disconnect (SPEC_FULL.md §4.3).
	TypeCachePath string
}

// Connect implements spec.md §4.10's startup sequence: open transport,
// exchange hellos, read the service string and capability byte, start the
// receiver/drop-flusher/SHM-cleaner threads, and resolve the bootstrap
// type set.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	t := cfg.Transport
	if err := t.Connect(); err != nil {
		return nil, err
	}

	selfID := selfIdentifier()
	if err := sendHello(t, cfg.CommandLine, selfID); err != nil {
		t.Disconnect()
		return nil, err
	}
	if err := readHelloEcho(t); err != nil {
		t.Disconnect()
		return nil, err
	}
	serviceName, err := readServiceString(t)
	if err != nil {
		t.Disconnect()
		return nil, err
	}
	capByte, err := readByte(t)
	if err != nil {
		t.Disconnect()
		return nil, err
	}
	reentrant := capByte&capWorkerThreads != 0

	keeper := hk.New(100 * time.Millisecond)
	s := &Session{
		transport:     t,
		serviceName:   serviceName,
		reentrant:     reentrant,
		selfID:        selfID,
		pidAtConnect:  os.Getpid(),
		hk:            keeper,
		locks:         make(map[string]int),
		typeCachePath: cfg.TypeCachePath,
	}
	s.connected.Store(true)

	s.Correlator = rpc.NewCorrelator(t, reentrant, cfg.Workers, cfg.Dispatcher)
	s.Types = types.NewRegistry(s.Correlator)
	s.Handles = handles.NewRegistry(s.Correlator, keeper)

	if cfg.TypeCachePath != "" {
		if err := s.Types.LoadCache(cfg.TypeCachePath); err != nil {
			nlog.Warningf("session: type cache unavailable, starting cold: %v", err)
		}
	}

	if t.IsLocalhost() && cfg.SHMDir != "" {
		ch, err := shm.NewChannel(cfg.SHMDir, keeper)
		if err != nil {
			nlog.Warningf("session: SHM channel unavailable, falling back to inline encoding: %v", err)
		} else {
			s.SHM = ch
		}
	}

	go keeper.Run()
	if reentrant {
		go func() {
			if err := s.Correlator.Run(ctx); err != nil {
				nlog.Warningf("session: receiver loop exited: %v", err)
			}
		}()
	}

	if err := s.bootstrapTypes(); err != nil {
		s.Disconnect()
		return nil, err
	}

	installExitHook(s)
	return s, nil
}

func (s *Session) bootstrapTypes() error {
	for _, name := range BootstrapOrder {
		if _, err := s.Types.ClassForName(name); err != nil {
			return cos.NewErrResource(fmt.Sprintf("bootstrap type %s: %v", name, err))
		}
	}
	return nil
}

// Disconnect implements spec.md §4.10's shutdown: set connected=false,
// save the type cache if configured, flush pending handle drops, unlink
// pending SHM files, stop the housekeeper, and close the transport (which
// ends a reentrant receiver when its next read fails).
func (s *Session) Disconnect() error {
	if !s.connected.CAS(true, false) {
		return nil // already disconnected
	}
	if s.typeCachePath != "" {
		if err := s.Types.SaveCache(s.typeCachePath); err != nil {
			nlog.Warningf("session: failed to persist type cache: %v", err)
		}
	}
	s.Handles.Flush()
	if s.SHM != nil {
		s.SHM.Shutdown()
	}
	s.hk.Stop()
	return s.transport.Disconnect()
}

// Lock implements spec.md §6's lock service: named mutexes on the server,
// reentrant client-side by refcount, so a second Lock("x") by the same
// client process is a no-op wire-wise.
func (s *Session) Lock(name string) error {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.locks[name] > 0 {
		s.locks[name]++
		return nil
	}
	w := wire.NewWriter(16 + len(name)*2)
	w.UTF16String(name)
	if _, _, err := s.Correlator.Call(wire.Lock, w.Bytes()); err != nil {
		return err
	}
	s.locks[name] = 1
	return nil
}

// Unlock decrements the local refcount, sending UNLOCK to the server only
// once it reaches zero.
func (s *Session) Unlock(name string) error {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.locks[name] == 0 {
		return cos.NewErrMarshal("unlock of %q without a matching lock", name)
	}
	s.locks[name]--
	if s.locks[name] > 0 {
		return nil
	}
	delete(s.locks, name)
	w := wire.NewWriter(16 + len(name)*2)
	w.UTF16String(name)
	_, _, err := s.Correlator.Call(wire.Unlock, w.Bytes())
	return err
}

func (s *Session) Connected() bool { return s.connected.Load() }
func (s *Session) Reentrant() bool { return s.reentrant }
func (s *Session) ServiceName() string { return s.serviceName }

// installExitHook arranges a best-effort disconnect at process exit,
// guarded by a pid check so a forked child (which inherits the open fd
// but not the intent to own the connection) does not also tear it down
// (spec.md §4.10).
func installExitHook(s *Session) {
	pid := s.pidAtConnect
	cos.RegisterExitHook(func() {
		if os.Getpid() != pid {
			return
		}
		s.Disconnect()
	})
}

// selfIdentifier derives this process's connection identity from a fresh
// random UUID, folded down to 64 bits with the xxhash helper
// cmn/cos.HashString64 rather than a bespoke byte-folding loop.
func selfIdentifier() uint64 {
	return cos.HashString64(uuid.New().String())
}

func sendHello(t transport.Transport, commandLine string, selfID uint64) error {
	w := wire.NewWriter(64 + len(commandLine)*2)
	w.ASCIIString(ProtocolVersion)
	w.UTF16String(commandLine)
	w.Int(int32(os.Getpid()))
	w.Long(int64(selfID))
	_, err := t.Write(w.Bytes())
	return err
}

func readHelloEcho(t transport.Transport) error {
	res, err := readASCIIString(t)
	if err != nil {
		return err
	}
	if res.IsError {
		return cos.NewErrVersionMismatch(ProtocolVersion, res.Text)
	}
	if res.Text != ProtocolVersion {
		return cos.NewErrVersionMismatch(ProtocolVersion, res.Text)
	}
	return nil
}

func readServiceString(t transport.Transport) (string, error) {
	res, err := readASCIIString(t)
	if err != nil {
		return "", err
	}
	if res.IsError {
		return "", cos.NewErrResource(fmt.Sprintf("connection rejected: %s", res.Text))
	}
	return res.Text, nil
}

func readASCIIString(t transport.Transport) (wire.ASCIIStringResult, error) {
	lenBuf, err := wire.ReadFull(t, 2)
	if err != nil {
		return wire.ASCIIStringResult{}, err
	}
	n := int16(lenBuf[0])<<8 | int16(lenBuf[1])
	length := int(n)
	if length < 0 {
		length = -length
	}
	body, err := wire.ReadFull(t, length)
	if err != nil {
		return wire.ASCIIStringResult{}, err
	}
	return wire.ASCIIStringResult{Text: string(body), IsError: n < 0}, nil
}

func readByte(t transport.Transport) (byte, error) {
	b, err := wire.ReadFull(t, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}
