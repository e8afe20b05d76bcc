package handles

import (
	"sync"
	"time"

	"github.com/watt-toolkit/pjrmi/cmn/hk"
	"github.com/watt-toolkit/pjrmi/cmn/nlog"
	"github.com/watt-toolkit/pjrmi/registry/types"
	"github.com/watt-toolkit/pjrmi/wire"
)

// FlushInterval and FlushThreshold bound how long a dropped handle can sit
// unreported: whichever trips first, a periodic ~1s tick driven by cmn/hk
// or the pending list reaching ~100 entries (spec.md §4.6).
const (
	FlushInterval  = time.Second
	FlushThreshold = 100
	hkName         = "handles.drop-flush" + hk.NameSuffix
)

// Sender is the narrow surface handles.Registry needs from the connection
// to emit a fire-and-forget DROP_REFERENCES frame. It is satisfied by
// rpc.Correlator without this package importing it.
type Sender interface {
	Send(msgType wire.MsgType, payload []byte) error
}

// Registry tracks live proxies only indirectly: rather than keeping a
// (connection, handle) -> Proxy map the way the source's duck-typed
// weakrefs did, it relies on Go's garbage collector plus a finalizer on
// each Proxy (see newTrackedProxy) to learn when a handle is no longer
// referenced, and batches the resulting drop notifications.
type Registry struct {
	sender Sender
	hk     *hk.Housekeeper

	mu      sync.Mutex
	pending []Handle
}

// NewRegistry wires a handle registry to its housekeeper; the caller is
// responsible for starting hk.Run() on a goroutine.
func NewRegistry(sender Sender, keeper *hk.Housekeeper) *Registry {
	r := &Registry{sender: sender, hk: keeper}
	keeper.Reg(hkName, FlushInterval, r.tick)
	return r
}

// NewProxy mints a Proxy for handle h tracked under this registry.
func (r *Registry) NewProxy(h Handle, desc *types.Descriptor) *Proxy {
	return newTrackedProxy(r, h, desc)
}

// ForceDrop enqueues h exactly as the finalizer installed by newTrackedProxy
// would on GC unreachability. It exists so tests can exercise the batching
// and flush logic deterministically instead of depending on GC timing.
func (r *Registry) ForceDrop(h Handle) { r.enqueueDrop(h) }

func (r *Registry) enqueueDrop(h Handle) {
	if h.IsNull() {
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, h)
	full := len(r.pending) >= FlushThreshold
	r.mu.Unlock()

	if full {
		r.Flush()
	}
}

func (r *Registry) tick() time.Duration {
	r.Flush()
	return 0
}

// Flush drains the pending list and sends all of it as a single
// DROP_REFERENCES message. Best-effort: a send
// failure is logged and the handles are not retried, matching spec.md
// §4.6's "fire-and-forget" framing - by the time a proxy is unreachable
// there is no caller left to propagate an error to.
func (r *Registry) Flush() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	w := wire.NewWriter(8 + 8*len(batch))
	w.Int(int32(len(batch)))
	for _, h := range batch {
		w.Long(int64(h))
	}
	if err := r.sender.Send(wire.DropReferences, w.Bytes()); err != nil {
		nlog.Warningf("handles: failed to flush %d dropped reference(s): %v", len(batch), err)
	}
}

// Pending reports the number of handles awaiting a flush; exported for
// tests and diagnostics.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
