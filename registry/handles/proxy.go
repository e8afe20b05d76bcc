package handles

import (
	"runtime"
	"sync/atomic"

	"github.com/watt-toolkit/pjrmi/registry/types"
)

// immutableTypeNames lists the well-known server types whose identity
// hash is safe to cache locally (spec.md §3: "hash ... may be cached only
// for types marked immutable"). The wire type-descriptor layout (spec.md
// §4.3) carries no explicit "immutable" bit, so - per the Open Question
// resolution in DESIGN.md - this fixed allow-list stands in for it.
var immutableTypeNames = map[string]bool{
	"java.lang.String":    true,
	"java.lang.Boolean":   true,
	"java.lang.Byte":      true,
	"java.lang.Short":     true,
	"java.lang.Character": true,
	"java.lang.Integer":   true,
	"java.lang.Long":      true,
	"java.lang.Float":     true,
	"java.lang.Double":    true,
}

// Proxy is the local stand-in for a remote object: a handle paired with its
// type descriptor (spec.md §3). Equality is by (connection, handle); two
// Proxy values referring to the same handle on the same connection compare
// equal via Equal, even though - unlike the source's dynamic-attribute
// proxies - they are ordinary Go values and may not be the same pointer.
type Proxy struct {
	Handle Handle
	Desc   *types.Descriptor
	conn   *Registry

	hashed uint32 // atomic bool: hash has been cached
	hash   uint64
}

// Equal implements the spec.md §3 proxy-equality rule.
func (p *Proxy) Equal(o *Proxy) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.conn == o.conn && p.Handle == o.Handle
}

func (p *Proxy) immutable() bool {
	return p.Desc != nil && immutableTypeNames[p.Desc.Name]
}

// CachedHash returns a cached hash for immutable-typed proxies, computing
// it via remoteHash on first use; for mutable types it always calls
// remoteHash, per spec.md §3 ("hash defers to the remote hashCode and may
// be cached only for types marked immutable").
func (p *Proxy) CachedHash(remoteHash func(*Proxy) (uint64, error)) (uint64, error) {
	if !p.immutable() {
		return remoteHash(p)
	}
	if atomic.LoadUint32(&p.hashed) != 0 {
		return p.hash, nil
	}
	h, err := remoteHash(p)
	if err != nil {
		return 0, err
	}
	p.hash = h
	atomic.StoreUint32(&p.hashed, 1)
	return h, nil
}

func (p *Proxy) String() string {
	if p.Desc == nil {
		return p.Handle.String()
	}
	return p.Desc.Name + "@" + p.Handle.String()
}

// newTrackedProxy attaches a finalizer that enqueues Handle for a deferred
// batched drop once p becomes unreachable - the Go-GC analogue of the
// source's refcounted/weakref proxy lifetime (spec.md §3 Lifecycle; see
// DESIGN.md for why this replaces duck-typed weakrefs).
func newTrackedProxy(conn *Registry, h Handle, desc *types.Descriptor) *Proxy {
	p := &Proxy{Handle: h, Desc: desc, conn: conn}
	runtime.SetFinalizer(p, func(p *Proxy) { conn.enqueueDrop(p.Handle) })
	return p
}
