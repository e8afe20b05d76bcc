package types

import (
	"fmt"
	"sync"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
	"github.com/watt-toolkit/pjrmi/cmn/debug"
	"github.com/watt-toolkit/pjrmi/cmn/nlog"
	"github.com/watt-toolkit/pjrmi/wire"
)

// Caller performs one round-trip request/response over the connection. It
// is implemented by the rpc correlator (package rpc); the type registry
// only needs the ability to issue a request and get the matching response
// back, so this narrow interface avoids an import cycle.
type Caller interface {
	Call(msgType wire.MsgType, payload []byte) (respType wire.MsgType, respPayload []byte, err error)
}

// BootstrapOrder is the fixed sequence of type names resolved eagerly at
// connect time (spec.md §4.3): "later construction depends on their
// presence".
var BootstrapOrder = []string{
	"void", "boolean", "byte", "short", "char", "int", "long", "float", "double",
	"java.lang.Object",
	"java.lang.String",
	"java.lang.Boolean", "java.lang.Byte", "java.lang.Short", "java.lang.Character",
	"java.lang.Integer", "java.lang.Long", "java.lang.Float", "java.lang.Double",
	"java.lang.Iterable",
	"java.util.Collection",
	"java.util.Map",
	"java.util.Iterator",
	"java.lang.Comparable",
	"java.lang.Throwable",
	"java.lang.Exception",
	"java.lang.RuntimeException",
}

type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	byID   map[ID]*Descriptor

	// deprecation warnings are emitted at most once per registry, per
	// (type, member) pair - recovered from original_source (see SPEC_FULL.md).
	warnOnce sync.Map // key: string "typeID/member" -> struct{}

	caller Caller
}

func NewRegistry(caller Caller) *Registry {
	return &Registry{
		byName: make(map[string]*Descriptor),
		byID:   make(map[ID]*Descriptor),
		caller: caller,
	}
}

// Bootstrap resolves BootstrapOrder eagerly, in order, per spec.md §4.3.
func (r *Registry) Bootstrap() error {
	for _, name := range BootstrapOrder {
		if _, err := r.ClassForName(name); err != nil {
			return cos.NewErrResource("bootstrap %q: %v", name, err)
		}
	}
	return nil
}

// ClassForName takes the registry lock, checks the cache, and on miss sends
// a TYPE_REQUEST tagged by name (spec.md §4.3).
func (r *Registry) ClassForName(name string) (*Descriptor, error) {
	r.mu.RLock()
	if d, ok := r.byName[name]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	r.mu.RUnlock()
	return r.fetch(func(w *wire.Writer) { w.Byte(0); w.UTF16String(name) })
}

// ClassForID is the id-keyed counterpart of ClassForName.
func (r *Registry) ClassForID(id ID) (*Descriptor, error) {
	r.mu.RLock()
	if d, ok := r.byID[id]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	r.mu.RUnlock()
	return r.fetch(func(w *wire.Writer) { w.Byte(1); w.Int(int32(id)) })
}

func (r *Registry) fetch(encodeRequest func(*wire.Writer)) (*Descriptor, error) {
	w := wire.NewWriter(64)
	encodeRequest(w)

	respType, respPayload, err := r.caller.Call(wire.TypeRequest, w.Bytes())
	if err != nil {
		return nil, err
	}
	if respType != wire.TypeDescription {
		return nil, cos.NewErrMarshal("type request: unexpected response tag %s", respType)
	}
	d, err := DecodeDescriptor(wire.NewReader(respPayload))
	if err != nil {
		return nil, err
	}
	r.insert(d)
	return d, nil
}

// insert caches d under both keys. Per spec.md §3, a descriptor is never
// replaced for the session once cached.
func (r *Registry) insert(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[d.ID]; ok {
		return
	}
	r.byID[d.ID] = d
	r.byName[d.Name] = d
}

// WarnOnceDeprecated logs a deprecation warning for (typeID, member) at
// most once for the lifetime of this Registry.
func (r *Registry) WarnOnceDeprecated(id ID, member string) {
	key := fmt.Sprintf("%d/%s", id, member)
	if _, loaded := r.warnOnce.LoadOrStore(key, struct{}{}); !loaded {
		nlog.Warningf("%s is deprecated", member)
	}
}

//
// class injection (spec.md §6)
//

// InjectClass sends raw bytecode for a new class; the server replies with
// either a type description or an exception.
func (r *Registry) InjectClass(bytecode []byte) (*Descriptor, error) {
	w := wire.NewWriter(len(bytecode) + 8)
	w.RawBytes(bytecode)
	return r.injectCommon(wire.InjectClass, w)
}

// InjectSource sends named source text to be compiled server-side.
func (r *Registry) InjectSource(name, source string) (*Descriptor, error) {
	w := wire.NewWriter(len(source) + 64)
	w.UTF16String(name)
	w.UTF16String(source)
	return r.injectCommon(wire.InjectSource, w)
}

// ReplaceClass hot-swaps the bytecode backing an already-resolved type id.
func (r *Registry) ReplaceClass(id ID, bytecode []byte) (*Descriptor, error) {
	w := wire.NewWriter(len(bytecode) + 8)
	w.Int(int32(id))
	w.RawBytes(bytecode)
	return r.injectCommon(wire.ReplaceClass, w)
}

func (r *Registry) injectCommon(msgType wire.MsgType, w *wire.Writer) (*Descriptor, error) {
	respType, respPayload, err := r.caller.Call(msgType, w.Bytes())
	if err != nil {
		return nil, err
	}
	switch respType {
	case wire.TypeDescription:
		d, err := DecodeDescriptor(wire.NewReader(respPayload))
		if err != nil {
			return nil, err
		}
		// a ReplaceClass response may legitimately replace a cached entry;
		// InjectClass/InjectSource always produce a fresh type id.
		r.mu.Lock()
		r.byID[d.ID] = d
		r.byName[d.Name] = d
		r.mu.Unlock()
		return d, nil
	case wire.Exception:
		return nil, decodeRemoteException(respPayload)
	default:
		debug.Assert(false, "unexpected inject response tag", respType)
		return nil, cos.NewErrMarshal("inject: unexpected response tag %s", respType)
	}
}

func decodeRemoteException(payload []byte) error {
	r := wire.NewReader(payload)
	className, _ := r.UTF16String()
	message, _ := r.UTF16String()
	stack, _ := r.UTF16String()
	return cos.NewErrRemote(className, message, stack)
}
