// Package callback implements the exported-callable and exported-object
// registry (spec.md §4.7): the client-side mirror of registry/handles,
// tracking local things the server has been given a handle for instead of
// things the client holds a handle to.
package callback

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
	"github.com/watt-toolkit/pjrmi/registry/handles"
	"github.com/watt-toolkit/pjrmi/registry/types"
)

// LocalID identifies a locally-exported callable or object; assigned by
// this registry, distinct from the server's handle space.
type LocalID int64

// Callable is anything exportable as a functional-interface implementation.
// Go has no reflective "arity of this function" for arbitrary values in
// the way the source's duck-typed callables do, so exporters state their
// own arity explicitly rather than this package inferring it via
// reflection tricks.
type Callable interface {
	Arity() int
	Invoke(args []any) (any, error)
}

// Exportable is a local object exposed as a proxy implementing a server
// interface; MethodNames enumerates what Invoke may be asked to dispatch.
type Exportable interface {
	MethodNames() []string
	Invoke(method string, args []any) (any, error)
}

type wrapperKey struct {
	identity reflect.Value // reflect.ValueOf(callable).Pointer()-comparable identity
	typeID   types.ID
}

type entry struct {
	localID  LocalID
	key      wrapperKey
	callable Callable
	object   Exportable
	refcount int64
}

// Requester issues GET_CALLBACK_HANDLE / GET_PROXY requests and decodes the
// resulting wire.Handle; narrow on purpose, same shape as handles.Sender.
type Requester interface {
	GetCallbackHandle(localID LocalID, typeID types.ID, arity int) (handles.Handle, error)
	GetProxy(localID LocalID, typeID types.ID) (handles.Handle, error)
}

// MaxArity is the largest arity the wire format's single-byte arity field
// can carry (spec.md §4.7: "verify arity <= 255").
const MaxArity = 255

// Registry is the client-side export table: local callables/objects that
// the server holds a handle to, keyed so repeated exports of the same
// value are deduplicated.
type Registry struct {
	req Requester

	mu       sync.Mutex
	nextID   LocalID
	wrappers map[wrapperKey]handles.Handle
	byLocal  map[LocalID]*entry
}

func NewRegistry(req Requester) *Registry {
	return &Registry{
		req:      req,
		wrappers: make(map[wrapperKey]handles.Handle),
		byLocal:  make(map[LocalID]*entry),
	}
}

func identityOf(v any) reflect.Value {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Func || rv.Kind() == reflect.Ptr {
		return rv
	}
	// non-pointer values are boxed identically each call; use the
	// interface's dynamic value itself as the cache key via its string
	// form, the best identity proxy available without pointer semantics.
	return reflect.ValueOf(fmt.Sprintf("%T:%v", v, v))
}

// ExportCallable implements spec.md §4.7 step 1: look up (identity, T.id)
// in the wrapper cache, or assign a fresh local id, bind it, check arity,
// and send GET_CALLBACK_HANDLE.
func (r *Registry) ExportCallable(identityOwner any, typeID types.ID, c Callable) (handles.Handle, error) {
	if c.Arity() > MaxArity {
		return handles.Null, cos.NewErrMarshal(fmt.Sprintf("callable arity %d exceeds %d", c.Arity(), MaxArity))
	}
	key := wrapperKey{identity: identityOf(identityOwner), typeID: typeID}

	r.mu.Lock()
	if h, ok := r.wrappers[key]; ok {
		r.mu.Unlock()
		return h, nil
	}
	id := r.nextID
	r.nextID++
	r.byLocal[id] = &entry{localID: id, key: key, callable: c}
	r.mu.Unlock()

	h, err := r.req.GetCallbackHandle(id, typeID, c.Arity())
	if err != nil {
		r.mu.Lock()
		delete(r.byLocal, id)
		r.mu.Unlock()
		return handles.Null, err
	}

	r.mu.Lock()
	r.wrappers[key] = h
	r.mu.Unlock()
	return h, nil
}

// ExportObject implements spec.md §4.7's object-export flow: verify I's
// non-default, non-static methods are all present on obj, then send
// GET_PROXY.
func (r *Registry) ExportObject(identityOwner any, iface *types.Descriptor, obj Exportable) (handles.Handle, error) {
	if err := verifyImplements(iface, obj); err != nil {
		return handles.Null, err
	}
	key := wrapperKey{identity: identityOf(identityOwner), typeID: iface.ID}

	r.mu.Lock()
	if h, ok := r.wrappers[key]; ok {
		r.mu.Unlock()
		return h, nil
	}
	id := r.nextID
	r.nextID++
	r.byLocal[id] = &entry{localID: id, key: key, object: obj}
	r.mu.Unlock()

	h, err := r.req.GetProxy(id, iface.ID)
	if err != nil {
		r.mu.Lock()
		delete(r.byLocal, id)
		r.mu.Unlock()
		return handles.Null, err
	}

	r.mu.Lock()
	r.wrappers[key] = h
	r.mu.Unlock()
	return h, nil
}

func verifyImplements(iface *types.Descriptor, obj Exportable) error {
	have := make(map[string]bool)
	for _, m := range obj.MethodNames() {
		have[m] = true
	}
	for name, overloads := range iface.Methods {
		for _, m := range overloads {
			if m.Flags.Has(types.FlagStatic) || m.Flags.Has(types.FlagDefaultMethod) {
				continue
			}
			if !have[name] {
				return cos.NewErrMarshal(fmt.Sprintf("object does not implement %s.%s", iface.Name, name))
			}
		}
	}
	return nil
}

// Lookup resolves a local id to its exported callable/object, for the
// dispatch loop to invoke against an incoming CALLBACK/OBJECT_CALLBACK.
func (r *Registry) Lookup(id LocalID) (callable Callable, object Exportable, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byLocal[id]
	if !ok {
		return nil, nil, false
	}
	return e.callable, e.object, true
}

// AddReference and DropReferences implement spec.md §4.7's incoming
// refcount management: adjust the per-entry counter, evicting the entry
// (and, implicitly, its wrapper-cache slot) once it reaches zero.
func (r *Registry) AddReference(id LocalID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byLocal[id]; ok {
		e.refcount++
	}
}

func (r *Registry) DropReferences(id LocalID, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byLocal[id]
	if !ok {
		return
	}
	e.refcount -= count
	if e.refcount <= 0 {
		delete(r.byLocal, id)
		delete(r.wrappers, e.key)
	}
}
