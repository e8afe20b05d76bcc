// Package pjrmi ties the wire/registry/marshal/rpc/dispatch/session layers
// into one client-facing surface: connect, resolve classes, construct and
// call onto remote objects, and export local callables/objects back to the
// server. Everything below sits on top of the packages that do the actual
// protocol work; this file owns argument/result marshalling and the
// request payload shapes for the operations spec.md leaves unspecified at
// the byte level (InstanceRequest, MethodCall, field/array/cast access) -
// designed consistently with the byte shapes spec.md does pin down
// (GET_CALLBACK_HANDLE, GET_PROXY, the handshake).
package pjrmi

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
	"github.com/watt-toolkit/pjrmi/cmn/nlog"
	"github.com/watt-toolkit/pjrmi/dispatch"
	"github.com/watt-toolkit/pjrmi/marshal"
	"github.com/watt-toolkit/pjrmi/registry/callback"
	"github.com/watt-toolkit/pjrmi/registry/handles"
	"github.com/watt-toolkit/pjrmi/registry/types"
	"github.com/watt-toolkit/pjrmi/rpc"
	"github.com/watt-toolkit/pjrmi/session"
	"github.com/watt-toolkit/pjrmi/stats"
	"github.com/watt-toolkit/pjrmi/transport"
	"github.com/watt-toolkit/pjrmi/wire"
)

// Client is the embedding application's handle onto one PJRMI connection.
type Client struct {
	sess      *session.Session
	callbacks *callback.Registry
	stats     *stats.Registry
}

// Config controls how Connect dials and negotiates a connection. Eval
// wires an application-supplied Evaluator into the dispatch loop for
// PYTHON_EVAL_OR_EXEC/PYTHON_INVOKE/GET_OBJECT/SET_GLOBAL_VARIABLE;
// a nil Eval means those cases fail with an error response rather than
// panicking the dispatch loop.
type Config struct {
	Transport     transport.Transport
	CommandLine   string
	Workers       int64
	SHMDir        string
	TypeCachePath string
	Eval          Evaluator
}

// Evaluator has the same method set as dispatch.Evaluator, so callers don't
// need to import that package just to implement it.
type Evaluator = interface {
	EvalOrExec(source string, execute bool) (any, error)
	Invoke(dottedName string, args []any) (any, error)
	GetObject(dottedName string) (any, error)
	GetAttr(obj any, field string) (any, error)
	SetGlobal(name string, value any) error
}

// Connect dials cfg.Transport, performs the handshake, resolves the
// bootstrap type set, and wires up the dispatch loop if the server
// negotiated reentrant (worker-thread) support.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{} // sess/stats/callbacks filled in below, once connected

	sess, err := session.Connect(ctx, session.Config{
		Transport:     cfg.Transport,
		CommandLine:   cfg.CommandLine,
		Dispatcher:    dispatcherAdapter{c, cfg.Eval},
		Workers:       cfg.Workers,
		SHMDir:        cfg.SHMDir,
		TypeCachePath: cfg.TypeCachePath,
	})
	if err != nil {
		return nil, err
	}
	c.sess = sess
	c.stats = stats.NewRegistry(sess.ServiceName(), nil)
	c.callbacks = callback.NewRegistry(callbackRequester{c})
	return c, nil
}

// dispatcherAdapter lazily builds the real dispatch.Loop on first use,
// since the loop needs the callback registry, which in turn needs the
// correlator session.Connect itself constructs. A thin indirection avoids a
// chicken-and-egg constructor order between session and dispatch.
type dispatcherAdapter struct {
	c    *Client
	eval Evaluator
}

func (d dispatcherAdapter) Dispatch(threadID int64, msgType wire.MsgType, payload []byte) {
	d.c.loop(d.eval).Dispatch(threadID, msgType, payload)
}

func (c *Client) loop(eval Evaluator) *loopHolder {
	return &loopHolder{c: c, eval: eval}
}

// Close disconnects the session, flushing pending handle drops and
// unlinking any SHM files this connection still owns.
func (c *Client) Close() error { return c.sess.Disconnect() }

func (c *Client) Types() *types.Registry     { return c.sess.Types }
func (c *Client) Handles() *handles.Registry { return c.sess.Handles }
func (c *Client) Stats() *stats.Registry     { return c.stats }

// ClassForName resolves (and caches) a type descriptor by name.
func (c *Client) ClassForName(name string) (*types.Descriptor, error) {
	return c.sess.Types.ClassForName(name)
}

// ClassForID is the id-keyed counterpart.
func (c *Client) ClassForID(id types.ID) (*types.Descriptor, error) {
	return c.sess.Types.ClassForID(id)
}

// NewInstance sends INSTANCE_REQUEST, resolving the target type's
// constructor overload set against args the same way CallMethod resolves
// a method overload set.
func (c *Client) NewInstance(typeName string, args ...marshal.Box) (*handles.Proxy, error) {
	d, err := c.ClassForName(typeName)
	if err != nil {
		return nil, err
	}
	candidates := make([]marshal.Candidate, len(d.Constructors))
	for i, m := range d.Constructors {
		candidates[i] = marshal.Candidate{Index: i, Method: m}
	}
	cand, err := marshal.Resolve(candidates, args, nil, c.argKind)
	if err != nil {
		return nil, err
	}

	w := wire.NewWriter(64)
	w.UTF16String(typeName)
	w.Int(cand.Method.Index)
	if err := c.encodeArgs(w, args, cand.Method.ArgTypeIDs); err != nil {
		return nil, err
	}
	respType, payload, err := c.sess.Correlator.Call(wire.InstanceRequest, w.Bytes())
	if err != nil {
		return nil, err
	}
	box, err := c.decodeResult(respType, payload)
	if err != nil {
		return nil, err
	}
	if box.Kind != marshal.KindObject {
		return nil, cos.NewErrMarshal("INSTANCE_REQUEST for %s did not return an object", typeName)
	}
	return box.Proxy, nil
}

// CallMethod resolves name's overload set on p's type against args and
// kwargNames/kwargValues, then sends METHOD_CALL.
func (c *Client) CallMethod(p *handles.Proxy, name string, args []marshal.Box, kwargNames []string, kwargValues []marshal.Box) (marshal.Box, error) {
	overloads, ok := p.Desc.Methods[name]
	if !ok {
		return marshal.Box{}, cos.NewErrMarshal("no such method %s on %s", name, p.Desc.Name)
	}
	var arity []types.Method
	for _, m := range overloads {
		if len(m.ArgTypeIDs) == len(args) {
			arity = append(arity, m)
		}
	}
	candidates := make([]marshal.Candidate, len(arity))
	for i, m := range arity {
		candidates[i] = marshal.Candidate{Index: i, Method: m}
	}
	cand, err := marshal.Resolve(candidates, args, kwargNames, c.argKind)
	if err != nil {
		return marshal.Box{}, err
	}

	w := wire.NewWriter(64)
	w.Long(int64(p.Handle))
	w.Int(cand.Method.Index)
	if err := c.encodeArgs(w, args, cand.Method.ArgTypeIDs); err != nil {
		return marshal.Box{}, err
	}
	w.Int(int32(len(kwargNames)))
	for i, kn := range kwargNames {
		w.UTF16String(kn)
		// Method carries no per-kwarg type id (ArgTypeIDs is positional
		// only), so a kwarg's wire type is always inferred from the value
		// itself - the generic-object-target path in encodeValue/
		// primitiveNameFor - rather than looked up against the overload.
		if err := c.encodeArg(w, kwargValues[i], 0); err != nil {
			return marshal.Box{}, err
		}
	}

	c.stats.IncFramesSent(w.Len())
	respType, payload, err := c.sess.Correlator.Call(wire.MethodCall, w.Bytes())
	if err != nil {
		return marshal.Box{}, err
	}
	return c.decodeResult(respType, payload)
}

// ToString sends TO_STRING for p.
func (c *Client) ToString(p *handles.Proxy) (string, error) {
	w := wire.NewWriter(8)
	w.Long(int64(p.Handle))
	respType, payload, err := c.sess.Correlator.Call(wire.ToString, w.Bytes())
	if err != nil {
		return "", err
	}
	box, err := c.decodeResult(respType, payload)
	if err != nil {
		return "", err
	}
	return box.Str, nil
}

// GetField sends GET_FIELD for p.name.
func (c *Client) GetField(p *handles.Proxy, name string) (marshal.Box, error) {
	w := wire.NewWriter(16 + len(name)*2)
	w.Long(int64(p.Handle))
	w.UTF16String(name)
	respType, payload, err := c.sess.Correlator.Call(wire.GetField, w.Bytes())
	if err != nil {
		return marshal.Box{}, err
	}
	return c.decodeResult(respType, payload)
}

// SetField sends SET_FIELD for p.name = value.
func (c *Client) SetField(p *handles.Proxy, name string, value marshal.Box) error {
	var fieldTypeID types.ID
	for _, f := range p.Desc.Fields {
		if f.Name == name {
			fieldTypeID = f.FieldTypeID
			break
		}
	}
	w := wire.NewWriter(16 + len(name)*2)
	w.Long(int64(p.Handle))
	w.UTF16String(name)
	if err := c.encodeArg(w, value, fieldTypeID); err != nil {
		return err
	}
	_, _, err := c.sess.Correlator.Call(wire.SetField, w.Bytes())
	return err
}

// ArrayLength sends ARRAY_LENGTH for p.
func (c *Client) ArrayLength(p *handles.Proxy) (int32, error) {
	w := wire.NewWriter(8)
	w.Long(int64(p.Handle))
	respType, payload, err := c.sess.Correlator.Call(wire.ArrayLength, w.Bytes())
	if err != nil {
		return 0, err
	}
	if respType != wire.ArrayLengthResp {
		return 0, cos.NewErrMarshal("ARRAY_LENGTH: unexpected response tag %s", respType)
	}
	return wire.NewReader(payload).Int()
}

// Cast sends CAST, reinterpreting p's handle as an instance of typeName
// (a server-validated operation; an invalid cast surfaces as an EXCEPTION).
func (c *Client) Cast(p *handles.Proxy, typeName string) (*handles.Proxy, error) {
	d, err := c.ClassForName(typeName)
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter(16)
	w.Long(int64(p.Handle))
	w.Int(int32(d.ID))
	respType, payload, err := c.sess.Correlator.Call(wire.Cast, w.Bytes())
	if err != nil {
		return nil, err
	}
	box, err := c.decodeResult(respType, payload)
	if err != nil {
		return nil, err
	}
	return box.Proxy, nil
}

// NewArray sends NEW_ARRAY, allocating a server-side array of elemType
// with the given length.
func (c *Client) NewArray(elemType string, length int32) (*handles.Proxy, error) {
	d, err := c.ClassForName(elemType)
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter(8)
	w.Int(int32(d.ID))
	w.Int(length)
	respType, payload, err := c.sess.Correlator.Call(wire.NewArray, w.Bytes())
	if err != nil {
		return nil, err
	}
	box, err := c.decodeResult(respType, payload)
	if err != nil {
		return nil, err
	}
	return box.Proxy, nil
}

// GetValueOf sends GET_VALUE_OF, unboxing p (e.g. a java.lang.Integer) to
// its primitive value.
func (c *Client) GetValueOf(p *handles.Proxy) (marshal.Box, error) {
	w := wire.NewWriter(8)
	w.Long(int64(p.Handle))
	respType, payload, err := c.sess.Correlator.Call(wire.GetValueOf, w.Bytes())
	if err != nil {
		return marshal.Box{}, err
	}
	return c.decodeResult(respType, payload)
}

// InjectClass, InjectSource, and ReplaceClass delegate straight to the
// type registry, which owns the cache invalidation/insertion rules around
// each (spec.md §6).
func (c *Client) InjectClass(bytecode []byte) (*types.Descriptor, error) {
	return c.sess.Types.InjectClass(bytecode)
}

func (c *Client) InjectSource(name, source string) (*types.Descriptor, error) {
	return c.sess.Types.InjectSource(name, source)
}

func (c *Client) ReplaceClass(id types.ID, bytecode []byte) (*types.Descriptor, error) {
	return c.sess.Types.ReplaceClass(id, bytecode)
}

// Lock and Unlock delegate to the session's refcounted named-lock service.
func (c *Client) Lock(name string) error   { return c.sess.Lock(name) }
func (c *Client) Unlock(name string) error { return c.sess.Unlock(name) }

// ExportCallable makes fn invokable from the server, returning the handle
// the server will use to reach it. Requires reentrant mode.
func (c *Client) ExportCallable(identityOwner any, typeID types.ID, fn callback.Callable) (handles.Handle, error) {
	if !c.sess.Reentrant() {
		return handles.Null, cos.NewErrMarshal("cannot export a callable: connection does not support callbacks")
	}
	return c.callbacks.ExportCallable(identityOwner, typeID, fn)
}

// ExportObject makes obj invokable from the server as an implementation of
// iface, returning the proxy handle.
func (c *Client) ExportObject(identityOwner any, iface *types.Descriptor, obj callback.Exportable) (handles.Handle, error) {
	if !c.sess.Reentrant() {
		return handles.Null, cos.NewErrMarshal("cannot export an object: connection does not support callbacks")
	}
	return c.callbacks.ExportObject(identityOwner, iface, obj)
}

//
// argument/result marshalling
//

func (c *Client) argKind(id types.ID) marshal.ArgTypeKind {
	d, err := c.sess.Types.ClassForID(id)
	if err != nil || !d.Primitive {
		return marshal.ArgTypeKind{}
	}
	switch d.Name {
	case "byte":
		return marshal.ArgTypeKind{IsIntegral: true, IntegerRank: 0}
	case "short", "char":
		return marshal.ArgTypeKind{IsIntegral: true, IntegerRank: 1}
	case "int":
		return marshal.ArgTypeKind{IsIntegral: true, IntegerRank: 2}
	case "long":
		return marshal.ArgTypeKind{IsIntegral: true, IntegerRank: 3}
	case "float":
		return marshal.ArgTypeKind{IsFloat: true, IsFloat32: true}
	case "double":
		return marshal.ArgTypeKind{IsFloat: true}
	}
	return marshal.ArgTypeKind{}
}

func (c *Client) encodeArgs(w *wire.Writer, args []marshal.Box, argTypeIDs []types.ID) error {
	w.Int(int32(len(args)))
	for i, a := range args {
		if err := c.encodeArg(w, a, argTypeIDs[i]); err != nil {
			return err
		}
	}
	return nil
}

// encodeArg writes one tagged argument: R (handle) when the value carries
// a live proxy (spec.md §3 "marshalling a box back out must prefer the
// handle"), R with the null handle for a null box, V (inline value)
// otherwise. A string box is always sent inline as V.
func (c *Client) encodeArg(w *wire.Writer, b marshal.Box, targetID types.ID) error {
	if b.Kind == marshal.KindObject {
		w.Byte(byte(wire.ArgReference))
		w.Long(int64(b.Proxy.Handle))
		return nil
	}
	if b.Kind == marshal.KindNull {
		w.Byte(byte(wire.ArgReference))
		w.Long(int64(handles.Null))
		return nil
	}

	w.Byte(byte(wire.ArgValue))
	w.Int(int32(targetID))
	return c.encodeValue(w, b, targetID)
}

func (c *Client) encodeValue(w *wire.Writer, b marshal.Box, targetID types.ID) error {
	switch b.Kind {
	case marshal.KindBool:
		w.Bool(b.Bool)
		return nil
	case marshal.KindInt, marshal.KindFloat:
		name := c.primitiveNameFor(targetID, b)
		return marshal.EncodePrimitive(w, b, name)
	case marshal.KindString:
		w.UTF16String(b.Str)
		return nil
	case marshal.KindMap, marshal.KindArray, marshal.KindList, marshal.KindSet, marshal.KindCollection, marshal.KindIterable, marshal.KindSlice:
		return marshal.EncodeContainer(w, b, func(w *wire.Writer, e marshal.Box) error {
			return c.encodeArg(w, e, targetID)
		})
	}
	return cos.NewErrMarshal("cannot encode box kind %d", b.Kind)
}

// primitiveNameFor picks the wire primitive name for a numeric box: the
// descriptor's own name when targetID resolves to a primitive, otherwise
// (the "generic-object target" case, e.g. an Object or Number parameter)
// the most specific primitive that exactly represents the value (spec.md
// §4.4).
func (c *Client) primitiveNameFor(targetID types.ID, b marshal.Box) string {
	if d, err := c.sess.Types.ClassForID(targetID); err == nil && d.Primitive {
		return d.Name
	}
	if b.Kind == marshal.KindFloat {
		return marshal.MostSpecificFloat(b.F64)
	}
	return marshal.MostSpecificIntegral(b.I64)
}

// decodeResult turns a response frame into a Box, per the server->client
// tags spec.md §4.1 lists for values: OBJECT_REFERENCE, ASCII_VALUE,
// UTF16_VALUE, ARBITRARY_ITEM, EMPTY_ACK, and EXCEPTION (surfaced as an
// error, not a Box).
func (c *Client) decodeResult(msgType wire.MsgType, payload []byte) (marshal.Box, error) {
	r := wire.NewReader(payload)
	switch msgType {
	case wire.EmptyAck:
		return marshal.Null(), nil
	case wire.ObjectReference:
		handle, err := r.Long()
		if err != nil {
			return marshal.Box{}, err
		}
		typeID, err := r.Int()
		if err != nil {
			return marshal.Box{}, err
		}
		if handles.Handle(handle).IsNull() {
			return marshal.Null(), nil
		}
		d, err := c.sess.Types.ClassForID(types.ID(typeID))
		if err != nil {
			return marshal.Box{}, err
		}
		return marshal.ObjectBox(c.sess.Handles.NewProxy(handles.Handle(handle), d)), nil
	case wire.ASCIIValue:
		res, err := r.ASCIIString()
		if err != nil {
			return marshal.Box{}, err
		}
		if res.IsError {
			return marshal.Box{}, cos.NewErrMarshal("server ascii-value error: %s", res.Text)
		}
		return marshal.StringBox(res.Text), nil
	case wire.UTF16Value:
		s, err := r.UTF16String()
		return marshal.StringBox(s), err
	case wire.ArbitraryItem:
		typeID, err := r.Int()
		if err != nil {
			return marshal.Box{}, err
		}
		d, err := c.sess.Types.ClassForID(types.ID(typeID))
		if err != nil {
			return marshal.Box{}, err
		}
		return marshal.DecodePrimitive(r, d.Name)
	case wire.Exception:
		return marshal.Box{}, c.decodeException(payload)
	default:
		return marshal.Box{}, cos.NewErrMarshal("unexpected response tag %s", msgType)
	}
}

// decodeException wraps the remote exception with a locally-captured call
// stack via github.com/pkg/errors, so an error surfaced to an application
// caller carries both "what the server threw" and "where on the client
// this call was made from" - the teacher's own cos.Errs has no stack
// capture, and pkg/errors is wired here specifically for this boundary
// (see DESIGN.md).
func (c *Client) decodeException(payload []byte) error {
	r := wire.NewReader(payload)
	className, _ := r.UTF16String()
	message, _ := r.UTF16String()
	stack, _ := r.UTF16String()
	remote := cos.NewErrRemote(className, message, stack)
	return errors.WithStack(remote)
}

//
// GET_CALLBACK_HANDLE / GET_PROXY, satisfying callback.Requester
//

type callbackRequester struct{ c *Client }

func (r callbackRequester) GetCallbackHandle(localID callback.LocalID, typeID types.ID, arity int) (handles.Handle, error) {
	w := wire.NewWriter(24)
	w.Long(int64(localID))
	w.Int(int32(typeID))
	w.Byte(byte(arity))
	respType, payload, err := r.c.sess.Correlator.Call(wire.GetCallbackHandle, w.Bytes())
	if err != nil {
		return handles.Null, err
	}
	return decodeHandle(respType, payload)
}

func (r callbackRequester) GetProxy(localID callback.LocalID, typeID types.ID) (handles.Handle, error) {
	w := wire.NewWriter(16)
	w.Long(int64(localID))
	w.Int(int32(typeID))
	respType, payload, err := r.c.sess.Correlator.Call(wire.GetProxy, w.Bytes())
	if err != nil {
		return handles.Null, err
	}
	return decodeHandle(respType, payload)
}

func decodeHandle(msgType wire.MsgType, payload []byte) (handles.Handle, error) {
	if msgType != wire.ObjectReference {
		return handles.Null, cos.NewErrMarshal("expected an object reference, got %s", msgType)
	}
	h, err := wire.NewReader(payload).Long()
	if err != nil {
		return handles.Null, err
	}
	return handles.Handle(h), nil
}

//
// rpc.Dispatcher wiring: loopHolder builds a dispatch.Loop lazily so
// session.Connect can pass a live Dispatcher before the callback registry
// (which needs the now-connected correlator) exists.
//

type loopHolder struct {
	c    *Client
	eval Evaluator
}

func (h *loopHolder) Dispatch(threadID int64, msgType wire.MsgType, payload []byte) {
	l, err := h.build()
	if err != nil {
		nlog.Warningf("pjrmi: cannot build dispatch loop yet (%v), dropping %s", err, msgType)
		return
	}
	l.Dispatch(threadID, msgType, payload)
}

func (h *loopHolder) build() (*dispatch.Loop, error) {
	if h.c.sess == nil || h.c.sess.Correlator == nil {
		return nil, fmt.Errorf("session not yet established")
	}
	if h.c.callbacks == nil {
		return nil, fmt.Errorf("callback registry not yet established")
	}
	return dispatch.NewLoop(h.c.callbacks, h.c.sess.Handles, h.eval, h.c.sess.Correlator, h.c.stats), nil
}

// rpc.Dispatcher is satisfied structurally by dispatcherAdapter above; this
// blank assertion keeps that honest at compile time.
var _ rpc.Dispatcher = dispatcherAdapter{}
