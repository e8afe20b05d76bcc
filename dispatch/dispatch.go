// Package dispatch implements pjrmi's handler for server-originated
// messages (spec.md §4.8): the worker-pool side of the reentrant
// correlator, invoked once per unsolicited frame.
package dispatch

import (
	"fmt"

	"github.com/watt-toolkit/pjrmi/cmn/nlog"
	"github.com/watt-toolkit/pjrmi/registry/callback"
	"github.com/watt-toolkit/pjrmi/registry/handles"
	"github.com/watt-toolkit/pjrmi/stats"
	"github.com/watt-toolkit/pjrmi/wire"
)

// Sender issues the single CALLBACK_RESPONSE (or, for EXCEPTION/unknown,
// nothing) every handled case must produce exactly one of.
type Sender interface {
	Send(msgType wire.MsgType, payload []byte) error
}

// Evaluator runs PYTHON_EVAL_OR_EXEC/PYTHON_INVOKE/GET_OBJECT/
// SET_GLOBAL_VARIABLE bodies against the embedding application's global
// scope. GETATTR frames are answered from the callback registry, so Loop
// never calls GetAttr. The application provides the implementation; dispatch only owns
// wire framing and error translation.
type Evaluator interface {
	EvalOrExec(source string, execute bool) (any, error)
	Invoke(dottedName string, args []any) (any, error)
	GetObject(dottedName string) (any, error)
	GetAttr(obj any, field string) (any, error)
	SetGlobal(name string, value any) error
}

// Loop wires the callback registry, handle registry, an Evaluator, and a
// Sender into one rpc.Dispatcher.
type Loop struct {
	callbacks *callback.Registry
	handleReg *handles.Registry
	eval      Evaluator
	sender    Sender
	stats     *stats.Registry
}

func NewLoop(cb *callback.Registry, hr *handles.Registry, eval Evaluator, sender Sender, st *stats.Registry) *Loop {
	return &Loop{callbacks: cb, handleReg: hr, eval: eval, sender: sender, stats: st}
}

// Dispatch implements rpc.Dispatcher. Per spec.md §4.8, every case except
// EXCEPTION and unknown must send exactly one CALLBACK_RESPONSE; a panic
// or error from user code is caught here and turned into an exceptional
// CALLBACK_RESPONSE rather than propagating into the receiver goroutine.
func (l *Loop) Dispatch(threadID int64, msgType wire.MsgType, payload []byte) {
	l.stats.IncFramesReceived()
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("dispatch: panic handling %s: %v", msgType, r)
			switch msgType {
			case wire.Callback, wire.ObjectCallback, wire.EvalOrExec, wire.PythonInvoke,
				wire.InvokeAndGetObject, wire.GetObject, wire.AttrGet, wire.SetGlobal:
				javaReqID, _ := wire.NewReader(payload).Int()
				l.respond(javaReqID, nil, fmt.Errorf("panic handling %s: %v", msgType, r))
			default:
				l.stats.IncErrors()
			}
		}
	}()

	switch msgType {
	case wire.Callback:
		l.handleCallback(payload)
	case wire.ObjectCallback:
		l.handleObjectCallback(payload)
	case wire.EvalOrExec:
		l.handleEvalOrExec(payload)
	case wire.PythonInvoke, wire.InvokeAndGetObject:
		l.handleInvoke(payload, msgType == wire.InvokeAndGetObject)
	case wire.GetObject:
		l.handleGetObject(payload)
	case wire.AttrGet:
		l.handleGetAttr(payload)
	case wire.SetGlobal:
		l.handleSetGlobal(payload)
	case wire.AddReference:
		l.handleAddReference(payload)
	case wire.DropReferences:
		l.handleDropReferences(payload)
	case wire.StatRequest:
		l.handleStatRequest(payload)
	case wire.Exception:
		nlog.Warningf("dispatch: EXCEPTION frame from server (likely mid-shutdown): %s", decodeExceptionText(payload))
	default:
		nlog.Warningf("dispatch: unknown server-originated message type %s, ignoring", msgType)
		l.stats.IncErrors()
	}
}

func decodeExceptionText(payload []byte) string {
	r := wire.NewReader(payload)
	className, _ := r.UTF16String()
	message, _ := r.UTF16String()
	return fmt.Sprintf("%s: %s", className, message)
}

// respond encodes and sends exactly one CALLBACK_RESPONSE for a
// java_req_id, matching spec.md §4.8's "must send exactly one" invariant.
func (l *Loop) respond(javaReqID int32, value []byte, callErr error) {
	w := wire.NewWriter(16 + len(value))
	w.Int(javaReqID)
	if callErr != nil {
		w.Bool(true)
		w.UTF16String(callErr.Error())
		l.stats.IncErrors()
	} else {
		w.Bool(false)
		w.RawBytes(value)
	}
	if err := l.sender.Send(wire.CallbackResponse, w.Bytes()); err != nil {
		nlog.Warningf("dispatch: failed to send CALLBACK_RESPONSE for req %d: %v", javaReqID, err)
	}
}

func (l *Loop) handleCallback(payload []byte) {
	r := wire.NewReader(payload)
	javaReqID, _ := r.Int()
	functionID, _ := r.Int()
	argc, _ := r.Int()
	args := make([]any, argc)
	for i := range args {
		v, _ := r.RawBytes()
		args[i] = v
	}
	kwargc, _ := r.Int()
	for i := int32(0); i < kwargc; i++ {
		_, _ = r.UTF16String()
		_, _ = r.RawBytes()
	}

	c, _, ok := l.callbacks.Lookup(callback.LocalID(functionID))
	if !ok {
		l.respond(javaReqID, nil, fmt.Errorf("no such callback: %d", functionID))
		return
	}
	result, err := c.Invoke(args)
	if err != nil {
		l.respond(javaReqID, nil, err)
		return
	}
	l.respond(javaReqID, encodeAny(result), nil)
}

func (l *Loop) handleObjectCallback(payload []byte) {
	r := wire.NewReader(payload)
	javaReqID, _ := r.Int()
	localID, _ := r.Int()
	method, _ := r.UTF16String()
	argc, _ := r.Int()
	args := make([]any, argc)
	for i := range args {
		v, _ := r.RawBytes()
		args[i] = v
	}

	_, obj, ok := l.callbacks.Lookup(callback.LocalID(localID))
	if !ok {
		l.respond(javaReqID, nil, fmt.Errorf("no such exported object: %d", localID))
		return
	}
	result, err := obj.Invoke(method, args)
	if err != nil {
		l.respond(javaReqID, nil, fmt.Errorf("no such method: %s", method))
		return
	}
	l.respond(javaReqID, encodeAny(result), nil)
}

func (l *Loop) handleEvalOrExec(payload []byte) {
	r := wire.NewReader(payload)
	javaReqID, _ := r.Int()
	execute, _ := r.Bool()
	source, _ := r.UTF16String()

	result, err := l.eval.EvalOrExec(source, execute)
	l.respond(javaReqID, encodeAny(result), err)
}

func (l *Loop) handleInvoke(payload []byte, andGetObject bool) {
	r := wire.NewReader(payload)
	javaReqID, _ := r.Int()
	name, _ := r.UTF16String()
	argc, _ := r.Int()
	args := make([]any, argc)
	for i := range args {
		v, _ := r.RawBytes()
		args[i] = v
	}

	result, err := l.eval.Invoke(name, args)
	if err != nil {
		l.respond(javaReqID, nil, err)
		return
	}
	l.respond(javaReqID, encodeAny(result), nil)
}

func (l *Loop) handleGetObject(payload []byte) {
	r := wire.NewReader(payload)
	javaReqID, _ := r.Int()
	name, _ := r.UTF16String()

	obj, err := l.eval.GetObject(name)
	l.respond(javaReqID, encodeAny(obj), err)
}

func (l *Loop) handleGetAttr(payload []byte) {
	r := wire.NewReader(payload)
	javaReqID, _ := r.Int()
	localID, _ := r.Int()
	field, _ := r.UTF16String()

	_, obj, ok := l.callbacks.Lookup(callback.LocalID(localID))
	if !ok {
		l.respond(javaReqID, nil, fmt.Errorf("no such field: %s", field))
		return
	}
	val, err := obj.Invoke("__getattr__:"+field, nil)
	if err != nil {
		l.respond(javaReqID, nil, fmt.Errorf("no such field: %s", field))
		return
	}
	l.respond(javaReqID, encodeAny(val), nil)
}

func (l *Loop) handleSetGlobal(payload []byte) {
	r := wire.NewReader(payload)
	javaReqID, _ := r.Int()
	name, _ := r.UTF16String()
	value, _ := r.RawBytes()

	err := l.eval.SetGlobal(name, value)
	l.respond(javaReqID, nil, err)
}

func (l *Loop) handleAddReference(payload []byte) {
	r := wire.NewReader(payload)
	localID, _ := r.Int()
	l.callbacks.AddReference(callback.LocalID(localID))
}

func (l *Loop) handleDropReferences(payload []byte) {
	r := wire.NewReader(payload)
	n, _ := r.Int()
	for i := int32(0); i < n; i++ {
		localID, _ := r.Long()
		l.callbacks.DropReferences(callback.LocalID(localID), 1)
	}
}

// handleStatRequest answers a STAT_REQUEST with the client's own counters
// (SPEC_FULL.md §4.11): frames/bytes sent and received, active requests,
// callback and error counts, read straight off the stats registry with no
// java_req_id framing since the request carries none.
func (l *Loop) handleStatRequest(payload []byte) {
	snap := l.stats.Snapshot()
	w := wire.NewWriter(64)
	w.Long(snap.FramesSent)
	w.Long(snap.FramesReceived)
	w.Long(snap.BytesSent)
	w.Long(snap.BytesReceived)
	w.Long(snap.ActiveRequests)
	w.Long(snap.Callbacks)
	w.Long(snap.Errors)
	if err := l.sender.Send(wire.CallbackResponse, w.Bytes()); err != nil {
		nlog.Warningf("dispatch: failed to send STAT_REQUEST reply: %v", err)
	}
}

// encodeAny marshals a dispatch result's already-wire-encoded bytes
// through unchanged, or produces an empty payload for nil - the
// application-level Evaluator/Callable implementations are responsible for
// producing marshal-package output via the marshal package directly; this
// keeps dispatch free of a dependency on full overload resolution.
func encodeAny(v any) []byte {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		return b
	}
	return nil
}
