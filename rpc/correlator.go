// Package rpc implements pjrmi's request/response correlator (spec.md
// §4.5): non-reentrant and reentrant dispatch modes, the
// received[request_id] map, and - in reentrant mode - a dedicated receiver
// goroutine plus a bounded worker pool for unsolicited server-originated
// requests.
package rpc

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/watt-toolkit/pjrmi/cmn/atomic"
	"github.com/watt-toolkit/pjrmi/cmn/debug"
	"github.com/watt-toolkit/pjrmi/cmn/nlog"
	"github.com/watt-toolkit/pjrmi/wire"
)

// UnsolicitedRequestID is the sentinel request id carried by every
// server-originated, dispatch-loop-bound frame (spec.md §4.1).
const UnsolicitedRequestID int32 = -1

// Dispatcher handles an unsolicited frame (request id -1); implemented by
// the dispatch package. Kept as a narrow interface here so rpc never
// imports dispatch (which itself needs rpc to send CALLBACK_RESPONSE).
type Dispatcher interface {
	Dispatch(threadID int64, msgType wire.MsgType, payload []byte)
}

type pending struct {
	filled  bool
	msgType wire.MsgType
	payload []byte
	err     error
	done    chan struct{}
}

// Correlator is the per-connection request/response state machine.
type Correlator struct {
	rw         io.ReadWriter
	reentrant  bool
	dispatcher Dispatcher

	sendMu sync.Mutex

	nextReqID    atomic.Int32
	nextThreadID atomic.Int64

	recvMu   sync.Mutex // guards received and, in non-reentrant mode, the wire read itself
	received map[int32]*pending

	sem *semaphore.Weighted

	closed atomic.Bool
}

// NewCorrelator constructs a correlator. workers bounds the reentrant-mode
// worker pool (spec.md §4.5); it is ignored in non-reentrant mode, where
// callbacks are structurally impossible.
func NewCorrelator(rw io.ReadWriter, reentrant bool, workers int64, d Dispatcher) *Correlator {
	if workers <= 0 {
		workers = 32
	}
	return &Correlator{
		rw:         rw,
		reentrant:  reentrant,
		dispatcher: d,
		received:   make(map[int32]*pending),
		sem:        semaphore.NewWeighted(workers),
	}
}

// Reentrant reports whether this correlator was constructed in reentrant
// mode (server has workers and callbacks are therefore possible).
func (c *Correlator) Reentrant() bool { return c.reentrant }

// ThreadID returns a synthetic, monotonically increasing caller identifier.
// Go has no OS-thread-per-call-stack concept analogous to the source's
// caller thread id, so each logical call site gets a fresh synthetic id
// instead of a reused one; this preserves the wire format's field without
// pretending to observe real thread identity.
func (c *Correlator) ThreadID() int64 { return c.nextThreadID.Add(1) }

func (c *Correlator) send(h wire.Header, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return wire.WriteFrame(c.rw, h, payload)
}

// Send issues a fire-and-forget frame carrying no request id (e.g.
// DROP_REFERENCES, CALLBACK_RESPONSE); implements handles.Sender.
func (c *Correlator) Send(msgType wire.MsgType, payload []byte) error {
	h := wire.Header{MsgType: msgType, ThreadID: c.ThreadID(), RequestID: UnsolicitedRequestID, PayloadSize: int32(len(payload))}
	return c.send(h, payload)
}

// Call implements types.Caller / the general synchronous request path:
// send msgType with a fresh request id, then block until the matching
// response frame arrives.
func (c *Correlator) Call(msgType wire.MsgType, payload []byte) (wire.MsgType, []byte, error) {
	reqID := c.nextReqID.Add(1)
	h := wire.Header{MsgType: msgType, ThreadID: c.ThreadID(), RequestID: reqID, PayloadSize: int32(len(payload))}

	p := &pending{done: make(chan struct{})}
	c.recvMu.Lock()
	c.received[reqID] = p
	c.recvMu.Unlock()

	if err := c.send(h, payload); err != nil {
		c.recvMu.Lock()
		delete(c.received, reqID)
		c.recvMu.Unlock()
		return 0, nil, err
	}

	if c.reentrant {
		<-p.done
		return p.msgType, p.payload, p.err
	}
	return c.waitNonReentrant(reqID)
}

// waitNonReentrant implements spec.md §4.5's non-reentrant mode: whichever
// caller gets here first reads frames off the wire under the receive lock
// until its own response shows up, depositing any others into the
// received map for whichever caller is waiting on them; a caller that
// loses the race to acquire the lock instead finds its entry already
// filled by the time it gets in.
func (c *Correlator) waitNonReentrant(reqID int32) (wire.MsgType, []byte, error) {
	for {
		c.recvMu.Lock()
		if p, ok := c.received[reqID]; ok && p.filled {
			delete(c.received, reqID)
			c.recvMu.Unlock()
			return p.msgType, p.payload, p.err
		}
		h, payload, err := wire.ReadFrame(c.rw)
		if err != nil {
			delete(c.received, reqID)
			c.recvMu.Unlock()
			return 0, nil, err
		}
		debug.Assert(h.RequestID != UnsolicitedRequestID, "non-reentrant connection received an unsolicited frame")
		if h.RequestID == reqID {
			delete(c.received, reqID)
			c.recvMu.Unlock()
			return h.MsgType, payload, nil
		}
		if waiter, ok := c.received[h.RequestID]; ok {
			waiter.msgType, waiter.payload, waiter.filled = h.MsgType, payload, true
		}
		c.recvMu.Unlock()
	}
}

// Run starts the dedicated receiver goroutine for reentrant mode; it
// returns when the connection is closed or a framing error occurs. Callers
// should invoke Run in its own goroutine right after the handshake.
func (c *Correlator) Run(ctx context.Context) error {
	debug.Assert(c.reentrant, "Run is only valid in reentrant mode")
	for {
		h, payload, err := wire.ReadFrame(c.rw)
		if err != nil {
			c.closed.Store(true)
			c.failAllPending(err)
			return err
		}
		if h.RequestID == UnsolicitedRequestID {
			c.dispatchAsync(ctx, h, payload)
			continue
		}
		c.recvMu.Lock()
		p, ok := c.received[h.RequestID]
		if ok {
			delete(c.received, h.RequestID)
		}
		c.recvMu.Unlock()
		if !ok {
			nlog.Warningf("rpc: response for unknown request id %d (%s), dropping", h.RequestID, h.MsgType)
			continue
		}
		p.msgType, p.payload, p.filled = h.MsgType, payload, true
		close(p.done)
	}
}

func (c *Correlator) dispatchAsync(ctx context.Context, h wire.Header, payload []byte) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		nlog.Warningf("rpc: worker pool acquire failed, dropping unsolicited %s: %v", h.MsgType, err)
		return
	}
	go func() {
		defer c.sem.Release(1)
		c.dispatcher.Dispatch(h.ThreadID, h.MsgType, payload)
	}()
}

func (c *Correlator) failAllPending(err error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	for id, p := range c.received {
		p.err = err
		close(p.done)
		delete(c.received, id)
	}
}

// Closed reports whether the receiver loop has observed connection failure.
func (c *Correlator) Closed() bool { return c.closed.Load() }
