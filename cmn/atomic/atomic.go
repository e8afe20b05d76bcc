// Package atomic provides thin, unpadded wrappers around sync/atomic,
// matching the call shape used throughout pjrmi (.Load/.Store/.Add/.CAS).
// Reconstructed from call-site evidence in aistore's transport package
// (cmn/atomic's own source was not present in the retrieval pack).
package atomic

import "sync/atomic"

type Bool struct{ v uint32 }

func (b *Bool) Load() bool { return atomic.LoadUint32(&b.v) != 0 }
func (b *Bool) Store(val bool) {
	if val {
		atomic.StoreUint32(&b.v, 1)
	} else {
		atomic.StoreUint32(&b.v, 0)
	}
}
func (b *Bool) CAS(old, newv bool) bool {
	var o, n uint32
	if old {
		o = 1
	}
	if newv {
		n = 1
	}
	return atomic.CompareAndSwapUint32(&b.v, o, n)
}

type Int32 struct{ v int32 }

func (i *Int32) Load() int32         { return atomic.LoadInt32(&i.v) }
func (i *Int32) Store(val int32)     { atomic.StoreInt32(&i.v, val) }
func (i *Int32) Add(delta int32) int32 { return atomic.AddInt32(&i.v, delta) }
func (i *Int32) Inc() int32          { return i.Add(1) }
func (i *Int32) Dec() int32          { return i.Add(-1) }
func (i *Int32) CAS(old, newv int32) bool {
	return atomic.CompareAndSwapInt32(&i.v, old, newv)
}

type Int64 struct{ v int64 }

func (i *Int64) Load() int64           { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(val int64)       { atomic.StoreInt64(&i.v, val) }
func (i *Int64) Add(delta int64) int64 { return atomic.AddInt64(&i.v, delta) }
func (i *Int64) Inc() int64            { return i.Add(1) }
func (i *Int64) Dec() int64            { return i.Add(-1) }
func (i *Int64) CAS(old, newv int64) bool {
	return atomic.CompareAndSwapInt64(&i.v, old, newv)
}

type Uint32 struct{ v uint32 }

func (u *Uint32) Load() uint32           { return atomic.LoadUint32(&u.v) }
func (u *Uint32) Store(val uint32)       { atomic.StoreUint32(&u.v, val) }
func (u *Uint32) Add(delta uint32) uint32 { return atomic.AddUint32(&u.v, delta) }
func (u *Uint32) CAS(old, newv uint32) bool {
	return atomic.CompareAndSwapUint32(&u.v, old, newv)
}

type Uint64 struct{ v uint64 }

func (u *Uint64) Load() uint64            { return atomic.LoadUint64(&u.v) }
func (u *Uint64) Store(val uint64)        { atomic.StoreUint64(&u.v, val) }
func (u *Uint64) Add(delta uint64) uint64 { return atomic.AddUint64(&u.v, delta) }
func (u *Uint64) CAS(old, newv uint64) bool {
	return atomic.CompareAndSwapUint64(&u.v, old, newv)
}
