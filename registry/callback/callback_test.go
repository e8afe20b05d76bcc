package callback_test

import (
	"github.com/watt-toolkit/pjrmi/registry/callback"
	"github.com/watt-toolkit/pjrmi/registry/handles"
	"github.com/watt-toolkit/pjrmi/registry/types"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fakeRequester struct {
	nextHandle handles.Handle
	calls      int
}

func (f *fakeRequester) GetCallbackHandle(id callback.LocalID, typeID types.ID, arity int) (handles.Handle, error) {
	f.calls++
	f.nextHandle++
	return f.nextHandle, nil
}

func (f *fakeRequester) GetProxy(id callback.LocalID, typeID types.ID) (handles.Handle, error) {
	f.calls++
	f.nextHandle++
	return f.nextHandle, nil
}

type fn struct {
	arity int
	call  func([]any) (any, error)
}

func (f *fn) Arity() int                         { return f.arity }
func (f *fn) Invoke(args []any) (any, error)      { return f.call(args) }

var _ = Describe("Registry", func() {
	var (
		req *fakeRequester
		reg *callback.Registry
	)

	BeforeEach(func() {
		req = &fakeRequester{}
		reg = callback.NewRegistry(req)
	})

	It("caches repeated exports of the same callable for the same type", func() {
		f := &fn{arity: 1, call: func(a []any) (any, error) { return a[0], nil }}

		h1, err := reg.ExportCallable(f, 5, f)
		Expect(err).NotTo(HaveOccurred())
		h2, err := reg.ExportCallable(f, 5, f)
		Expect(err).NotTo(HaveOccurred())

		Expect(h2).To(Equal(h1))
		Expect(req.calls).To(Equal(1))
	})

	It("rejects a callable whose arity exceeds 255", func() {
		f := &fn{arity: 256, call: func(a []any) (any, error) { return nil, nil }}
		_, err := reg.ExportCallable(f, 5, f)
		Expect(err).To(HaveOccurred())
	})

	It("evicts an entry once its incoming refcount reaches zero", func() {
		f := &fn{arity: 0, call: func(a []any) (any, error) { return nil, nil }}
		h, err := reg.ExportCallable(f, 9, f)
		Expect(err).NotTo(HaveOccurred())
		Expect(h).NotTo(Equal(handles.Null))

		reg.AddReference(0)
		reg.AddReference(0)
		_, _, ok := reg.Lookup(0)
		Expect(ok).To(BeTrue())

		reg.DropReferences(0, 2)
		_, _, ok = reg.Lookup(0)
		Expect(ok).To(BeFalse())

		// a fresh export after eviction must hit the wire again, not the
		// (now-evicted) wrapper cache.
		_, err = reg.ExportCallable(f, 9, f)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.calls).To(Equal(2))
	})
})
