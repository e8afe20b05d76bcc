package types_test

import (
	"github.com/watt-toolkit/pjrmi/registry/types"
	"github.com/watt-toolkit/pjrmi/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// fakeCaller answers TYPE_REQUEST frames from an in-memory catalog, acting
// as a stand-in for the rpc correlator in these unit tests.
type fakeCaller struct {
	byName map[string]*types.Descriptor
	calls  int
}

func (f *fakeCaller) Call(msgType wire.MsgType, payload []byte) (wire.MsgType, []byte, error) {
	f.calls++
	Expect(msgType).To(Equal(wire.TypeRequest))

	r := wire.NewReader(payload)
	kind, err := r.Byte()
	Expect(err).NotTo(HaveOccurred())

	var d *types.Descriptor
	if kind == 0 {
		name, err := r.UTF16String()
		Expect(err).NotTo(HaveOccurred())
		d = f.byName[name]
	} else {
		id, err := r.Int()
		Expect(err).NotTo(HaveOccurred())
		for _, cand := range f.byName {
			if cand.ID == types.ID(id) {
				d = cand
			}
		}
	}
	if d == nil {
		return wire.Exception, encodeException("java.lang.ClassNotFoundException", "not found"), nil
	}
	w := wire.NewWriter(256)
	d.Encode(w)
	return wire.TypeDescription, w.Bytes(), nil
}

func encodeException(className, message string) []byte {
	w := wire.NewWriter(64)
	w.UTF16String(className)
	w.UTF16String(message)
	w.UTF16String("")
	return w.Bytes()
}

var _ = Describe("Registry", func() {
	var (
		caller *fakeCaller
		reg    *types.Registry
	)

	BeforeEach(func() {
		caller = &fakeCaller{byName: map[string]*types.Descriptor{
			"java.lang.Object": {ID: 1, Name: "java.lang.Object", Methods: map[string][]types.Method{}},
			"java.lang.String": {ID: 2, Name: "java.lang.String", Methods: map[string][]types.Method{}},
		}}
		reg = types.NewRegistry(caller)
	})

	It("fetches on miss and caches thereafter", func() {
		d1, err := reg.ClassForName("java.lang.Object")
		Expect(err).NotTo(HaveOccurred())
		Expect(d1.ID).To(Equal(types.ID(1)))
		Expect(caller.calls).To(Equal(1))

		d2, err := reg.ClassForName("java.lang.Object")
		Expect(err).NotTo(HaveOccurred())
		Expect(d2).To(BeIdenticalTo(d1))
		Expect(caller.calls).To(Equal(1), "second lookup must be served from cache")
	})

	It("caches by id once resolved by name", func() {
		_, err := reg.ClassForName("java.lang.String")
		Expect(err).NotTo(HaveOccurred())

		d, err := reg.ClassForID(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Name).To(Equal("java.lang.String"))
		Expect(caller.calls).To(Equal(1), "id lookup must hit the cache populated by the name lookup")
	})

	It("surfaces a remote exception for an unknown class", func() {
		_, err := reg.ClassForName("does.not.Exist")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Method specificity", func() {
	It("is antisymmetric for every overload pair (spec.md §8)", func() {
		// foo(String) is strictly more specific than foo(Object): spec.md
		// scenario 3.
		overloads := []types.Method{
			{Index: 0, Specificity: []int8{0, -1}},
			{Index: 1, Specificity: []int8{1, 0}},
		}
		for a := range overloads {
			for b := range overloads {
				Expect(overloads[a].Specificity[b]).To(Equal(-overloads[b].Specificity[a]))
			}
		}
	})
})
