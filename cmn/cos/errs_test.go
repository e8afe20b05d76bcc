package cos_test

import (
	"errors"

	"github.com/watt-toolkit/pjrmi/cmn/cos"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Errs", func() {
	It("dedupes identical errors", func() {
		var e cos.Errs
		for i := 0; i < 10; i++ {
			e.Add(errors.New("boom"))
		}
		Expect(e.Cnt()).To(Equal(1))
	})

	It("joins distinct errors", func() {
		var e cos.Errs
		e.Add(errors.New("a"))
		e.Add(errors.New("b"))
		e.Add(errors.New("c"))
		Expect(e.Cnt()).To(Equal(3))
		Expect(e.Error()).To(ContainSubstring("more error"))
	})

	It("is empty when nothing was added", func() {
		var e cos.Errs
		Expect(e.Cnt()).To(Equal(0))
		Expect(e.Error()).To(Equal(""))
	})
})

var _ = Describe("GenUUID", func() {
	It("generates distinct alphanumeric-nice ids", func() {
		a := cos.GenUUID()
		b := cos.GenUUID()
		Expect(a).NotTo(Equal(b))
		Expect(cos.IsAlphaNice(a)).To(BeTrue())
	})
})
