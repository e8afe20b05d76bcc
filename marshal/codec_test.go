package marshal_test

import (
	"github.com/watt-toolkit/pjrmi/marshal"
	"github.com/watt-toolkit/pjrmi/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Primitive codec", func() {
	DescribeTable("round-trips every primitive width",
		func(typeName string, b marshal.Box) {
			w := wire.NewWriter(8)
			Expect(marshal.EncodePrimitive(w, b, typeName)).To(Succeed())
			got, err := marshal.DecodePrimitive(wire.NewReader(w.Bytes()), typeName)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Kind).To(Equal(b.Kind))
			switch b.Kind {
			case marshal.KindBool:
				Expect(got.Bool).To(Equal(b.Bool))
			case marshal.KindInt:
				Expect(got.I64).To(Equal(b.I64))
			case marshal.KindFloat:
				Expect(got.F64).To(Equal(b.F64))
			}
		},
		Entry("boolean", "boolean", marshal.BoolBox(true)),
		Entry("byte", "byte", marshal.IntBox(-12)),
		Entry("short", "short", marshal.IntBox(30000)),
		Entry("int", "int", marshal.IntBox(123456)),
		Entry("char", "char", marshal.IntBox(65)),
		Entry("long", "long", marshal.IntBox(9007199254740993)),
		Entry("float", "float", marshal.FloatBox(1.5)),
		Entry("double", "double", marshal.FloatBox(3.5)),
	)

	It("rejects an unrecognized type name", func() {
		w := wire.NewWriter(8)
		Expect(marshal.EncodePrimitive(w, marshal.IntBox(1), "BigInteger")).To(HaveOccurred())
	})
})
