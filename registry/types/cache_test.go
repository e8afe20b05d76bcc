package types_test

import (
	"os"
	"path/filepath"

	"github.com/watt-toolkit/pjrmi/registry/types"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type cache", func() {
	It("round-trips a populated registry through SaveCache/LoadCache", func() {
		caller := &fakeCaller{byName: map[string]*types.Descriptor{
			"java.lang.Object": {ID: 1, Name: "java.lang.Object", Methods: map[string][]types.Method{}},
			"com.example.Widget": {
				ID:   2,
				Name: "com.example.Widget",
				Fields: []types.Field{
					{Name: "count", FieldTypeID: 3},
				},
				Constructors: []types.Method{
					{Index: 0, ArgTypeIDs: []types.ID{3}, Specificity: []int8{}},
				},
				Methods: map[string][]types.Method{
					"getCount": {
						{
							Index:        1,
							ReturnTypeID: 3,
							ArgTypeIDs:   nil,
							ParamNames:   []string{},
							KwargNames:   []string{}, // accepts no kwargs, distinct from nil
							Specificity:  []int8{0},
						},
					},
				},
			},
		}}
		reg := types.NewRegistry(caller)

		_, err := reg.ClassForName("java.lang.Object")
		Expect(err).NotTo(HaveOccurred())
		_, err = reg.ClassForName("com.example.Widget")
		Expect(err).NotTo(HaveOccurred())

		dir, err := os.MkdirTemp("", "pjrmi-typecache")
		Expect(err).NotTo(HaveOccurred())
		path := filepath.Join(dir, "types.cache")
		Expect(reg.SaveCache(path)).To(Succeed())

		restored := types.NewRegistry(&fakeCaller{byName: map[string]*types.Descriptor{}})
		Expect(restored.LoadCache(path)).To(Succeed())

		d, err := restored.ClassForID(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Name).To(Equal("com.example.Widget"))
		Expect(d.Fields).To(HaveLen(1))
		Expect(d.Fields[0].FieldTypeID).To(Equal(types.ID(3)))
		Expect(d.Constructors).To(HaveLen(1))
		Expect(d.Constructors[0].ArgTypeIDs).To(Equal([]types.ID{3}))
		Expect(d.Methods["getCount"]).To(HaveLen(1))
		Expect(d.Methods["getCount"][0].ReturnTypeID).To(Equal(types.ID(3)))
		Expect(d.Methods["getCount"][0].KwargNames).NotTo(BeNil())
	})

	It("never overwrites an id already cached from the wire", func() {
		caller := &fakeCaller{byName: map[string]*types.Descriptor{
			"java.lang.Object": {ID: 1, Name: "java.lang.Object", Methods: map[string][]types.Method{}},
		}}
		reg := types.NewRegistry(caller)
		live, err := reg.ClassForName("java.lang.Object")
		Expect(err).NotTo(HaveOccurred())

		dir, err := os.MkdirTemp("", "pjrmi-typecache-stale")
		Expect(err).NotTo(HaveOccurred())
		path := filepath.Join(dir, "stale.cache")
		stale := types.NewRegistry(&fakeCaller{byName: map[string]*types.Descriptor{}})
		Expect(stale.LoadCache(path)).To(HaveOccurred(), "file does not exist yet")

		// Seed a cache file with a different name for id 1 than what's live.
		seed := types.NewRegistry(&fakeCaller{byName: map[string]*types.Descriptor{
			"stale.Name": {ID: 1, Name: "stale.Name", Methods: map[string][]types.Method{}},
		}})
		_, err = seed.ClassForName("stale.Name")
		Expect(err).NotTo(HaveOccurred())
		Expect(seed.SaveCache(path)).To(Succeed())

		Expect(reg.LoadCache(path)).To(Succeed())
		still, err := reg.ClassForID(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(still).To(BeIdenticalTo(live), "LoadCache must not replace an already-cached descriptor")
	})
})
