package handles_test

import (
	"sync"
	"time"

	"github.com/watt-toolkit/pjrmi/cmn/hk"
	"github.com/watt-toolkit/pjrmi/registry/handles"
	"github.com/watt-toolkit/pjrmi/registry/types"
	"github.com/watt-toolkit/pjrmi/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// recordingSender captures every DROP_REFERENCES payload sent to it,
// decoding the handle list back out for assertions.
type recordingSender struct {
	mu    sync.Mutex
	sent  [][]int64
	calls int
}

func (s *recordingSender) Send(msgType wire.MsgType, payload []byte) error {
	Expect(msgType).To(Equal(wire.DropReferences))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	r := wire.NewReader(payload)
	n, err := r.Int()
	Expect(err).NotTo(HaveOccurred())
	handles := make([]int64, n)
	for i := range handles {
		h, err := r.Long()
		Expect(err).NotTo(HaveOccurred())
		handles[i] = h
	}
	s.sent = append(s.sent, handles)
	return nil
}

func (s *recordingSender) flatten() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, batch := range s.sent {
		out = append(out, batch...)
	}
	return out
}

var _ = Describe("Registry", func() {
	var (
		sender *recordingSender
		keeper *hk.Housekeeper
		reg    *handles.Registry
	)

	BeforeEach(func() {
		sender = &recordingSender{}
		keeper = hk.New(10 * time.Millisecond)
		reg = handles.NewRegistry(sender, keeper)
	})

	It("flushes immediately once the pending batch reaches the threshold", func() {
		proxies := make([]*handles.Proxy, 0, 150)
		for i := 1; i <= 150; i++ {
			proxies = append(proxies, reg.NewProxy(handles.Handle(i), &types.Descriptor{ID: 1, Name: "java.lang.Object"}))
		}

		// simulate what the GC finalizer does on unreachability, without
		// depending on actual garbage-collection timing.
		for _, p := range proxies {
			reg.ForceDrop(p.Handle)
		}
		reg.Flush() // periodic tick equivalent: flush whatever didn't cross the threshold

		Expect(sender.calls).To(BeNumerically("<=", 2), "spec.md scenario 6: at most two DROP_REFERENCES frames for 150 drops")

		got := sender.flatten()
		Expect(got).To(HaveLen(150))

		seen := make(map[int64]bool, len(got))
		for _, h := range got {
			Expect(seen[h]).To(BeFalse(), "duplicate handle in drop batch: %d", h)
			seen[h] = true
		}
	})

	It("flushes the remainder on the periodic tick even below threshold", func() {
		reg.ForceDrop(handles.Handle(7))
		Expect(reg.Pending()).To(Equal(1))

		reg.Flush()
		Expect(reg.Pending()).To(Equal(0))
		Expect(sender.flatten()).To(Equal([]int64{7}))
	})

	It("does not enqueue the null handle", func() {
		reg.ForceDrop(handles.Null)
		Expect(reg.Pending()).To(Equal(0))
	})
})
