package breaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/legacy-adapter/pkg/breaker"
)

var _ = Describe("Registry", func() {
	var registry *breaker.Registry

	BeforeEach(func() {
		var err error
		registry, err = breaker.NewRegistry(
			breaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute},
			breaker.WithLogger(zerolog.Nop()),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should reject invalid defaults", func() {
		_, err := breaker.NewRegistry(breaker.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("should return the same breaker for the same name", func() {
		a := registry.Get("customers")
		b := registry.Get("customers")
		Expect(a).To(BeIdenticalTo(b))
		Expect(a.Name()).To(Equal("customers"))
	})

	It("should isolate breakers by name", func() {
		cb := registry.Get("customers")
		for i := 0; i < 2; i++ {
			ticket, err := cb.Allow()
			Expect(err).NotTo(HaveOccurred())
			cb.Report(ticket, breaker.Failure)
		}

		Expect(registry.Get("customers").State()).To(Equal(breaker.StateOpen))
		Expect(registry.Get("payments").State()).To(Equal(breaker.StateClosed))

		stats := registry.Stats()
		Expect(stats).To(HaveKeyWithValue("customers", breaker.StateOpen))
		Expect(stats).To(HaveKeyWithValue("payments", breaker.StateClosed))
	})

	It("should list snapshots sorted by name", func() {
		registry.Get("payments")
		registry.Get("customers")

		snaps := registry.Snapshots()
		Expect(snaps).To(HaveLen(2))
		Expect(snaps[0].Name).To(Equal("customers"))
		Expect(snaps[1].Name).To(Equal("payments"))
		Expect(snaps[0].StateName).To(Equal("closed"))
	})

	It("should reset every breaker", func() {
		cb := registry.Get("customers")
		for i := 0; i < 2; i++ {
			ticket, _ := cb.Allow()
			cb.Report(ticket, breaker.Failure)
		}
		Expect(cb.State()).To(Equal(breaker.StateOpen))

		registry.Reset()
		Expect(cb.State()).To(Equal(breaker.StateClosed))
	})

	It("should create one breaker under concurrent access", func() {
		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			got = make(map[*breaker.Breaker]struct{})
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				cb := registry.Get("shared")
				mu.Lock()
				got[cb] = struct{}{}
				mu.Unlock()
			}()
		}
		wg.Wait()
		Expect(got).To(HaveLen(1))
	})
})
