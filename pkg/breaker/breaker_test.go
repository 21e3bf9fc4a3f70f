package breaker_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/legacy-adapter/pkg/breaker"
	"github.com/Sternrassler/legacy-adapter/pkg/events"
)

// manualClock is advanced explicitly by the specs.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Breaker", func() {
	var (
		cb    *breaker.Breaker
		clock *manualClock
	)

	newBreaker := func(threshold int, reset time.Duration, opts ...breaker.Option) *breaker.Breaker {
		opts = append([]breaker.Option{
			breaker.WithClock(clock.Now),
			breaker.WithLogger(zerolog.Nop()),
		}, opts...)
		b, err := breaker.New(breaker.Config{Name: "crm", FailureThreshold: threshold, ResetTimeout: reset}, opts...)
		Expect(err).NotTo(HaveOccurred())
		return b
	}

	fail := func(b *breaker.Breaker) {
		ticket, err := b.Allow()
		Expect(err).NotTo(HaveOccurred())
		b.Report(ticket, breaker.Failure)
	}

	trip := func(b *breaker.Breaker, n int) {
		for i := 0; i < n; i++ {
			fail(b)
		}
	}

	BeforeEach(func() {
		clock = &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	})

	Describe("New", func() {
		It("should create a breaker in closed state", func() {
			cb = newBreaker(5, 30*time.Second)
			Expect(cb.State()).To(Equal(breaker.StateClosed))
			Expect(cb.Name()).To(Equal("crm"))
			Expect(cb.ConsecutiveFailures()).To(BeZero())
		})

		It("should reject invalid thresholds", func() {
			_, err := breaker.New(breaker.Config{Name: "x", FailureThreshold: 0, ResetTimeout: time.Second})
			Expect(err).To(HaveOccurred())
			_, err = breaker.New(breaker.Config{Name: "x", FailureThreshold: 1, ResetTimeout: 0})
			Expect(err).To(HaveOccurred())
		})

		It("should expose sane defaults", func() {
			cfg := breaker.DefaultConfig("crm")
			Expect(cfg.FailureThreshold).To(Equal(5))
			Expect(cfg.ResetTimeout).To(Equal(30 * time.Second))
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Describe("State transitions", func() {
		BeforeEach(func() {
			cb = newBreaker(3, 30*time.Second)
		})

		Context("when in closed state", func() {
			It("should allow requests", func() {
				_, err := cb.Allow()
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remain closed after failures below threshold", func() {
				trip(cb, 2)
				Expect(cb.State()).To(Equal(breaker.StateClosed))
				Expect(cb.ConsecutiveFailures()).To(Equal(2))
			})

			It("should transition to open after reaching failure threshold", func() {
				trip(cb, 3)
				Expect(cb.State()).To(Equal(breaker.StateOpen))
			})

			It("should reset the failure streak on success", func() {
				trip(cb, 2)
				ticket, _ := cb.Allow()
				cb.Report(ticket, breaker.Success)
				Expect(cb.ConsecutiveFailures()).To(BeZero())

				trip(cb, 2)
				Expect(cb.State()).To(Equal(breaker.StateClosed))
			})

			It("should not count ignored calls", func() {
				trip(cb, 2)
				ticket, _ := cb.Allow()
				cb.Report(ticket, breaker.Ignore)
				Expect(cb.ConsecutiveFailures()).To(Equal(2))
				Expect(cb.State()).To(Equal(breaker.StateClosed))
			})
		})

		Context("when in open state", func() {
			BeforeEach(func() {
				trip(cb, 3)
				Expect(cb.State()).To(Equal(breaker.StateOpen))
			})

			It("should reject requests with an OpenError", func() {
				_, err := cb.Allow()
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, breaker.ErrOpen)).To(BeTrue())

				var openErr *breaker.OpenError
				Expect(errors.As(err, &openErr)).To(BeTrue())
				Expect(openErr.Name).To(Equal("crm"))
				Expect(openErr.RetryAfter).To(Equal(30 * time.Second))
			})

			It("should shrink RetryAfter as time passes", func() {
				clock.Advance(10 * time.Second)
				_, err := cb.Allow()
				var openErr *breaker.OpenError
				Expect(errors.As(err, &openErr)).To(BeTrue())
				Expect(openErr.RetryAfter).To(Equal(20 * time.Second))
			})

			It("should remain open before reset timeout expires", func() {
				clock.Advance(29 * time.Second)
				_, err := cb.Allow()
				Expect(err).To(MatchError(breaker.ErrOpen))
				Expect(cb.State()).To(Equal(breaker.StateOpen))
			})

			It("should transition to half-open on the next call after reset timeout", func() {
				clock.Advance(30 * time.Second)
				Expect(cb.State()).To(Equal(breaker.StateOpen))

				ticket, err := cb.Allow()
				Expect(err).NotTo(HaveOccurred())
				Expect(ticket.Trial()).To(BeTrue())
				Expect(cb.State()).To(Equal(breaker.StateHalfOpen))
			})
		})

		Context("when in half-open state", func() {
			var trial breaker.Ticket

			BeforeEach(func() {
				trip(cb, 3)
				clock.Advance(30 * time.Second)
				var err error
				trial, err = cb.Allow()
				Expect(err).NotTo(HaveOccurred())
				Expect(cb.State()).To(Equal(breaker.StateHalfOpen))
			})

			It("should reject concurrent arrivals while the trial is in flight", func() {
				_, err := cb.Allow()
				Expect(err).To(MatchError(breaker.ErrOpen))

				var openErr *breaker.OpenError
				Expect(errors.As(err, &openErr)).To(BeTrue())
				Expect(openErr.State).To(Equal(breaker.StateHalfOpen))
			})

			It("should transition to closed on success", func() {
				cb.Report(trial, breaker.Success)
				Expect(cb.State()).To(Equal(breaker.StateClosed))
				Expect(cb.ConsecutiveFailures()).To(BeZero())

				_, err := cb.Allow()
				Expect(err).NotTo(HaveOccurred())
			})

			It("should transition back to open with a fresh openedAt on failure", func() {
				clock.Advance(5 * time.Second)
				cb.Report(trial, breaker.Failure)
				Expect(cb.State()).To(Equal(breaker.StateOpen))

				snap := cb.Snapshot()
				Expect(snap.OpenedAt).To(Equal(clock.Now()))
				Expect(snap.RetryAfter).To(Equal(30 * time.Second))

				clock.Advance(29 * time.Second)
				_, err := cb.Allow()
				Expect(err).To(MatchError(breaker.ErrOpen))
			})

			It("should free the trial slot when the trial is ignored", func() {
				cb.Report(trial, breaker.Ignore)
				Expect(cb.State()).To(Equal(breaker.StateHalfOpen))

				next, err := cb.Allow()
				Expect(err).NotTo(HaveOccurred())
				Expect(next.Trial()).To(BeTrue())
			})
		})
	})

	Describe("Stale tickets", func() {
		It("should ignore reports from before a transition", func() {
			cb = newBreaker(2, 30*time.Second)

			slow, err := cb.Allow()
			Expect(err).NotTo(HaveOccurred())

			trip(cb, 2)
			clock.Advance(30 * time.Second)
			trial, err := cb.Allow()
			Expect(err).NotTo(HaveOccurred())

			// The slow call from the closed period finishes during half-open.
			cb.Report(slow, breaker.Success)
			Expect(cb.State()).To(Equal(breaker.StateHalfOpen))

			cb.Report(trial, breaker.Failure)
			Expect(cb.State()).To(Equal(breaker.StateOpen))
		})
	})

	Describe("Concurrency", func() {
		It("should let exactly one caller win the half-open trial", func() {
			cb = newBreaker(1, time.Second)
			fail(cb)
			clock.Advance(time.Second)

			var (
				wg      sync.WaitGroup
				allowed atomic.Int32
				start   = make(chan struct{})
			)
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					<-start
					if _, err := cb.Allow(); err == nil {
						allowed.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			Expect(allowed.Load()).To(Equal(int32(1)))
			Expect(cb.State()).To(Equal(breaker.StateHalfOpen))
		})

		It("should keep counters consistent under concurrent reports", func() {
			cb = newBreaker(1000, time.Second)

			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					fail(cb)
				}()
			}
			wg.Wait()

			Expect(cb.ConsecutiveFailures()).To(Equal(100))
		})
	})

	Describe("Reset", func() {
		It("should close the circuit from any state", func() {
			cb = newBreaker(1, time.Minute)
			fail(cb)
			Expect(cb.State()).To(Equal(breaker.StateOpen))

			cb.Reset()
			Expect(cb.State()).To(Equal(breaker.StateClosed))
			Expect(cb.ConsecutiveFailures()).To(BeZero())
		})
	})

	Describe("Transition events", func() {
		It("should publish every state change", func() {
			bus := events.NewBus[breaker.Transition]("breaker-test")
			sub := bus.Subscribe(8, events.PolicyDropOldest)
			cb = newBreaker(1, time.Second, breaker.WithEvents(bus))

			fail(cb)
			clock.Advance(time.Second)
			trial, err := cb.Allow()
			Expect(err).NotTo(HaveOccurred())
			cb.Report(trial, breaker.Success)

			var got []breaker.State
			for i := 0; i < 3; i++ {
				var tr breaker.Transition
				Eventually(sub.C()).Should(Receive(&tr))
				Expect(tr.Name).To(Equal("crm"))
				got = append(got, tr.To)
			}
			Expect(got).To(Equal([]breaker.State{breaker.StateOpen, breaker.StateHalfOpen, breaker.StateClosed}))
		})

		It("should not block when the bus is closed", func() {
			bus := events.NewBus[breaker.Transition]("breaker-closed")
			bus.Close()
			cb = newBreaker(1, time.Second, breaker.WithEvents(bus))

			done := make(chan struct{})
			go func() {
				defer close(done)
				fail(cb)
			}()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("String", func() {
		It("should return correct string representations", func() {
			Expect(breaker.StateClosed.String()).To(Equal("closed"))
			Expect(breaker.StateOpen.String()).To(Equal("open"))
			Expect(breaker.StateHalfOpen.String()).To(Equal("half-open"))
			Expect(breaker.State(9).String()).To(Equal("unknown"))
			Expect(breaker.Success.String()).To(Equal("success"))
			Expect(breaker.Failure.String()).To(Equal("failure"))
			Expect(breaker.Ignore.String()).To(Equal("ignore"))
		})
	})
})
