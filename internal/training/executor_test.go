package training_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/training"
)

var _ = Describe("Executor Tests", func() {
	atom := zap.NewAtomicLevelAt(zap.DebugLevel)

	It("Will run submitted tasks on the worker pool", func() {
		executor := training.NewExecutor(2, 8, &atom)
		defer executor.Shutdown()

		var wg sync.WaitGroup
		var mutex sync.Mutex
		ran := make([]string, 0)

		for _, id := range []string{"s1", "s2", "s3"} {
			wg.Add(1)
			sessionID := id
			err := executor.Submit(sessionID, func() {
				defer wg.Done()
				mutex.Lock()
				ran = append(ran, sessionID)
				mutex.Unlock()
			})
			Expect(err).To(BeNil())
		}

		wg.Wait()
		Expect(ran).To(ConsistOf("s1", "s2", "s3"))
	})

	It("Will return from Submit without waiting for the task to run", func() {
		executor := training.NewExecutor(1, 8, &atom)
		defer executor.Shutdown()

		release := make(chan struct{})
		done := make(chan struct{})
		Expect(executor.Submit("blocker", func() {
			<-release
			close(done)
		})).To(BeNil())

		start := time.Now()
		Expect(executor.Submit("queued", func() {})).To(BeNil())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))

		close(release)
		Eventually(done).Should(BeClosed())
	})

	It("Will fail fast when the queue is full instead of dropping tasks", func() {
		executor := training.NewExecutor(1, 1, &atom)
		defer executor.Shutdown()

		release := make(chan struct{})
		defer close(release)
		Expect(executor.Submit("running", func() { <-release })).To(BeNil())

		// The single worker is blocked; fill the one queue slot, then overflow.
		Eventually(func() error {
			return executor.Submit("queued", func() { <-release })
		}).Should(BeNil())

		Consistently(func() error {
			return executor.Submit("overflow", func() {})
		}, 200*time.Millisecond, 50*time.Millisecond).ShouldNot(BeNil())
	})

	It("Will survive a panicking task and keep serving the pool", func() {
		executor := training.NewExecutor(1, 8, &atom)
		defer executor.Shutdown()

		Expect(executor.Submit("bad", func() { panic("boom") })).To(BeNil())

		done := make(chan struct{})
		Expect(executor.Submit("good", func() { close(done) })).To(BeNil())
		Eventually(done).Should(BeClosed())
	})

	It("Will wait for in-flight work during Shutdown", func() {
		executor := training.NewExecutor(1, 8, &atom)

		var finished bool
		started := make(chan struct{})
		Expect(executor.Submit("slow", func() {
			close(started)
			time.Sleep(100 * time.Millisecond)
			finished = true
		})).To(BeNil())

		<-started
		executor.Shutdown()
		Expect(finished).To(BeTrue())
	})
})
