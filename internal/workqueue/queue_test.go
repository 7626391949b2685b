package workqueue_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/conn-dispatcher/internal/workqueue"
)

var _ = Describe("Queue", func() {
	DescribeTable("pops items in push order",
		func(n int) {
			q := workqueue.New[int](0)
			for i := 0; i < n; i++ {
				Expect(q.Push(i)).To(Succeed())
			}
			Expect(q.Len()).To(Equal(n))

			for i := 0; i < n; i++ {
				item, err := q.Pop()
				Expect(err).NotTo(HaveOccurred())
				Expect(item).To(Equal(i))
			}
			Expect(q.Len()).To(Equal(0))
		},
		Entry("no items", 0),
		Entry("one item", 1),
		Entry("a few items", 7),
		Entry("enough items to compact", 1000),
	)

	It("keeps order when pushes and pops interleave", func() {
		q := workqueue.New[int](0)
		next := 0
		for round := 0; round < 50; round++ {
			for i := 0; i < 5; i++ {
				Expect(q.Push(round*5 + i)).To(Succeed())
			}
			for i := 0; i < 3; i++ {
				item, err := q.Pop()
				Expect(err).NotTo(HaveOccurred())
				Expect(item).To(Equal(next))
				next++
			}
		}
		for q.Len() > 0 {
			item, err := q.Pop()
			Expect(err).NotTo(HaveOccurred())
			Expect(item).To(Equal(next))
			next++
		}
		Expect(next).To(Equal(250))
	})

	Describe("Pop", func() {
		It("blocks until an item is pushed", func() {
			q := workqueue.New[string](0)
			got := make(chan string, 1)

			go func() {
				defer GinkgoRecover()
				item, err := q.Pop()
				Expect(err).NotTo(HaveOccurred())
				got <- item
			}()

			Consistently(got, 50*time.Millisecond).ShouldNot(Receive())
			Expect(q.Push("conn")).To(Succeed())
			Eventually(got).Should(Receive(Equal("conn")))
		})
	})

	Describe("concurrent producers and consumers", func() {
		It("delivers every item exactly once", func() {
			const producers = 4
			const perProducer = 500
			const consumers = 8

			q := workqueue.New[int](0)

			var mutex sync.Mutex
			seen := make(map[int]int)

			var consumersWG sync.WaitGroup
			for c := 0; c < consumers; c++ {
				consumersWG.Add(1)
				go func() {
					defer consumersWG.Done()
					for {
						item, err := q.Pop()
						if err != nil {
							return
						}
						mutex.Lock()
						seen[item]++
						mutex.Unlock()
					}
				}()
			}

			var producersWG sync.WaitGroup
			for p := 0; p < producers; p++ {
				producersWG.Add(1)
				go func(p int) {
					defer producersWG.Done()
					for i := 0; i < perProducer; i++ {
						_ = q.Push(p*perProducer + i)
					}
				}(p)
			}

			producersWG.Wait()
			q.Close()
			consumersWG.Wait()

			Expect(seen).To(HaveLen(producers * perProducer))
			for item, count := range seen {
				Expect(count).To(Equal(1), "item %d", item)
			}
		})
	})

	Describe("bounded capacity", func() {
		It("blocks Push while full and resumes after Pop", func() {
			q := workqueue.New[int](2)
			Expect(q.Capacity()).To(Equal(2))
			Expect(q.Push(1)).To(Succeed())
			Expect(q.Push(2)).To(Succeed())

			pushed := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				Expect(q.Push(3)).To(Succeed())
				close(pushed)
			}()

			Consistently(pushed, 50*time.Millisecond).ShouldNot(BeClosed())

			item, err := q.Pop()
			Expect(err).NotTo(HaveOccurred())
			Expect(item).To(Equal(1))
			Eventually(pushed).Should(BeClosed())
			Expect(q.Len()).To(Equal(2))
		})

		It("treats negative capacity as unbounded", func() {
			q := workqueue.New[int](-3)
			Expect(q.Capacity()).To(Equal(0))
			for i := 0; i < 10; i++ {
				Expect(q.Push(i)).To(Succeed())
			}
		})
	})

	Describe("Close", func() {
		It("wakes blocked consumers with ErrClosed", func() {
			q := workqueue.New[int](0)
			errCh := make(chan error, 1)

			go func() {
				_, err := q.Pop()
				errCh <- err
			}()

			Consistently(errCh, 30*time.Millisecond).ShouldNot(Receive())
			q.Close()
			Eventually(errCh).Should(Receive(MatchError(workqueue.ErrClosed)))
		})

		It("drains queued items before failing", func() {
			q := workqueue.New[int](0)
			Expect(q.Push(1)).To(Succeed())
			Expect(q.Push(2)).To(Succeed())
			q.Close()

			Expect(q.Push(3)).To(MatchError(workqueue.ErrClosed))

			item, err := q.Pop()
			Expect(err).NotTo(HaveOccurred())
			Expect(item).To(Equal(1))
			item, err = q.Pop()
			Expect(err).NotTo(HaveOccurred())
			Expect(item).To(Equal(2))

			_, err = q.Pop()
			Expect(err).To(MatchError(workqueue.ErrClosed))
		})

		It("releases producers blocked on a full queue", func() {
			q := workqueue.New[int](1)
			Expect(q.Push(1)).To(Succeed())

			errCh := make(chan error, 1)
			go func() {
				errCh <- q.Push(2)
			}()

			Consistently(errCh, 30*time.Millisecond).ShouldNot(Receive())
			q.Close()
			Eventually(errCh).Should(Receive(MatchError(workqueue.ErrClosed)))
		})

		It("is safe to call twice", func() {
			q := workqueue.New[int](0)
			q.Close()
			Expect(func() { q.Close() }).NotTo(Panic())
		})
	})
})
