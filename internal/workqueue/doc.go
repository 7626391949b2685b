// Package workqueue implements a blocking FIFO queue shared between one
// producer (the accept loop) and a fixed set of consumers (pool workers).
//
// The queue is guarded by a single mutex with two condition variables:
// notEmpty wakes consumers blocked in Pop and notFull wakes producers
// blocked in Push when the queue has a capacity bound. A capacity of zero
// means the queue grows without limit and Push never blocks.
//
// Usage:
//
//	q := workqueue.New[net.Conn](0)
//	go func() {
//		for {
//			conn, err := q.Pop()
//			if err != nil {
//				return // queue closed and drained
//			}
//			serve(conn)
//		}
//	}()
//	q.Push(conn)
package workqueue
