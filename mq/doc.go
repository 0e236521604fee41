// Package mq implements the message envelope pool and the per-destination
// message queues of the softwlan scheduler.
//
// # Envelopes
//
// A [Pool] holds a fixed number of [Envelope] slots allocated once. Every
// queued message occupies one envelope, so the number of in-flight messages is
// bounded by the pool capacity:
//
//	pool, _ := mq.NewPool(512)
//	q := mq.NewQueue("mc/pe", pool, wake)
//	if err := q.Enqueue(mq.Message{Kind: 0x10}); errors.Is(err, pkg.ErrResourceExhausted) {
//	    // shed load
//	}
//
// An empty pool is not an error condition for the pool itself: [Pool.Acquire]
// reports false and counts a miss. Consecutive misses past the starvation
// limit invoke the [Pool.OnStarvation] callback once per episode.
//
// # Draining
//
// The consumer detaches a whole queue at once with [Queue.DrainAll] and walks
// the resulting [Batch] outside the queue lock:
//
//	b := q.DrainAll()
//	for msg := range b.All() {
//	    handle(msg)
//	}
//
// Per-queue order is FIFO. Nothing is guaranteed across queues.
//
// # Payload ownership
//
// [Message.Payload] moves with the message. Drop paths call [Release], which
// invokes [Releaser.Release] on payloads that hold pooled resources.
package mq
