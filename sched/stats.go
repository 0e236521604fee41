package sched

import "github.com/ardnew/softwlan/mq"

// QueueStats reports one destination queue.
type QueueStats struct {
	Flow Flow
	Dest Destination
	mq.QueueStats

	Dispatched uint64 // Handler returned nil
	Failed     uint64 // Handler returned an error
	Dropped    uint64 // No handler, or discarded at shutdown
}

// WorkerStats reports one flow worker.
type WorkerStats struct {
	Flow     Flow
	State    WorkerState
	Batches  uint64
	Messages uint64
}

// HandshakeStats reports handshake outcomes.
type HandshakeStats struct {
	Started   uint64
	Completed uint64
	TimedOut  uint64
	Cancelled uint64
	Late      uint64 // Far side completed after the caller gave up
	Recycled  uint64 // Completion records reused from the free list
}

// Stats is a point-in-time snapshot of the scheduler.
type Stats struct {
	Pool       mq.PoolStats
	Queues     []QueueStats
	Workers    []WorkerStats
	Handshakes HandshakeStats
}

// Stats returns a snapshot of pool, queue, worker and handshake counters.
// Counters are read individually, so the snapshot is not atomic as a whole.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Pool: s.pool.Stats(),
		Handshakes: HandshakeStats{
			Started:   s.hsStats.started.Load(),
			Completed: s.hsStats.completed.Load(),
			TimedOut:  s.hsStats.timedOut.Load(),
			Cancelled: s.hsStats.cancelled.Load(),
			Late:      s.hsStats.late.Load(),
			Recycled:  s.hsStats.recycled.Load(),
		},
	}
	for _, w := range s.workers {
		if w == nil {
			continue
		}
		st.Workers = append(st.Workers, WorkerStats{
			Flow:     w.flow,
			State:    w.State(),
			Batches:  w.batches.Load(),
			Messages: w.messages.Load(),
		})
		for _, rq := range w.routes {
			st.Queues = append(st.Queues, QueueStats{
				Flow:       w.flow,
				Dest:       rq.dest,
				QueueStats: rq.queue.Stats(),
				Dispatched: rq.dispatched.Load(),
				Failed:     rq.failed.Load(),
				Dropped:    rq.dropped.Load(),
			})
		}
	}
	return st
}

// Queue returns the stats of one queue.
func (st Stats) Queue(flow Flow, dest Destination) (QueueStats, bool) {
	for _, q := range st.Queues {
		if q.Flow == flow && q.Dest == dest {
			return q, true
		}
	}
	return QueueStats{}, false
}
