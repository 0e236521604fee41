// Package sched implements the inter-module message scheduler of the softwlan
// control plane.
//
// Every subsystem communicates through typed messages posted to a
// [Destination] on a [Flow]. Each flow has one worker goroutine that sleeps
// until work is signaled and then drains its queues in a fixed order:
//
//	mc: sys, wda, pe, sme, tl
//	tx: sys, tl, wda
//	rx: sys, tl, wda   (only with Config.EnableRX)
//
// Each queue is drained whole; messages posted during a drain are handled on
// the next pass. Order is FIFO per queue and unspecified across queues.
//
// # Lifecycle
//
//	s, err := sched.Open(sched.Config{Capacity: 512},
//	    sched.WithHandler(sched.FlowMC, sched.DestSystem, sysHandler),
//	    sched.WithHandler(sched.FlowTX, sched.DestDataPath, txHandler),
//	)
//	...
//	defer s.Close()
//
// # Handshakes
//
// [Scheduler.CallAndWait] turns a message into a blocking call. The far-side
// handler receives a [Completion] payload and completes it when done:
//
//	func (h *handler) HandleMessage(ctx context.Context, msg mq.Message) error {
//	    c := msg.Payload.(sched.Completion)
//	    c.Complete(h.stop(ctx))
//	    return nil
//	}
//
// Completion records live on the heap and are reference counted between the
// caller and the far side, so a completion that arrives after the caller
// timed out is counted and ignored.
//
// # Faults
//
// Envelope starvation past the configured limit and strict handshake timeouts
// are passed to Config.OnFault. Without one the scheduler logs and panics.
package sched
