// Package sys implements the system module: the handler bound to the system
// queue of every flow.
//
// System messages carry [SysMsgCookie] in their cookie field. Messages from
// older peers do not, and reuse the same kind numbers with other meanings;
// [Decode] separates the two generations so the handler never confuses them.
//
// The system module answers lifecycle and probe handshakes, runs timer
// callbacks serialised with the rest of a flow's traffic, and forwards
// fine-timing-measurement responses to their consumer.
//
//	opts := sys.Bind(sys.Config{Stopper: mac}, true)
//	s, err := sched.Open(sched.Config{EnableRX: true}, opts...)
//	...
//	if err := sys.Start(ctx, s, 5*time.Second); err != nil {
//	    ...
//	}
package sys
