// Package loopback provides in-memory implementations of the hal interfaces.
//
// [Bus] hands every written frame back to Read, as if the chip echoed it.
// [Firmware] and [Power] record the calls they receive. All three can be told
// to fail so callers can exercise their error paths:
//
//	bus := loopback.NewBus(64)
//	bus.FailWrites(pkg.ErrBus)
//
// Nothing here touches real hardware.
package loopback
