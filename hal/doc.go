// Package hal defines the hardware abstraction consumed by the WLAN driver.
//
// The driver core never touches a bus, a firmware image or a power rail
// directly. It talks to three narrow collaborators:
//
//   - [BusHAL]: frame transport to the chip (SDIO, USB or PCI)
//   - [FirmwareLoader]: downloads a firmware image to the chip
//   - [PowerController]: moves the chip between power states
//
// Platform code implements these interfaces; package
// [github.com/ardnew/softwlan/hal/loopback] provides an in-memory
// implementation for tests and the wlanctl tool.
//
// # Implementing a HAL
//
//	type MyBus struct {
//	    // Platform-specific fields
//	}
//
//	func (b *MyBus) Init(ctx context.Context) error {
//	    // Claim the bus function and map registers
//	    return nil
//	}
//
//	func (b *MyBus) Write(ctx context.Context, frame []byte) (int, error) {
//	    // Queue frame to the transmit ring
//	    return len(frame), nil
//	}
//
// Read and Write must be safe to call concurrently with each other: the driver
// reads from a dedicated receive goroutine while the transmit worker writes.
package hal
