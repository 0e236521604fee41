// Package driver ties the scheduler, the system module and the hal
// collaborators into a running WLAN driver instance.
//
// A [Driver] owns one [sched.Scheduler]. Bring-up runs in order:
//
//  1. Open the scheduler with the system, transport and data path handlers
//  2. Initialize and start the bus
//  3. Start handshake with the system module
//  4. Firmware download handshake through the transport queue
//  5. Start the receive pump
//
// Frames sent with [Driver.Send] are copied into pooled buffers, queued on
// the transmit data path and written to the bus by the transmit worker.
// Frames read from the bus are queued on the receive data path and delivered
// to the [Driver.OnReceive] callback.
//
// # Example
//
//	bus := loopback.NewBus(0)
//	d, err := driver.New(driver.Config{FirmwareImage: image}, bus,
//	    loopback.NewFirmware(), loopback.NewPower())
//	if err != nil {
//	    return err
//	}
//	if err := d.Start(ctx); err != nil {
//	    return err
//	}
//	defer d.Stop(context.Background())
//
//	d.OnReceive(func(frame []byte) {
//	    // frame is only valid during the callback
//	})
//	d.Send(ctx, frame)
package driver
