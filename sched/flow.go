package sched

import (
	"fmt"

	"github.com/ardnew/softwlan/pkg"
)

// Flow identifies a worker lane. Each flow has its own worker goroutine and
// its own set of destination queues.
type Flow uint8

// Flows.
const (
	FlowMC Flow = iota // Control plane ("main controller")
	FlowTX             // Fast path, transmit
	FlowRX             // Optional receive path

	numFlows
)

// String returns the short flow name.
func (f Flow) String() string {
	switch f {
	case FlowMC:
		return "mc"
	case FlowTX:
		return "tx"
	case FlowRX:
		return "rx"
	default:
		return fmt.Sprintf("flow(%d)", uint8(f))
	}
}

// Flows returns every flow in worker start order.
func Flows() []Flow {
	return []Flow{FlowMC, FlowTX, FlowRX}
}

// ParseFlow parses a flow name as printed by [Flow.String].
func ParseFlow(s string) (Flow, error) {
	for _, f := range Flows() {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: flow %q", pkg.ErrInvalidParameter, s)
}

// Destination identifies the subsystem that owns a queue.
type Destination uint8

// Destinations.
const (
	DestSystem     Destination = iota // System module
	DestTransport                     // Transport/device adaptation
	DestMobility                      // Mobility manager (protocol engine)
	DestManagement                    // Station management entity
	DestDataPath                      // Data path (transport layer)

	numDestinations
)

// String returns the short destination name.
func (d Destination) String() string {
	switch d {
	case DestSystem:
		return "sys"
	case DestTransport:
		return "wda"
	case DestMobility:
		return "pe"
	case DestManagement:
		return "sme"
	case DestDataPath:
		return "tl"
	default:
		return fmt.Sprintf("dest(%d)", uint8(d))
	}
}

// ParseDestination parses a destination name as printed by
// [Destination.String].
func ParseDestination(s string) (Destination, error) {
	for d := Destination(0); d < numDestinations; d++ {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: destination %q", pkg.ErrInvalidParameter, s)
}

// layout lists the queues of each flow in service order. The system queue is
// always drained first so lifecycle and probe requests are not starved by
// traffic.
var layout = [numFlows][]Destination{
	FlowMC: {DestSystem, DestTransport, DestMobility, DestManagement, DestDataPath},
	FlowTX: {DestSystem, DestDataPath, DestTransport},
	FlowRX: {DestSystem, DestDataPath, DestTransport},
}

// Destinations returns the destinations served by flow, in service order.
func Destinations(flow Flow) []Destination {
	if flow >= numFlows {
		return nil
	}
	return append([]Destination(nil), layout[flow]...)
}
