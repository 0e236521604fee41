package sys

import (
	"fmt"

	"github.com/ardnew/softwlan/mq"
)

// SysMsgCookie marks a message as belonging to the current system message
// generation.
const SysMsgCookie uint16 = 0xFACE

// Kind is a system message type.
type Kind uint16

// System message kinds.
const (
	MsgMCStart       Kind = iota + 1 // Start the control plane (handshake)
	MsgMCStop                        // Stop the upper MAC (handshake)
	MsgMCThreadProbe                 // Control flow liveness probe (handshake)
	MsgMCTimer                       // Timer expiry on the control flow
	MsgTXThreadProbe                 // Transmit flow liveness probe (handshake)
	MsgTXTimer                       // Timer expiry on the transmit flow
	MsgRXTimer                       // Timer expiry on the receive flow
	MsgFTMResponse                   // Fine timing measurement response
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case MsgMCStart:
		return "mc-start"
	case MsgMCStop:
		return "mc-stop"
	case MsgMCThreadProbe:
		return "mc-probe"
	case MsgMCTimer:
		return "mc-timer"
	case MsgTXThreadProbe:
		return "tx-probe"
	case MsgTXTimer:
		return "tx-timer"
	case MsgRXTimer:
		return "rx-timer"
	case MsgFTMResponse:
		return "ftm-response"
	default:
		return fmt.Sprintf("kind(0x%04x)", uint16(k))
	}
}

// Generation distinguishes current system messages from legacy ones.
type Generation uint8

// Message generations.
const (
	GenerationLegacy Generation = iota
	GenerationSys
)

// String returns the generation name.
func (g Generation) String() string {
	if g == GenerationSys {
		return "sys"
	}
	return "legacy"
}

// Request is a decoded system queue message.
type Request struct {
	Generation Generation
	Kind       Kind // Meaningful only for GenerationSys
	Msg        mq.Message
}

// Decode tags msg with its generation.
func Decode(msg mq.Message) Request {
	if msg.Cookie != SysMsgCookie {
		return Request{Generation: GenerationLegacy, Msg: msg}
	}
	return Request{Generation: GenerationSys, Kind: Kind(msg.Kind), Msg: msg}
}

// Message builds a current-generation system message.
func Message(kind Kind, payload any) mq.Message {
	return mq.Message{Kind: uint16(kind), Cookie: SysMsgCookie, Payload: payload}
}
