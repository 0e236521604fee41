package mq

import "fmt"

// Message is one unit of work routed to a destination queue.
//
// Payload is owned by whoever currently holds the message. Posting a message
// moves the payload into the scheduler; the dispatch handler that receives it
// becomes the owner and must either hand it on or release it. A payload that
// implements [Releaser] is released with [Release] on every drop path.
type Message struct {
	Kind    uint16 // Message type within its generation
	Cookie  uint16 // Generation discriminant; 0 for legacy messages
	Payload any    // Owned body, may be nil
	Value   uint64 // Scalar body
}

// String returns a short description for logging.
func (m Message) String() string {
	return fmt.Sprintf("kind=0x%04x cookie=0x%04x value=%d payload=%T",
		m.Kind, m.Cookie, m.Value, m.Payload)
}

// Releaser is implemented by payloads holding resources that must be returned
// when the message is dropped or consumed, e.g. pooled frame buffers.
type Releaser interface {
	Release()
}

// Release releases the message payload if it implements [Releaser] and clears
// it, so a second call is a no-op.
func Release(m *Message) {
	if m == nil || m.Payload == nil {
		return
	}
	if r, ok := m.Payload.(Releaser); ok {
		r.Release()
	}
	m.Payload = nil
}
