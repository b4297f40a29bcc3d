// Package bus implements MessageBus (spec §4.6): named, bounded FIFO
// queues per agent, carrying typed envelopes point-to-point or by
// broadcast.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Performative is the speech-act tag of an envelope (spec §4.6).
type Performative string

const (
	PerformativeRequest Performative = "REQUEST"
	PerformativeInform   Performative = "INFORM"
	PerformativeQuery    Performative = "QUERY"
	PerformativeReply    Performative = "REPLY"
	PerformativeFailure  Performative = "FAILURE"
	PerformativeCancel   Performative = "CANCEL"
)

// Broadcast is the reserved receiver id meaning "every registered queue".
const Broadcast = "broadcast"

// Envelope is the unit of exchange on the bus.
type Envelope struct {
	Performative   Performative
	Sender         string
	Receiver       string
	ConversationID uuid.UUID
	Content        interface{}
	Timestamp      time.Time
}

// NewConversationID generates a fresh conversation id for a new
// request/reply exchange.
func NewConversationID() uuid.UUID {
	return uuid.New()
}

// Reply builds a REPLY envelope echoing the request's conversation id, as
// required by spec §4.6 ("replies must echo").
func Reply(request Envelope, from string, content interface{}, now time.Time) Envelope {
	return Envelope{
		Performative:   PerformativeReply,
		Sender:         from,
		Receiver:       request.Sender,
		ConversationID: request.ConversationID,
		Content:        content,
		Timestamp:      now,
	}
}

// Failure builds a FAILURE envelope echoing the request's conversation id.
func Failure(request Envelope, from string, content interface{}, now time.Time) Envelope {
	return Envelope{
		Performative:   PerformativeFailure,
		Sender:         from,
		Receiver:       request.Sender,
		ConversationID: request.ConversationID,
		Content:        content,
		Timestamp:      now,
	}
}
