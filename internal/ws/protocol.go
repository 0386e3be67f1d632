package ws

import (
	"encoding/json"
	"time"

	"github.com/lacrioque/beads-web-ui/internal/issue"
)

type MessageType string

const (
	MsgPing     MessageType = "ping"
	MsgPong     MessageType = "pong"
	MsgMutation MessageType = "mutation"
	MsgError    MessageType = "error"
)

// Envelope is the push-channel message format in both directions. The
// server sends ping greetings/keepalives and mutation broadcasts; the
// observer sends pong liveness acknowledgments, and everything else is
// ignored.
type Envelope struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// inboundEnvelope is the loosely-decoded observer message. Only the type
// matters; data is kept raw and unused today.
type inboundEnvelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func newEnvelope(typ MessageType, data interface{}) Envelope {
	return Envelope{
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// MutationData is the data payload of a mutation envelope.
type MutationData struct {
	Mutations []issue.MutationRecord `json:"mutations"`
}

// NewMutationEnvelope wraps a batch of mutation records for broadcast.
func NewMutationEnvelope(records []issue.MutationRecord) Envelope {
	return newEnvelope(MsgMutation, MutationData{Mutations: records})
}
