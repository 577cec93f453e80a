package juggernaut

import (
	"encoding/json"
	"strconv"
	"time"
)

// Message is one broadcast payload as delivered to one connection. The
// sequence id is allocated from the receiving connection's counter (gap-free,
// starting at 1); the signature names the connection the broadcast originated
// from.
type Message struct {
	ID        uint64
	Body      json.RawMessage
	Signature string
	CreatedAt time.Time
}

func newMessage(id uint64, body json.RawMessage, signature string) *Message {
	return &Message{ID: id, Body: body, Signature: signature, CreatedAt: time.Now()}
}

type wireMessage struct {
	ID        string          `json:"id"`
	Body      json.RawMessage `json:"body"`
	Signature string          `json:"signature"`
}

// MarshalJSON writes the wire form: the id as a decimal string, the body
// verbatim, the signature.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:        strconv.FormatUint(m.ID, 10),
		Body:      m.Body,
		Signature: m.Signature,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, err := strconv.ParseUint(w.ID, 10, 64)
	if err != nil {
		return err
	}
	m.ID = id
	m.Body = w.Body
	m.Signature = w.Signature
	return nil
}
