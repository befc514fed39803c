// Package message defines the immutable envelope exchanged between nodes.
//
// A Message built in process keeps its value and encodes it only when a
// transport asks for the payload; a Message received from a transport keeps
// the payload bytes and decodes them on first access. Both results are
// memoized per envelope and shared by every envelope derived from it with
// WithSender.
package message

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flexrobotics/roboflex/serialization"
)

// UnsetSequence marks a message that no sender has stamped yet.
const UnsetSequence int64 = -1

// Message is safe for concurrent use. Values returned by Value and Get are
// shared between all receivers and must be treated as read-only.
type Message struct {
	meta serialization.Meta
	body *body

	payloadMu sync.Mutex
	payload   []byte
}

// body is the content shared by an envelope and its restamped copies.
type body struct {
	mu      sync.Mutex
	value   any
	decoded bool
	// origin is the payload the body was received as, if any.
	origin []byte
}

// New creates an unstamped message carrying value.
func New(moduleName, messageName string, value any) *Message {
	return &Message{
		meta: serialization.Meta{
			Timestamp:   time.Now(),
			Sequence:    UnsetSequence,
			ModuleName:  moduleName,
			MessageName: messageName,
		},
		body: &body{value: value, decoded: true},
	}
}

// FromPayload wraps bytes received from a transport. Only the metadata is
// read now; the value is decoded on first use. payload must not be modified
// afterwards.
func FromPayload(payload []byte) (*Message, error) {
	meta, err := serialization.DecodeMeta(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		meta:    meta,
		body:    &body{origin: payload},
		payload: payload,
	}, nil
}

// WithSender returns a copy stamped with a sender identity and sequence
// number. The copy shares the value, the decode cell and the timestamp.
func (m *Message) WithSender(id uuid.UUID, name string, sequence int64) *Message {
	meta := m.meta
	meta.SenderID = id
	meta.SenderName = name
	meta.Sequence = sequence
	return &Message{meta: meta, body: m.body}
}

func (m *Message) ModuleName() string   { return m.meta.ModuleName }
func (m *Message) MessageName() string  { return m.meta.MessageName }
func (m *Message) Timestamp() time.Time { return m.meta.Timestamp }
func (m *Message) Sequence() int64      { return m.meta.Sequence }
func (m *Message) SenderID() uuid.UUID  { return m.meta.SenderID }
func (m *Message) SenderName() string   { return m.meta.SenderName }

// Meta returns the routing metadata.
func (m *Message) Meta() serialization.Meta { return m.meta }

// Value returns the decoded content. A decode failure is returned every time
// it is attempted; only a successful decode is cached.
func (m *Message) Value() (any, error) {
	b := m.body
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.decoded {
		return b.value, nil
	}
	_, v, err := serialization.DecodeMessage(b.origin)
	if err != nil {
		return nil, err
	}
	b.value = v
	b.decoded = true
	return v, nil
}

// Get looks up key in a map-valued message. ok is false when the value is
// not a map or has no such key.
func (m *Message) Get(key string) (v any, ok bool, err error) {
	value, err := m.Value()
	if err != nil {
		return nil, false, err
	}
	mv, isMap := value.(map[string]any)
	if !isMap {
		return nil, false, nil
	}
	v, ok = mv[key]
	return v, ok, nil
}

// Payload returns the encoded form. The bytes are produced once per envelope
// and must not be modified.
func (m *Message) Payload() ([]byte, error) {
	m.payloadMu.Lock()
	defer m.payloadMu.Unlock()

	if m.payload != nil {
		return m.payload, nil
	}

	var (
		p   []byte
		err error
	)
	if origin := m.body.origin; origin != nil {
		p, err = serialization.Restamp(origin, m.meta.Sequence, m.meta.SenderID, m.meta.SenderName)
	}
	if p == nil {
		var v any
		if v, err = m.Value(); err != nil {
			return nil, err
		}
		if p, err = serialization.EncodeMessage(m.meta, v); err != nil {
			return nil, err
		}
	}
	m.payload = p
	return p, nil
}

// Size returns the encoded size in bytes, encoding if necessary.
func (m *Message) Size() int {
	p, err := m.Payload()
	if err != nil {
		return 0
	}
	return len(p)
}

func (m *Message) String() string {
	return fmt.Sprintf("Message %s/%s #%d from %q at %s",
		m.meta.ModuleName, m.meta.MessageName, m.meta.Sequence, m.meta.SenderName,
		m.meta.Timestamp.Format(time.RFC3339Nano))
}
