package serialization

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/pkg/timestamp"
)

// Meta is the routing metadata carried by every message payload.
type Meta struct {
	Timestamp   time.Time
	Sequence    int64 // -1 when no transport has assigned one
	SenderID    uuid.UUID
	SenderName  string
	ModuleName  string
	MessageName string
}

// wireMeta is the decoded array form of Meta.
type wireMeta struct {
	_struct     bool `codec:",toarray"`
	Timestamp   float64
	Sequence    int64
	SenderID    []byte
	SenderName  string
	ModuleName  string
	MessageName string
}

type metaEnvelope struct {
	Meta *wireMeta `codec:"_meta"`
}

// Fixed offsets inside the encoded meta array. Timestamp, sequence, sender id
// and sender name always use their widest encodings so that a payload can be
// restamped by patching bytes in place.
const (
	metaTimestampOff  = 2
	metaSequenceOff   = 11
	metaSenderIDOff   = 21
	metaSenderNameOff = 39
	metaFixedLen      = metaSenderNameOff + SenderNameWidth
)

// raw writes the meta array by hand; the codec would pick the narrowest
// integer width, which would move the patchable fields.
func (m Meta) raw() codec.Raw {
	out := make([]byte, metaFixedLen, metaFixedLen+len(m.ModuleName)+len(m.MessageName)+10)
	out[0] = 0x96 // fixarray(6)

	ts := timestamp.FromTime(m.Timestamp)
	out[metaTimestampOff-1] = 0xcb
	binary.BigEndian.PutUint64(out[metaTimestampOff:], math.Float64bits(ts))

	out[metaSequenceOff-1] = 0xd3
	binary.BigEndian.PutUint64(out[metaSequenceOff:], uint64(m.Sequence))

	out[metaSenderIDOff-2] = 0xc4
	out[metaSenderIDOff-1] = byte(len(m.SenderID))
	copy(out[metaSenderIDOff:], m.SenderID[:])

	out[metaSenderNameOff-2] = 0xd9
	out[metaSenderNameOff-1] = SenderNameWidth
	copy(out[metaSenderNameOff:], PadSenderName(m.SenderName))

	out = appendStr(out, m.ModuleName)
	out = appendStr(out, m.MessageName)
	return codec.Raw(out)
}

func appendStr(out []byte, s string) []byte {
	n := len(s)
	switch {
	case n < 32:
		out = append(out, 0xa0|byte(n))
	case n <= math.MaxUint8:
		out = append(out, 0xd9, byte(n))
	case n <= math.MaxUint16:
		out = append(out, 0xda)
		out = binary.BigEndian.AppendUint16(out, uint16(n))
	default:
		out = append(out, 0xdb)
		out = binary.BigEndian.AppendUint32(out, uint32(n))
	}
	return append(out, s...)
}

// Restamp returns a copy of payload with the sequence and sender fields
// replaced. The timestamp and the user section are untouched. It fails with
// ErrInvalidData when payload was not written by EncodeMessage.
func Restamp(payload []byte, sequence int64, senderID uuid.UUID, senderName string) ([]byte, error) {
	base, ok := metaOffset(payload)
	if !ok {
		return nil, &errors.DecodeError{Path: MetaKey,
			Err: fmt.Errorf("%w: payload has no fixed-width %s", errors.ErrInvalidData, MetaKey)}
	}

	out := bytes.Clone(payload)
	meta := out[base:]
	binary.BigEndian.PutUint64(meta[metaSequenceOff:], uint64(sequence))
	copy(meta[metaSenderIDOff:], senderID[:])
	copy(meta[metaSenderNameOff:metaFixedLen], PadSenderName(senderName))
	return out, nil
}

// metaOffset locates the meta array written by Meta.raw and checks its
// fixed-width markers.
func metaOffset(p []byte) (int, bool) {
	if len(p) == 0 {
		return 0, false
	}
	var hdr int
	switch b := p[0]; {
	case b >= 0x81 && b <= 0x8f:
		hdr = 1
	case b == 0xde:
		hdr = 3
	case b == 0xdf:
		hdr = 5
	default:
		return 0, false
	}
	key := hdr + 1 + len(MetaKey)
	if len(p) < key+metaFixedLen ||
		p[hdr] != 0xa0|byte(len(MetaKey)) || string(p[hdr+1:key]) != MetaKey {
		return 0, false
	}
	m := p[key:]
	if m[0] != 0x96 ||
		m[metaTimestampOff-1] != 0xcb ||
		m[metaSequenceOff-1] != 0xd3 ||
		m[metaSenderIDOff-2] != 0xc4 || m[metaSenderIDOff-1] != 16 ||
		m[metaSenderNameOff-2] != 0xd9 || m[metaSenderNameOff-1] != SenderNameWidth {
		return 0, false
	}
	return key, true
}

func (w *wireMeta) meta() (Meta, error) {
	m := Meta{
		Sequence:    w.Sequence,
		SenderName:  strings.TrimRight(w.SenderName, " "),
		ModuleName:  w.ModuleName,
		MessageName: w.MessageName,
	}
	if err := timestamp.Validate(w.Timestamp); err != nil {
		return Meta{}, &errors.DecodeError{MessageName: w.MessageName, Path: MetaKey + ".timestamp",
			Err: fmt.Errorf("%w: %v", errors.ErrInvalidData, err)}
	}
	m.Timestamp = timestamp.ToTime(w.Timestamp)
	if len(w.SenderID) != len(m.SenderID) {
		return Meta{}, &errors.DecodeError{MessageName: w.MessageName, Path: MetaKey + ".sender_id",
			Err: fmt.Errorf("%w: sender id is %d bytes", errors.ErrInvalidData, len(w.SenderID))}
	}
	copy(m.SenderID[:], w.SenderID)
	return m, nil
}

// PadSenderName truncates or space-pads name to SenderNameWidth bytes.
// Truncation never splits a UTF-8 sequence.
func PadSenderName(name string) string {
	if len(name) > SenderNameWidth {
		cut := SenderNameWidth
		for cut > 0 && !isRuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name + strings.Repeat(" ", SenderNameWidth-len(name))
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// DecodeMeta reads only the "_meta" entry of a message payload. User values
// are skipped without being materialized.
func DecodeMeta(payload []byte) (Meta, error) {
	var env metaEnvelope
	if err := codec.NewDecoderBytes(payload, handle).Decode(&env); err != nil {
		return Meta{}, &errors.DecodeError{Path: MetaKey,
			Err: fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)}
	}
	if env.Meta == nil {
		return Meta{}, &errors.DecodeError{Path: MetaKey,
			Err: fmt.Errorf("%w: missing %s", errors.ErrInvalidData, MetaKey)}
	}
	return env.Meta.meta()
}
