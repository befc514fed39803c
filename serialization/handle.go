// Package serialization encodes schema-less values, including tensors, into
// self-describing msgpack and decodes them back.
//
// Maps, sequences, scalars, strings and byte blobs use msgpack's own tags.
// A tensor is a map with exactly the keys "shape", "data" and "dtype"; on
// decode, any map of that form is rebuilt as a *tensor.Tensor whose Data
// views the input buffer where the codec allows it. A user map that happens
// to have exactly those three keys with matching types is indistinguishable
// from a tensor.
//
// Message payloads carry a reserved "_meta" entry ahead of the user keys so
// that a peer can read routing metadata with DecodeMeta alone.
package serialization

import (
	"reflect"

	"github.com/ugorji/go/codec"
)

// Reserved payload keys.
const (
	MetaKey  = "_meta"
	ValueKey = "_value"

	shapeKey = "shape"
	dataKey  = "data"
	dtypeKey = "dtype"
)

// SenderNameWidth is the fixed wire width of the sender name.
const SenderNameWidth = 32

var handle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	// str and bin are distinct tags: str decodes to string, bin to []byte.
	// RawToString must stay off or bin values come back as strings.
	h.WriteExt = true
	// Meta is written as a pre-encoded codec.Raw.
	h.Raw = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	h.SliceType = reflect.TypeOf([]interface{}(nil))
	// []byte values decoded from a buffer alias it.
	h.ZeroCopy = true
	return h
}

// orderedMap encodes as a msgpack map whose entries follow slice order:
// key, value, key, value.
type orderedMap []interface{}

// MapBySlice marks orderedMap for the codec.
func (orderedMap) MapBySlice() {}

var _ codec.MapBySlice = orderedMap(nil)
