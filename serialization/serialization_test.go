package serialization

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/tensor"
)

func mustTensor[T tensor.Element](t *testing.T, values []T, shape ...int) *tensor.Tensor {
	t.Helper()
	tn, err := tensor.FromSlice(values, shape...)
	require.NoError(t, err)
	return tn
}

func TestRoundTrip_NestedValues(t *testing.T) {
	pose := mustTensor(t, []float64{1, 2, 3, 4, 5, 6}, 2, 3)
	in := map[string]any{
		"name":    "arm",
		"enabled": true,
		"count":   42,
		"neg":     int8(-3),
		"big":     uint64(math.MaxUint64),
		"ratio":   float32(0.5),
		"pi":      math.Pi,
		"blob":    []byte{0xde, 0xad},
		"nothing": nil,
		"list":    []any{1, "two", 3.0, []any{false}},
		"nested":  map[string]any{"pose": pose, "ids": []int32{7, 8}},
	}

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)

	want := map[string]any{
		"name":    "arm",
		"enabled": true,
		"count":   int64(42),
		"neg":     int64(-3),
		"big":     uint64(math.MaxUint64),
		"ratio":   0.5,
		"pi":      math.Pi,
		"blob":    []byte{0xde, 0xad},
		"nothing": nil,
		"list":    []any{int64(1), "two", 3.0, []any{false}},
		"nested": map[string]any{
			"pose": pose,
			"ids":  []any{int64(7), int64(8)},
		},
	}
	assert.Equal(t, want, out)
}

func TestRoundTrip_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"string", "hello", "hello"},
		{"min int64", int64(math.MinInt64), int64(math.MinInt64)},
		{"max int64", int64(math.MaxInt64), int64(math.MaxInt64)},
		{"float64 exact", 0.1, 0.1},
		{"empty blob", []byte{}, []byte{}},
		{"array", [3]uint16{1, 2, 3}, []any{int64(1), int64(2), int64(3)}},
		{"typed map", map[string]float32{"x": 2}, map[string]any{"x": 2.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.in)
			require.NoError(t, err)
			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_TensorLayout(t *testing.T) {
	tn := mustTensor(t, []float64{1, 2, 3, 4, 5, 6}, 2, 3)

	data, err := Encode(tn)
	require.NoError(t, err)

	// fixmap(3), then "shape" first
	assert.Equal(t, byte(0x83), data[0])
	assert.Equal(t, "shape", string(data[2:7]))

	out, err := Decode(data)
	require.NoError(t, err)
	got, ok := out.(*tensor.Tensor)
	require.True(t, ok)
	assert.Equal(t, []int{2, 3}, got.Shape)
	assert.Equal(t, tensor.Float64, got.DType)
	assert.Len(t, got.Data, 48)

	view, err := tensor.View[float64](got)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, view)
}

func TestRoundTrip_AllDTypes(t *testing.T) {
	tensors := []*tensor.Tensor{
		mustTensor(t, []int8{-1, 2}),
		mustTensor(t, []int16{-300, 300}),
		mustTensor(t, []int32{-70000}),
		mustTensor(t, []int64{math.MinInt64}),
		mustTensor(t, []uint8{255}),
		mustTensor(t, []uint16{65535}),
		mustTensor(t, []uint32{1 << 31}),
		mustTensor(t, []uint64{math.MaxUint64}),
		mustTensor(t, []int{-5, 5}),
		mustTensor(t, []uintptr{9}),
		mustTensor(t, []float32{1.25, -0}, 1, 2),
		mustTensor(t, []complex64{complex(1, 2)}),
		mustTensor(t, []complex128{complex(-1, 0.5)}),
		mustTensor(t, []tensor.Half{tensor.NewHalf(0.75)}),
	}

	for _, tn := range tensors {
		t.Run(tn.DType.String(), func(t *testing.T) {
			data, err := Encode(map[string]any{"t": tn})
			require.NoError(t, err)
			out, err := Decode(data)
			require.NoError(t, err)
			got := out.(map[string]any)["t"].(*tensor.Tensor)
			assert.True(t, tn.Equal(got), "got %v", got)
		})
	}
}

func TestDecode_TensorErrors(t *testing.T) {
	tests := []struct {
		name   string
		value  map[string]any
		target error
	}{
		{
			name:   "length mismatch",
			value:  map[string]any{"shape": []int{2, 3}, "data": make([]byte, 40), "dtype": int(tensor.Float64)},
			target: errors.ErrTensorMismatch,
		},
		{
			name:   "negative dimension",
			value:  map[string]any{"shape": []int{-1}, "data": []byte{}, "dtype": 0},
			target: errors.ErrTensorMismatch,
		},
		{
			name:   "shape product overflow",
			value:  map[string]any{"shape": []int{65536, 65536, 65536, 65536}, "data": []byte{}, "dtype": int(tensor.Int8)},
			target: errors.ErrTensorMismatch,
		},
		{
			name:   "unknown dtype",
			value:  map[string]any{"shape": []int{1}, "data": []byte{0}, "dtype": 99},
			target: errors.ErrUnsupportedType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(map[string]any{"image": tt.value})
			require.NoError(t, err)

			_, err = Decode(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, errors.IsInvalid(err))

			var de *errors.DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "image", de.Path)
		})
	}
}

func TestDecode_RankZeroTensorIsNil(t *testing.T) {
	data, err := Encode(map[string]any{
		"scan": map[string]any{"shape": []int{}, "data": []byte{}, "dtype": int(tensor.Float32)},
	})
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Contains(t, m, "scan")
	assert.Nil(t, m["scan"])
}

func TestRoundTrip_RankZeroTensor(t *testing.T) {
	data, err := Encode(map[string]any{"scan": &tensor.Tensor{Shape: []int{}, DType: tensor.Float32}})
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Contains(t, m, "scan")
	assert.Nil(t, m["scan"])

	_, err = Encode(&tensor.Tensor{DType: tensor.Float32, Data: []byte{0, 0, 0, 0}})
	assert.ErrorIs(t, err, errors.ErrTensorMismatch)
}

func TestDecode_TensorLookalikesStayMaps(t *testing.T) {
	tests := []map[string]any{
		{"shape": "wide", "data": []byte{1}, "dtype": 4},
		{"shape": []int{1}, "data": "text", "dtype": 4},
		{"shape": []int{1}, "data": []byte{1}, "dtype": 4, "extra": true},
		{"shape": []any{1.5}, "data": []byte{1}, "dtype": 4},
	}
	for _, in := range tests {
		data, err := Encode(in)
		require.NoError(t, err)
		out, err := Decode(data)
		require.NoError(t, err)
		_, isMap := out.(map[string]any)
		assert.True(t, isMap, "%v", in)
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = Decode([]byte{0xc1})
	assert.ErrorIs(t, err, errors.ErrParsingFailed)

	// map header promising one entry, then nothing
	_, err = Decode([]byte{0x81})
	require.Error(t, err)
	var de *errors.DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestEncode_Unsupported(t *testing.T) {
	type point struct{ X int }

	_, err := Encode(map[string]any{"p": []any{point{1}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedType)
	var ee *errors.EncodeError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "p[0]", ee.Path)

	_, err = Encode(map[int]string{1: "a"})
	assert.ErrorIs(t, err, errors.ErrUnsupportedType)

	_, err = Encode(&tensor.Tensor{Shape: []int{2}, DType: tensor.Int8, Data: []byte{1}})
	assert.ErrorIs(t, err, errors.ErrTensorMismatch)
}

func TestEncode_Deterministic(t *testing.T) {
	in := map[string]any{"z": 1, "a": 2, "m": map[string]any{"y": 1, "b": 2}}
	first, err := Encode(in)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Encode(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func testMeta() Meta {
	return Meta{
		Timestamp:   time.Unix(1700000000, 250_000_000),
		Sequence:    7,
		SenderID:    uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		SenderName:  "camera",
		ModuleName:  "realsense",
		MessageName: "frame",
	}
}

func TestEncodeMessage_MetaFirst(t *testing.T) {
	payload, err := EncodeMessage(testMeta(), map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, byte(0x83), payload[0])
	assert.Equal(t, byte(0xa5), payload[1])
	assert.Equal(t, MetaKey, string(payload[2:7]))
	// meta is a six element array
	assert.Equal(t, byte(0x96), payload[7])
}

func TestMessageRoundTrip(t *testing.T) {
	meta := testMeta()
	rgb := mustTensor(t, []uint8{1, 2, 3, 4, 5, 6}, 1, 2, 3)

	payload, err := EncodeMessage(meta, map[string]any{"rgb": rgb, "t": 0.5})
	require.NoError(t, err)

	gotMeta, value, err := DecodeMessage(payload)
	require.NoError(t, err)

	assert.WithinDuration(t, meta.Timestamp, gotMeta.Timestamp, time.Microsecond)
	assert.Equal(t, meta.Sequence, gotMeta.Sequence)
	assert.Equal(t, meta.SenderID, gotMeta.SenderID)
	assert.Equal(t, "camera", gotMeta.SenderName)
	assert.Equal(t, "realsense", gotMeta.ModuleName)
	assert.Equal(t, "frame", gotMeta.MessageName)

	m := value.(map[string]any)
	assert.NotContains(t, m, MetaKey)
	assert.Equal(t, 0.5, m["t"])
	assert.True(t, rgb.Equal(m["rgb"].(*tensor.Tensor)))

	onlyMeta, err := DecodeMeta(payload)
	require.NoError(t, err)
	assert.Equal(t, gotMeta, onlyMeta)
}

func TestMessageRoundTrip_NonMapValues(t *testing.T) {
	tn := mustTensor(t, []float32{1, 2})
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"string", "hello", "hello"},
		{"list", []int{1, 2}, []any{int64(1), int64(2)}},
		{"tensor", tn, tn},
		{"nil", nil, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeMessage(testMeta(), tt.in)
			require.NoError(t, err)
			_, value, err := DecodeMessage(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestEncodeMessage_ReservedKeys(t *testing.T) {
	for _, key := range []string{MetaKey, ValueKey} {
		_, err := EncodeMessage(testMeta(), map[string]any{key: 1, "ok": 2})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrReservedKey)
	}

	// nested use is fine
	_, err := EncodeMessage(testMeta(), map[string]any{"inner": map[string]any{MetaKey: 1}})
	assert.NoError(t, err)
}

func TestMeta_UnsetSequenceAndLongName(t *testing.T) {
	meta := testMeta()
	meta.Sequence = -1
	meta.SenderName = strings.Repeat("n", 40)

	payload, err := EncodeMessage(meta, nil)
	require.NoError(t, err)

	got, err := DecodeMeta(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got.Sequence)
	assert.Equal(t, strings.Repeat("n", SenderNameWidth), got.SenderName)
}

func TestPadSenderName(t *testing.T) {
	assert.Equal(t, "cam"+strings.Repeat(" ", 29), PadSenderName("cam"))
	assert.Len(t, PadSenderName(strings.Repeat("é", 20)), SenderNameWidth)
	assert.Equal(t, strings.Repeat("é", 16), strings.TrimRight(PadSenderName(strings.Repeat("é", 20)), " "))
}

func TestDecodeMeta_Missing(t *testing.T) {
	data, err := Encode(map[string]any{"a": 1})
	require.NoError(t, err)

	_, err = DecodeMeta(data)
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, _, err = DecodeMessage(data)
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	list, err := Encode([]any{1})
	require.NoError(t, err)
	_, _, err = DecodeMessage(list)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestDecodeMeta_RejectsNegativeTimestamp(t *testing.T) {
	meta := testMeta()
	meta.Timestamp = time.Unix(-5, 0)
	payload, err := EncodeMessage(meta, map[string]any{"a": 1})
	require.NoError(t, err)

	_, err = DecodeMeta(payload)
	var de *errors.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, MetaKey+".timestamp", de.Path)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestDecodeMessage_ErrorCarriesMessageName(t *testing.T) {
	bad := map[string]any{"shape": []int{4}, "data": []byte{1}, "dtype": int(tensor.Float32)}
	payload, err := EncodeMessage(testMeta(), map[string]any{"depth": bad})
	require.NoError(t, err)

	_, _, err = DecodeMessage(payload)
	var de *errors.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "frame", de.MessageName)
	assert.Equal(t, "depth", de.Path)
}

func TestRestamp(t *testing.T) {
	meta := testMeta()
	rgb := mustTensor(t, []uint8{9, 8, 7})
	payload, err := EncodeMessage(meta, map[string]any{"rgb": rgb})
	require.NoError(t, err)

	id := uuid.MustParse("00000000-0000-0000-0000-000000000042")
	stamped, err := Restamp(payload, 1234, id, "forwarder")
	require.NoError(t, err)
	assert.Len(t, stamped, len(payload))

	got, value, err := DecodeMessage(stamped)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), got.Sequence)
	assert.Equal(t, id, got.SenderID)
	assert.Equal(t, "forwarder", got.SenderName)
	assert.Equal(t, "frame", got.MessageName)
	assert.WithinDuration(t, meta.Timestamp, got.Timestamp, time.Microsecond)
	assert.True(t, rgb.Equal(value.(map[string]any)["rgb"].(*tensor.Tensor)))

	// source payload untouched
	orig, err := DecodeMeta(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(7), orig.Sequence)
}

func TestRestamp_ManyKeys(t *testing.T) {
	in := make(map[string]any, 20)
	for i := 0; i < 20; i++ {
		in[strings.Repeat("k", i+1)] = i
	}
	payload, err := EncodeMessage(testMeta(), in)
	require.NoError(t, err)
	assert.Equal(t, byte(0xde), payload[0])

	stamped, err := Restamp(payload, -1, uuid.Nil, "")
	require.NoError(t, err)
	got, err := DecodeMeta(stamped)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got.Sequence)
	assert.Equal(t, "", got.SenderName)
}

func TestRestamp_ForeignPayload(t *testing.T) {
	foreign, err := Encode(map[string]any{
		MetaKey: []any{1.5, 3, make([]byte, 16), "peer", "mod", "msg"},
	})
	require.NoError(t, err)

	// readable, but not patchable
	meta, err := DecodeMeta(foreign)
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Sequence)

	_, err = Restamp(foreign, 1, uuid.Nil, "x")
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = Restamp(nil, 1, uuid.Nil, "x")
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}
