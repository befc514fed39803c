package serialization

import (
	stderrors "errors"
	"fmt"
	"math"

	"github.com/ugorji/go/codec"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/tensor"
)

// Decode parses data produced by Encode. The result is built from nil, bool,
// int64, uint64 (only above math.MaxInt64), float64, string, []byte, []any,
// map[string]any and *tensor.Tensor. Byte blobs and tensor data may alias
// data, which must not be modified afterwards.
func Decode(data []byte) (any, error) {
	v, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}
	return normalize(v, "")
}

// DecodeMessage parses a message payload into its metadata and user value.
// A payload written with a non-map value yields that value; otherwise the
// user entries are returned as a map without "_meta".
func DecodeMessage(payload []byte) (Meta, any, error) {
	raw, err := decodeRaw(payload)
	if err != nil {
		return Meta{}, nil, err
	}
	root, ok := raw.(map[string]any)
	if !ok {
		return Meta{}, nil, &errors.DecodeError{
			Err: fmt.Errorf("%w: payload root is %T, want map", errors.ErrInvalidData, raw)}
	}

	meta, err := metaFromRaw(root[MetaKey])
	if err != nil {
		return Meta{}, nil, err
	}
	delete(root, MetaKey)

	var value any
	if v, ok := root[ValueKey]; ok && len(root) == 1 {
		value, err = normalize(v, ValueKey)
	} else {
		value, err = normalize(root, "")
	}
	if err != nil {
		var de *errors.DecodeError
		if stderrors.As(err, &de) {
			de.MessageName = meta.MessageName
		}
		return Meta{}, nil, err
	}
	return meta, value, nil
}

// metaFromRaw reads the "_meta" sequence out of an already decoded payload.
func metaFromRaw(v any) (Meta, error) {
	fail := func(format string, args ...any) (Meta, error) {
		return Meta{}, &errors.DecodeError{Path: MetaKey,
			Err: fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidData}, args...)...)}
	}

	seq, ok := v.([]any)
	if !ok {
		return fail("missing %s", MetaKey)
	}
	if len(seq) != 6 {
		return fail("%s has %d fields, want 6", MetaKey, len(seq))
	}

	var w wireMeta
	switch ts := seq[0].(type) {
	case float64:
		w.Timestamp = ts
	case float32:
		w.Timestamp = float64(ts)
	default:
		return fail("timestamp is %T", seq[0])
	}
	switch n := seq[1].(type) {
	case int64:
		w.Sequence = n
	case uint64:
		if n > math.MaxInt64 {
			return fail("sequence %d overflows", n)
		}
		w.Sequence = int64(n)
	default:
		return fail("sequence is %T", seq[1])
	}
	if w.SenderID, ok = seq[2].([]byte); !ok {
		return fail("sender id is %T", seq[2])
	}
	strs := [3]*string{&w.SenderName, &w.ModuleName, &w.MessageName}
	for i, dst := range strs {
		if *dst, ok = seq[3+i].(string); !ok {
			return fail("field %d is %T, want string", 3+i, seq[3+i])
		}
	}
	return w.meta()
}

func decodeRaw(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, &errors.DecodeError{Err: fmt.Errorf("%w: empty payload", errors.ErrInvalidData)}
	}
	var v any
	if err := codec.NewDecoderBytes(data, handle).Decode(&v); err != nil {
		return nil, &errors.DecodeError{Err: fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)}
	}
	return v, nil
}

// normalize rewrites the codec's output in place into the canonical value
// set and rebuilds tensors.
func normalize(v any, path string) (any, error) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, []byte:
		return x, nil
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x), nil
		}
		return x, nil
	case float32:
		return float64(x), nil
	case []any:
		for i, e := range x {
			n, err := normalize(e, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			x[i] = n
		}
		return x, nil
	case map[string]any:
		if isTensorMap(x) {
			return buildTensor(x, path)
		}
		for k, e := range x {
			n, err := normalize(e, keyPath(path, k))
			if err != nil {
				return nil, err
			}
			x[k] = n
		}
		return x, nil
	}
	return nil, &errors.DecodeError{Path: path, Err: fmt.Errorf("%w: %T", errors.ErrUnsupportedType, v)}
}

// isTensorMap reports whether m has exactly the tensor keys with a sequence
// of integers, a blob and an integer as values.
func isTensorMap(m map[string]any) bool {
	if len(m) != 3 {
		return false
	}
	shape, ok := m[shapeKey].([]any)
	if !ok {
		return false
	}
	for _, d := range shape {
		if !isInteger(d) {
			return false
		}
	}
	if _, ok := m[dataKey].([]byte); !ok {
		return false
	}
	return isInteger(m[dtypeKey])
}

func isInteger(v any) bool {
	switch v.(type) {
	case int64, uint64:
		return true
	}
	return false
}

func buildTensor(m map[string]any, path string) (any, error) {
	fail := func(format string, args ...any) error {
		return &errors.DecodeError{Path: path,
			Err: fmt.Errorf("%w: "+format, append([]any{errors.ErrTensorMismatch}, args...)...)}
	}

	rawShape := m[shapeKey].([]any)
	if len(rawShape) == 0 {
		return nil, nil
	}
	shape := make([]int, len(rawShape))
	for i, d := range rawShape {
		switch n := d.(type) {
		case int64:
			if n < 0 || n > math.MaxInt32 {
				return nil, fail("dimension %d is %d", i, n)
			}
			shape[i] = int(n)
		case uint64:
			if n > math.MaxInt32 {
				return nil, fail("dimension %d is %d", i, n)
			}
			shape[i] = int(n)
		}
	}

	var code int64
	switch n := m[dtypeKey].(type) {
	case int64:
		code = n
	case uint64:
		code = math.MaxInt64
		if n <= math.MaxInt64 {
			code = int64(n)
		}
	}
	dtype := tensor.DType(code)
	if code < 0 || !dtype.Valid() {
		return nil, &errors.DecodeError{Path: path,
			Err: fmt.Errorf("%w: dtype code %d", errors.ErrUnsupportedType, code)}
	}

	t := &tensor.Tensor{Shape: shape, DType: dtype, Data: m[dataKey].([]byte)}
	if err := t.Validate(); err != nil {
		return nil, fail("%v", err)
	}
	return t, nil
}
