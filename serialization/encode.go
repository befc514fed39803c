package serialization

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"

	"github.com/ugorji/go/codec"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/tensor"
)

// headroom is added to the tensor byte total when presizing the output.
const headroom = 256

// Encode serializes v. Accepted values are nil, bool, every Go integer and
// float kind, string, []byte, slices and arrays of accepted values, maps with
// string keys, tensor.Tensor and *tensor.Tensor. Map keys are written in
// sorted order so equal values encode to equal bytes.
func Encode(v any) ([]byte, error) {
	var w walker
	prepared, err := w.prepare(v, "")
	if err != nil {
		return nil, err
	}
	return w.write(prepared)
}

// EncodeMessage serializes a message payload: the metadata under "_meta"
// first, then the entries of v when it is a map, or v itself under "_value"
// otherwise. A nil v produces an empty user section. Top-level user keys
// "_meta" and "_value" are rejected.
func EncodeMessage(meta Meta, v any) ([]byte, error) {
	var w walker
	root := orderedMap{MetaKey, meta.raw()}

	if v != nil {
		prepared, err := w.prepare(v, "")
		if err != nil {
			return nil, err
		}
		if m, ok := prepared.(orderedMap); ok && !w.isTensor(v) {
			for i := 0; i < len(m); i += 2 {
				if k := m[i].(string); k == MetaKey || k == ValueKey {
					return nil, &errors.EncodeError{Path: k, Err: errors.ErrReservedKey}
				}
			}
			root = append(root, m...)
		} else {
			root = append(root, ValueKey, prepared)
		}
	}
	return w.write(root)
}

// walker converts a value tree into the shapes the codec writes directly and
// totals the tensor bytes so the output buffer is allocated once.
type walker struct {
	tensorBytes int
}

func (w *walker) write(v any) ([]byte, error) {
	out := make([]byte, 0, w.tensorBytes+headroom)
	if err := codec.NewEncoderBytes(&out, handle).Encode(v); err != nil {
		return nil, &errors.EncodeError{Err: err}
	}
	return out, nil
}

func (w *walker) isTensor(v any) bool {
	switch v.(type) {
	case tensor.Tensor, *tensor.Tensor:
		return true
	}
	return false
}

func (w *walker) prepare(v any, path string) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x, nil
	case *tensor.Tensor:
		if x == nil {
			return nil, nil
		}
		return w.tensor(x, path)
	case tensor.Tensor:
		return w.tensor(&x, path)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			p, err := w.prepare(e, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := make(orderedMap, 0, 2*len(keys))
		for _, k := range keys {
			p, err := w.prepare(x[k], keyPath(path, k))
			if err != nil {
				return nil, err
			}
			out = append(out, k, p)
		}
		return out, nil
	}
	return w.reflected(reflect.ValueOf(v), path)
}

// reflected handles typed slices, arrays, string-keyed maps and named scalar
// types.
func (w *walker) reflected(rv reflect.Value, path string) (any, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32:
		return float32(rv.Float()), nil
	case reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return w.prepare(rv.Elem().Interface(), path)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return b, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			p, err := w.prepare(rv.Index(i).Interface(), indexPath(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &errors.EncodeError{Path: path,
				Err: fmt.Errorf("%w: map key %s", errors.ErrUnsupportedType, rv.Type().Key())}
		}
		if rv.IsNil() {
			return nil, nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return w.prepare(m, path)
	}

	desc := "invalid value"
	if rv.IsValid() {
		desc = rv.Type().String()
	}
	return nil, &errors.EncodeError{Path: path, Err: fmt.Errorf("%w: %s", errors.ErrUnsupportedType, desc)}
}

func (w *walker) tensor(t *tensor.Tensor, path string) (any, error) {
	if err := t.Validate(); err != nil {
		return nil, &errors.EncodeError{Path: path, Err: err}
	}
	shape := make([]any, len(t.Shape))
	for i, d := range t.Shape {
		shape[i] = int64(d)
	}
	w.tensorBytes += len(t.Data)
	data := t.Data
	if data == nil {
		data = []byte{}
	}
	return orderedMap{
		shapeKey, shape,
		dataKey, data,
		dtypeKey, int64(t.DType),
	}, nil
}

func keyPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}
