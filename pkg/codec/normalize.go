// Package codec turns analysis results into transport-safe bytes.
//
// Results may carry library-native numeric types (gonum matrices and
// vectors, sized integers, float32). Normalize flattens them into the small
// set of JSON-compatible Go values that Encode understands: nil, bool,
// int64, float64, string, []any and map[string]any.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// UnsupportedTypeError is returned when a value cannot be represented.
type UnsupportedTypeError struct {
	Path string
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Path == "" {
		return "codec: unsupported type " + e.Type
	}
	return fmt.Sprintf("codec: unsupported type %s at %s", e.Type, e.Path)
}

// Normalize recursively converts v into JSON-compatible values.
//
// Integer kinds become int64 and float kinds become float64; NaN and ±Inf
// become nil because JSON cannot carry them. Matrices become row-major
// [][]float64 (as []any of []any) and vectors become []any.
func Normalize(v any) (any, error) {
	return normalize(v, "")
}

func normalize(v any, path string) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string:
		return x, nil
	case int64:
		return x, nil
	case float64:
		return finite(x), nil
	case json.Number:
		return normalizeNumber(x)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(x, &decoded); err != nil {
			return nil, fmt.Errorf("codec: raw message at %s: %w", pathOrRoot(path), err)
		}
		return normalize(decoded, path)
	case mat.Vector:
		out := make([]any, x.Len())
		for i := range out {
			out[i] = finite(x.AtVec(i))
		}
		return out, nil
	case mat.Matrix:
		r, c := x.Dims()
		out := make([]any, r)
		for i := 0; i < r; i++ {
			row := make([]any, c)
			for j := 0; j < c; j++ {
				row[j] = finite(x.At(i, j))
			}
			out[i] = row
		}
		return out, nil
	case json.Marshaler:
		return normalizeViaJSON(x, path)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float()), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface(), path)
	case reflect.Slice:
		if rv.IsNil() {
			return []any{}, nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := normalize(rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &UnsupportedTypeError{Path: pathOrRoot(path), Type: rv.Type().String()}
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			elem, err := normalize(iter.Value().Interface(), joinPath(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = elem
		}
		return out, nil
	case reflect.Struct:
		return normalizeViaJSON(v, path)
	}

	return nil, &UnsupportedTypeError{Path: pathOrRoot(path), Type: rv.Type().String()}
}

// normalizeViaJSON lets types with their own JSON shape (structs, time.Time)
// describe themselves, then normalizes the decoded form.
func normalizeViaJSON(v any, path string) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %T at %s: %w", v, pathOrRoot(path), err)
	}
	decoded, err := decodeValue(b)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func normalizeNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid number %q: %w", s, err)
	}
	return finite(f), nil
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func pathOrRoot(path string) string {
	if path == "" {
		return "$"
	}
	return path
}
