package codec

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNormalize_NativeNumericTypes(t *testing.T) {
	type point struct {
		X float32 `json:"x"`
		Y int     `json:"y"`
	}

	in := map[string]any{
		"i8":     int8(-3),
		"u32":    uint32(7),
		"f32":    float32(0.5),
		"nan":    math.NaN(),
		"inf":    math.Inf(-1),
		"ints":   []int{1, 2, 3},
		"floats": [2]float64{1.5, 2.5},
		"vec":    mat.NewVecDense(2, []float64{4, 5}),
		"mat":    mat.NewDense(2, 2, []float64{1, 2, 3, 4}),
		"point":  point{X: 1.25, Y: 2},
		"nested": map[string][]int32{"a": {9}},
		"nilptr": (*int)(nil),
		"num":    json.Number("12"),
	}

	out, err := Normalize(in)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, int64(-3), m["i8"])
	assert.Equal(t, int64(7), m["u32"])
	assert.Equal(t, float64(0.5), m["f32"])
	assert.Nil(t, m["nan"])
	assert.Nil(t, m["inf"])
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, m["ints"])
	assert.Equal(t, []any{1.5, 2.5}, m["floats"])
	assert.Equal(t, []any{4.0, 5.0}, m["vec"])
	assert.Equal(t, []any{[]any{1.0, 2.0}, []any{3.0, 4.0}}, m["mat"])
	assert.Equal(t, map[string]any{"x": 1.25, "y": int64(2)}, m["point"])
	assert.Equal(t, map[string]any{"a": []any{int64(9)}}, m["nested"])
	assert.Nil(t, m["nilptr"])
	assert.Equal(t, int64(12), m["num"])
}

func TestNormalize_Unsupported(t *testing.T) {
	_, err := Normalize(map[string]any{"ch": make(chan int)})
	var unsupported *UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "ch", unsupported.Path)

	_, err = Normalize(map[int]string{1: "a"})
	require.ErrorAs(t, err, &unsupported)
}

func TestEncode_Deterministic(t *testing.T) {
	result := map[string]any{
		"zeta":  1,
		"alpha": []float64{1, 2.5},
		"html":  "<b>&</b>",
	}

	first, err := Encode(result)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Encode(result)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	assert.Equal(t, `{"alpha":[1.0,2.5],"html":"<b>&</b>","zeta":1}`, string(first))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
	}{
		{"empty", map[string]any{}},
		{"scalars", map[string]any{"n": int64(3), "f": 0.1, "s": "x", "b": true, "z": nil}},
		{"integral floats", map[string]any{"f": 2.0, "neg": -7.0}},
		{"extremes", map[string]any{"tiny": 1e-9, "huge": 1e22, "maxint": int64(math.MaxInt64)}},
		{"sequences", map[string]any{"xs": []any{int64(1), 2.5, "a"}}},
		{"nested", map[string]any{"per_sample": map[string]any{"s1": map[string]any{"shannon": 1.7}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.result)
			require.NoError(t, err)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.result, got)
		})
	}
}

func TestDecode_NotAnObject(t *testing.T) {
	_, err := Decode([]byte(`[1,2]`))
	require.Error(t, err)

	v, err := DecodeAny([]byte(`[1,2.0]`))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), 2.0}, v)
}

func TestCompress_RoundTrip(t *testing.T) {
	result := map[string]any{
		"row_headers": []string{"s1", "s2"},
		"data":        [][]float64{{0.1, 0.2}, {0.3, 0.4}},
	}

	plain, err := Encode(result)
	require.NoError(t, err)

	packed, err := EncodeCompressed(result)
	require.NoError(t, err)

	unpacked, err := Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, plain, unpacked)
}

func TestCompress_TimeoutSentinelUsesSamePath(t *testing.T) {
	packed, err := EncodeCompressed(TimeoutSentinel())
	require.NoError(t, err)

	unpacked, err := Decompress(packed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeout": true}`, string(unpacked))
}

func TestDecompress_Invalid(t *testing.T) {
	_, err := Decompress([]byte("!!!not base64"))
	require.Error(t, err)

	_, err = Decompress([]byte("aGVsbG8=")) // base64 of "hello", not zlib
	require.Error(t, err)
}

func TestTimeoutSentinel(t *testing.T) {
	b, err := Encode(TimeoutSentinel())
	require.NoError(t, err)
	assert.Equal(t, `{"timeout":true}`, string(b))

	assert.True(t, IsTimeoutSentinel(TimeoutSentinel()))
	assert.False(t, IsTimeoutSentinel(map[string]any{"timeout": true, "other": 1}))
	assert.False(t, IsTimeoutSentinel(map[string]any{"timeout": "yes"}))
}

func TestEnvelope(t *testing.T) {
	b, err := json.Marshal(OK([]byte(`{"a":1}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"a":1}}`, string(b))

	b, err = json.Marshal(Timeout())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"timeout"}`, string(b))

	b, err = json.Marshal(Failure("ANALYSIS_ERROR", "no variance", "expvar"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","error":{"code":"ANALYSIS_ERROR","message":"no variance","field":"expvar"}}`, string(b))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "2.0", formatFloat(2))
	assert.Equal(t, "0.25", formatFloat(0.25))
	assert.Equal(t, "1e-7", formatFloat(1e-7))
	assert.Equal(t, "1e+21", formatFloat(1e21))
	assert.Equal(t, "0.0", formatFloat(0))
}

func TestNormalize_TimeUsesJSONForm(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out, err := Normalize(map[string]any{"at": ts})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00Z", out.(map[string]any)["at"])
}
