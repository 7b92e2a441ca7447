package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compress zlib-compresses b and returns the standard base64 text of the
// compressed bytes.
func Compress(b []byte) ([]byte, error) {
	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	if _, err := zw.Write(b); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(zbuf.Len()))
	base64.StdEncoding.Encode(out, zbuf.Bytes())
	return out, nil
}

// Decompress reverses Compress.
func Decompress(b []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(b)))
	n, err := base64.StdEncoding.Decode(raw, bytes.TrimSpace(b))
	if err != nil {
		return nil, fmt.Errorf("codec: base64: %w", err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(raw[:n]))
	if err != nil {
		return nil, fmt.Errorf("codec: zlib: %w", err)
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("codec: zlib: %w", err)
	}
	return out, nil
}

// EncodeCompressed is Compress(Encode(v)).
func EncodeCompressed(v any) ([]byte, error) {
	b, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return Compress(b)
}
