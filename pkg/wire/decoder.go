package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineBytes bounds a single record. Heatmap results for wide
// projects can run to tens of megabytes before compression.
const DefaultMaxLineBytes = 64 << 20

// Decoder reads wire records from a JSONL stream.
type Decoder struct {
	r            *bufio.Reader
	maxLineBytes int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), maxLineBytes: DefaultMaxLineBytes}
}

func (d *Decoder) SetMaxLineBytes(n int) {
	if n <= 0 {
		d.maxLineBytes = DefaultMaxLineBytes
		return
	}
	d.maxLineBytes = n
}

// Next returns the next record. Blank lines are skipped; io.EOF is returned
// at the end of the stream.
func (d *Decoder) Next() (Record, error) {
	for {
		line, err := readLineLimited(d.r, d.maxLineBytes)
		if err != nil {
			return Record{}, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return Record{}, fmt.Errorf("decode record: %w", err)
		}
		return rec, nil
	}
}

// Expect reads the next record and requires it to have the given type.
func (d *Decoder) Expect(recordType string) (Record, error) {
	rec, err := d.Next()
	if err != nil {
		return Record{}, err
	}
	if rec.Type != recordType {
		return Record{}, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedType, rec.Type, recordType)
	}
	return rec, nil
}

// NextTerminal skips non-terminal records and returns the first result or
// error record.
func (d *Decoder) NextTerminal() (Record, error) {
	for {
		rec, err := d.Next()
		if err != nil {
			return Record{}, err
		}
		if rec.Terminal() {
			return rec, nil
		}
	}
}

// DecodeData unmarshals the record payload into v.
func (r Record) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return errors.New("record has no data")
	}
	return json.Unmarshal(r.Data, v)
}

func readLineLimited(r *bufio.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}

	var out []byte
	for {
		frag, err := r.ReadSlice('\n')
		out = append(out, frag...)
		if len(out) > maxBytes {
			return nil, ErrLineTooLong
		}
		if err == nil {
			return bytes.TrimSuffix(out, []byte("\n")), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		return nil, err
	}
}
