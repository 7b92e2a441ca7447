package wire

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits wire records as newline-delimited JSON.
//
// Writer is safe for concurrent use. Writes are serialized with a mutex so a
// line is never interleaved with another.
type Writer struct {
	w       io.Writer
	jobID   string
	variant string
	mu      sync.Mutex
	closed  bool
}

// NewWriter creates a writer that stamps every record with jobID and variant.
func NewWriter(w io.Writer, jobID, variant string) *Writer {
	return &Writer{w: w, jobID: jobID, variant: variant}
}

// WriteJob emits a job record.
func (jw *Writer) WriteJob(ctx context.Context, job *JobPayload) error {
	return jw.writeRecord(ctx, TypeJob, job)
}

// WriteResult emits a result record.
func (jw *Writer) WriteResult(ctx context.Context, res *ResultPayload) error {
	return jw.writeRecord(ctx, TypeResult, res)
}

// WriteError emits an error record.
func (jw *Writer) WriteError(ctx context.Context, errRec *ErrorPayload) error {
	return jw.writeRecord(ctx, TypeError, errRec)
}

// Close marks the writer as closed. The underlying writer is left open.
func (jw *Writer) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

func (jw *Writer) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:    recordType,
		TS:      time.Now().UTC(),
		JobID:   jw.jobID,
		Variant: jw.variant,
		Data:    dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll loops over short writes so a line is never silently truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
