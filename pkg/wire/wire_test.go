package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_WriteResult(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "job-123", "pca")

	err := w.WriteResult(context.Background(), &ResultPayload{
		Result:    json.RawMessage(`{"a":1}`),
		ElapsedMS: 42,
	})
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, TypeResult, rec.Type)
	assert.Equal(t, "job-123", rec.JobID)
	assert.Equal(t, "pca", rec.Variant)
	assert.False(t, rec.TS.IsZero())
	assert.True(t, rec.Terminal())

	var payload ResultPayload
	require.NoError(t, rec.DecodeData(&payload))
	assert.JSONEq(t, `{"a":1}`, string(payload.Result))
	assert.Equal(t, int64(42), payload.ElapsedMS)
}

func TestWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "job", "table")
	require.NoError(t, w.Close())

	err := w.WriteError(context.Background(), &ErrorPayload{Code: CodeInternal, Message: "x"})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

func TestWriter_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "job", "table")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteJob(ctx, &JobPayload{Context: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriter_ConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "job", "table")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.WriteError(context.Background(), &ErrorPayload{Code: CodeDomain, Message: strings.Repeat("m", 200)})
		}()
	}
	wg.Wait()

	dec := NewDecoder(&buf)
	count := 0
	for {
		_, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 50, count)
}

type shortWriter struct {
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return s.buf.Write(p)
}

func TestWriter_HandlesShortWrites(t *testing.T) {
	sw := &shortWriter{}
	w := NewWriter(sw, "job", "tree")
	require.NoError(t, w.WriteError(context.Background(), &ErrorPayload{Code: CodeNotFound, Message: "missing"}))

	rec, err := NewDecoder(&sw.buf).Expect(TypeError)
	require.NoError(t, err)

	var payload ErrorPayload
	require.NoError(t, rec.DecodeData(&payload))
	assert.Equal(t, CodeNotFound, payload.Code)
}

func TestDecoder_SkipsBlankLinesAndFindsTerminal(t *testing.T) {
	input := "\n" +
		`{"type":"gomian.job.v1","ts":"2024-01-01T00:00:00Z","job_id":"j","variant":"pca","data":{"context":{}}}` + "\n\n" +
		`{"type":"gomian.result.v1","ts":"2024-01-01T00:00:01Z","job_id":"j","variant":"pca","data":{"result":{"x":[1,2]},"elapsed_ms":3}}` + "\n"

	rec, err := NewDecoder(strings.NewReader(input)).NextTerminal()
	require.NoError(t, err)
	assert.Equal(t, TypeResult, rec.Type)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), rec.TS)
}

func TestDecoder_Expect_WrongType(t *testing.T) {
	input := `{"type":"gomian.result.v1","job_id":"j","data":{}}` + "\n"
	_, err := NewDecoder(strings.NewReader(input)).Expect(TypeJob)
	assert.ErrorIs(t, err, ErrUnexpectedType)
}

func TestDecoder_LineLimit(t *testing.T) {
	long := `{"type":"gomian.result.v1","data":"` + strings.Repeat("x", 512) + `"}` + "\n"
	dec := NewDecoder(strings.NewReader(long))
	dec.SetMaxLineBytes(64)

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestDecoder_TrailingRecordWithoutNewline(t *testing.T) {
	input := `{"type":"gomian.error.v1","job_id":"j","data":{"code":"domain","message":"no variance"}}`
	rec, err := NewDecoder(strings.NewReader(input)).Next()
	require.NoError(t, err)
	assert.Equal(t, TypeError, rec.Type)

	_, err = NewDecoder(strings.NewReader("")).Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_InvalidJSON(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("{not json}\n")).Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode record")
}
