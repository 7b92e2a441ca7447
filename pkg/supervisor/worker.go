package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/codec"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
	"github.com/3leaps/gomian/pkg/wire"
)

// ServeWorker is the worker side of the protocol: it reads one job record
// from in, runs the variant and writes exactly one terminal record to out.
// The returned error reports protocol failures only; analysis failures are
// written as error records.
func ServeWorker(ctx context.Context, in io.Reader, out io.Writer, reg *analysis.Registry, data project.Accessor, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	rec, err := wire.NewDecoder(in).Expect(wire.TypeJob)
	if err != nil {
		return fmt.Errorf("read job: %w", err)
	}
	w := wire.NewWriter(out, rec.JobID, rec.Variant)
	defer func() { _ = w.Close() }()

	var job wire.JobPayload
	if err := rec.DecodeData(&job); err != nil {
		return w.WriteError(ctx, &wire.ErrorPayload{Code: wire.CodeMalformed, Message: err.Error(), Reason: err.Error()})
	}
	var rc request.Context
	if err := json.Unmarshal(job.Context, &rc); err != nil {
		return w.WriteError(ctx, &wire.ErrorPayload{Code: wire.CodeMalformed, Message: err.Error(), Field: "context", Reason: err.Error()})
	}

	log := logger.With(zap.String("job_id", rec.JobID), zap.String("variant", rec.Variant))
	log.Debug("Worker received job", zap.Duration("deadline", job.Deadline))

	start := time.Now()
	body, err := runJob(ctx, log, reg, data, rec.Variant, &rc)
	if err != nil {
		log.Info("Analysis failed", zap.Error(err))
		return w.WriteError(ctx, errorPayload(err))
	}
	return w.WriteResult(ctx, &wire.ResultPayload{Result: body, ElapsedMS: time.Since(start).Milliseconds()})
}

// runJob runs one variant and encodes its result, converting a panic into
// a WorkerError.
func runJob(ctx context.Context, log *zap.Logger, reg *analysis.Registry, data project.Accessor, name string, rc *request.Context) (body json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Analysis panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = &WorkerError{Code: wire.CodePanic, Message: fmt.Sprint(r)}
		}
	}()
	v, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	res, err := v.Job.Run(ctx, data, rc)
	if err != nil {
		return nil, err
	}
	return codec.Encode(res)
}
