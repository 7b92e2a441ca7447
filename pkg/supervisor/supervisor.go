// Package supervisor runs each analysis job in a fresh worker process and
// enforces a wall-clock deadline on it from the outside.
//
// The worker speaks the wire protocol over stdio: one job record in, one
// terminal record out. On deadline the worker's whole process group is
// killed; nothing the job does can delay the caller beyond the deadline.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gomian/pkg/request"
	"github.com/3leaps/gomian/pkg/wire"
)

const (
	DefaultKillGrace      = 2 * time.Second
	DefaultMaxResultBytes = wire.DefaultMaxLineBytes
	defaultStderrBytes    = 64 << 10
)

// Status is the terminal state of a supervised job.
type Status int

const (
	Completed Status = iota
	TimedOut
	Failed
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

func (s Status) jobState() JobState {
	switch s {
	case Completed:
		return JobStateCompleted
	case TimedOut:
		return JobStateTimedOut
	default:
		return JobStateFailed
	}
}

// JobSpec describes one job to supervise.
type JobSpec struct {
	Variant  string
	Deadline time.Duration
	Context  *request.Context
}

// Outcome is the result of a supervised job.
type Outcome struct {
	JobID   string
	Variant string
	Status  Status
	// Result is the worker's encoded result, verbatim. Set when Completed.
	Result json.RawMessage
	// Err is the reconstructed failure. Set when Failed.
	Err     error
	Elapsed time.Duration
	PID     int
	// Stderr is the tail of the worker's stderr.
	Stderr string
}

// Config controls the supervisor.
type Config struct {
	Executor Executor
	// KillGrace bounds how long reaping may take after a kill, and how long a
	// worker that already answered may take to exit on its own.
	KillGrace      time.Duration
	MaxResultBytes int
	StderrBytes    int
	Logger         *zap.Logger
	Metrics        *Metrics
}

// Supervisor spawns and polices worker processes.
type Supervisor struct {
	cfg      Config
	log      *zap.Logger
	metrics  *Metrics
	registry *Registry

	mu       sync.Mutex
	shutdown bool
}

// ErrShutdown is returned by Run after Shutdown.
var ErrShutdown = errors.New("supervisor: shut down")

func New(cfg Config) (*Supervisor, error) {
	if cfg.Executor == nil {
		return nil, errors.New("supervisor: executor is required")
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.MaxResultBytes <= 0 {
		cfg.MaxResultBytes = DefaultMaxResultBytes
	}
	if cfg.StderrBytes <= 0 {
		cfg.StderrBytes = defaultStderrBytes
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Supervisor{cfg: cfg, log: log, metrics: m, registry: NewRegistry()}, nil
}

// Registry exposes the live worker registry.
func (s *Supervisor) Registry() *Registry { return s.registry }

type terminal struct {
	rec wire.Record
	err error
}

// Run executes spec in a new worker process and waits at most
// spec.Deadline for its outcome. ctx supplies nothing but logging scope:
// cancelling it does not stop the worker. The error return is reserved for
// failures to launch the worker.
func (s *Supervisor) Run(ctx context.Context, spec JobSpec) (*Outcome, error) {
	if spec.Deadline <= 0 {
		return nil, fmt.Errorf("supervisor: deadline must be positive, got %s", spec.Deadline)
	}
	if spec.Context == nil {
		return nil, errors.New("supervisor: request context is required")
	}
	s.mu.Lock()
	closed := s.shutdown
	s.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}

	ctxJSON, err := json.Marshal(spec.Context)
	if err != nil {
		return nil, fmt.Errorf("encode request context: %w", err)
	}

	cmd, err := s.cfg.Executor.Command()
	if err != nil {
		return nil, err
	}
	setProcessGroup(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr := newTailBuffer(s.cfg.StderrBytes)
	cmd.Stderr = stderr

	jobID := uuid.New().String()
	log := s.log.With(zap.String("job_id", jobID), zap.String("variant", spec.Variant))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	pid := cmd.Process.Pid
	log = log.With(zap.Int("pid", pid))
	log.Info("Worker started", zap.Duration("deadline", spec.Deadline))

	s.registry.add(&JobRecord{
		JobID:     jobID,
		Variant:   spec.Variant,
		State:     JobStateRunning,
		PID:       pid,
		Deadline:  spec.Deadline,
		StartedAt: start.UTC(),
	})
	s.metrics.active.Inc()
	defer func() {
		s.registry.remove(jobID)
		s.metrics.active.Dec()
	}()

	go func() {
		w := wire.NewWriter(stdin, jobID, spec.Variant)
		if err := w.WriteJob(context.Background(), &wire.JobPayload{Context: ctxJSON, Deadline: spec.Deadline}); err != nil {
			log.Debug("Job write failed", zap.Error(err))
		}
		_ = stdin.Close()
	}()

	// The reader owns stdout until EOF; Wait may only run after it.
	records := make(chan terminal, 1)
	exited := make(chan error, 1)
	go func() {
		dec := wire.NewDecoder(stdout)
		dec.SetMaxLineBytes(s.cfg.MaxResultBytes)
		rec, err := dec.NextTerminal()
		records <- terminal{rec, err}
		_, _ = io.Copy(io.Discard, stdout)
		exited <- cmd.Wait()
	}()

	timer := time.NewTimer(spec.Deadline)
	defer timer.Stop()

	out := &Outcome{JobID: jobID, Variant: spec.Variant, PID: pid}
	var t terminal
	select {
	case t = <-records:
	case <-timer.C:
		out.Status = TimedOut
	}

	if out.Status != TimedOut {
		if t.err == nil {
			s.fromRecord(out, t.rec)
		} else if errors.Is(t.err, wire.ErrLineTooLong) {
			out.Status = Failed
			out.Err = fmt.Errorf("%w (limit %d bytes)", ErrResultTooLarge, s.cfg.MaxResultBytes)
		} else {
			// No terminal record: collect the exit status, bounded by the
			// deadline and by KillGrace for a worker that keeps running
			// after writing garbage.
			grace := time.NewTimer(s.cfg.KillGrace)
			select {
			case werr := <-exited:
				out.Status = Failed
				out.Err = crashError(werr, t.err, stderr.String())
				exited <- werr
			case <-grace.C:
				out.Status = Failed
				out.Err = fmt.Errorf("read worker output: %w", t.err)
			case <-timer.C:
				out.Status = TimedOut
			}
			grace.Stop()
		}
	}

	// Completed workers get KillGrace to exit on their own; everything else
	// is killed now.
	s.reap(log, pid, exited, out.Status != Completed)

	out.Elapsed = time.Since(start)
	out.Stderr = stderr.String()
	s.registry.finish(jobID, out.Status.jobState())
	s.metrics.jobs.WithLabelValues(spec.Variant, out.Status.String()).Inc()
	s.metrics.duration.WithLabelValues(spec.Variant, out.Status.String()).Observe(out.Elapsed.Seconds())

	fields := []zap.Field{zap.String("outcome", out.Status.String()), zap.Duration("elapsed", out.Elapsed)}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	log.Info("Worker finished", fields...)
	return out, nil
}

func (s *Supervisor) fromRecord(out *Outcome, rec wire.Record) {
	switch rec.Type {
	case wire.TypeResult:
		var res wire.ResultPayload
		if err := rec.DecodeData(&res); err != nil {
			out.Status = Failed
			out.Err = fmt.Errorf("decode result record: %w", err)
			return
		}
		out.Status = Completed
		out.Result = res.Result
	default:
		var p wire.ErrorPayload
		if err := rec.DecodeData(&p); err != nil {
			out.Status = Failed
			out.Err = fmt.Errorf("decode error record: %w", err)
			return
		}
		out.Status = Failed
		out.Err = errorFromPayload(&p)
	}
}

// reap makes sure the worker's process group is gone and its process is
// waited on. The caller is never blocked: waiting happens in the
// background, bounded by KillGrace.
func (s *Supervisor) reap(log *zap.Logger, pid int, exited <-chan error, killNow bool) {
	if killNow {
		if err := killGroup(pid); err != nil {
			log.Warn("Kill worker group failed", zap.Error(err))
		}
	}
	grace := s.cfg.KillGrace
	go func() {
		if !killNow {
			select {
			case <-exited:
				// Sub-processes may outlive the leader.
				_ = killGroup(pid)
				return
			case <-time.After(grace):
				if err := killGroup(pid); err != nil {
					log.Warn("Kill worker group failed", zap.Error(err))
				}
			}
		}
		select {
		case <-exited:
		case <-time.After(grace):
			log.Warn("Worker not reaped within grace period", zap.Duration("grace", grace))
		}
	}()
}

// crashError builds the error for a worker that produced no terminal record.
func crashError(waitErr, readErr error, stderr string) error {
	code := -1
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		code = ee.ExitCode()
	} else if waitErr == nil {
		code = 0
	}
	var cause error
	if !errors.Is(readErr, io.EOF) {
		cause = readErr
	}
	return &WorkerCrashError{ExitCode: code, Stderr: stderr, Err: cause}
}

// Shutdown kills every live worker and makes further Run calls fail.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	for _, pid := range s.registry.pids() {
		if err := killGroup(pid); err != nil {
			s.log.Warn("Kill worker group failed", zap.Int("pid", pid), zap.Error(err))
		}
	}
}
