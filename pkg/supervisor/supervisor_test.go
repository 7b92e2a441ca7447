package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/codec"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
	"github.com/3leaps/gomian/pkg/wire"
)

const helperEnv = "GOMIAN_HELPER_WORKER"

var helperFields = []request.FieldSpec{{Name: "ms", Kind: request.Int, Default: int64(0)}}

// spin burns CPU without ever looking at ctx, like a numeric library would.
func spin(d time.Duration) {
	end := time.Now().Add(d)
	x := 0.0
	for time.Now().Before(end) {
		for i := 0; i < 1000; i++ {
			x += float64(i)
		}
	}
	_ = x
}

func helperRegistry() *analysis.Registry {
	reg := analysis.NewRegistry()
	add := func(name string, f analysis.JobFunc) {
		reg.MustRegister(&analysis.Variant{Name: name, Fields: helperFields, Job: f})
	}
	ms := func(rc *request.Context) time.Duration {
		n, _ := rc.Attributes().Int("ms")
		return time.Duration(n) * time.Millisecond
	}
	add("sleep", func(_ context.Context, _ project.Accessor, rc *request.Context) (analysis.Result, error) {
		spin(ms(rc))
		return analysis.Result{"slept_ms": ms(rc).Milliseconds(), "pid": rc.ProjectID()}, nil
	})
	add("domain", func(context.Context, project.Accessor, *request.Context) (analysis.Result, error) {
		return nil, &analysis.DomainError{Variant: "domain", Msg: "groups too small"}
	})
	add("notfound", func(context.Context, project.Accessor, *request.Context) (analysis.Result, error) {
		return nil, fmt.Errorf("load table: %w", project.ErrNotFound)
	})
	add("validation", func(context.Context, project.Accessor, *request.Context) (analysis.Result, error) {
		return nil, &request.ValidationError{Field: "pwVar2", Reason: "must differ from pwVar1"}
	})
	add("panic", func(context.Context, project.Accessor, *request.Context) (analysis.Result, error) {
		panic("index out of range")
	})
	add("crash", func(context.Context, project.Accessor, *request.Context) (analysis.Result, error) {
		fmt.Fprintln(os.Stderr, "fatal: out of memory")
		os.Exit(3)
		return nil, nil
	})
	add("huge", func(context.Context, project.Accessor, *request.Context) (analysis.Result, error) {
		return analysis.Result{"blob": strings.Repeat("x", 4096)}, nil
	})
	add("spawn", func(_ context.Context, _ project.Accessor, rc *request.Context) (analysis.Result, error) {
		child := exec.Command(os.Args[0], "-test.run=TestHelperWorkerProcess")
		child.Env = append(os.Environ(), helperEnv+"=sleeper")
		if err := child.Start(); err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "child=%d\n", child.Process.Pid)
		spin(ms(rc))
		return analysis.Result{}, nil
	})
	return reg
}

// TestHelperWorkerProcess is not a real test: it is the worker process the
// other tests spawn.
func TestHelperWorkerProcess(t *testing.T) {
	switch os.Getenv(helperEnv) {
	case "":
		return
	case "sleeper":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	err := ServeWorker(context.Background(), os.Stdin, os.Stdout, helperRegistry(), nil, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(0)
}

func newTestSupervisor(t *testing.T, mutate ...func(*Config)) *Supervisor {
	t.Helper()
	cfg := Config{
		Executor: &CommandExecutor{
			Path: os.Args[0],
			Args: []string{"-test.run=TestHelperWorkerProcess"},
			Env:  []string{helperEnv + "=worker"},
		},
		KillGrace: 500 * time.Millisecond,
		Metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func job(t *testing.T, variant string, deadline time.Duration, ms int) JobSpec {
	t.Helper()
	rc, err := request.Build(request.MapFields{"pid": "p1", "ms": strconv.Itoa(ms)}, "alice", helperFields)
	require.NoError(t, err)
	return JobSpec{Variant: variant, Deadline: deadline, Context: rc}
}

func TestRun_CompletesWithinDeadline(t *testing.T) {
	s := newTestSupervisor(t)
	out, err := s.Run(context.Background(), job(t, "sleep", 10*time.Second, 50))
	require.NoError(t, err)
	require.Equal(t, Completed, out.Status, "err=%v stderr=%s", out.Err, out.Stderr)
	assert.NoError(t, out.Err)

	res, err := codec.Decode(out.Result)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res["slept_ms"])
	assert.Equal(t, "p1", res["pid"])
	assert.False(t, codec.IsTimeoutSentinel(res))
	assert.Equal(t, 0, s.Registry().Active())
}

func TestRun_TimesOutAtDeadline(t *testing.T) {
	s := newTestSupervisor(t)
	deadline := time.Second
	start := time.Now()
	out, err := s.Run(context.Background(), job(t, "sleep", deadline, 10_000))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, out.Status)
	assert.Nil(t, out.Result)
	assert.GreaterOrEqual(t, elapsed, deadline)
	assert.Less(t, elapsed, deadline+1500*time.Millisecond)
	assert.Equal(t, 0, s.Registry().Active())

	assert.Eventually(t, func() bool { return !processAlive(out.PID) }, 3*time.Second, 20*time.Millisecond)
}

func TestRun_ExtendedDeadlineCompletes(t *testing.T) {
	s := newTestSupervisor(t)
	deadline := analysis.Extended.Deadline(time.Second, 3)
	out, err := s.Run(context.Background(), job(t, "sleep", deadline, 1700))
	require.NoError(t, err)
	assert.Equal(t, Completed, out.Status, "err=%v", out.Err)
	assert.NotEmpty(t, out.Result)
}

func TestRun_ConcurrentJobsAreIndependent(t *testing.T) {
	s := newTestSupervisor(t)
	slowJob := job(t, "sleep", time.Second, 10_000)
	fastJob := job(t, "sleep", 10*time.Second, 100)

	var wg sync.WaitGroup
	var fast, slow *Outcome
	var fastErr, slowErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		slow, slowErr = s.Run(context.Background(), slowJob)
	}()
	go func() {
		defer wg.Done()
		fast, fastErr = s.Run(context.Background(), fastJob)
	}()
	wg.Wait()

	require.NoError(t, slowErr)
	require.NoError(t, fastErr)
	assert.Equal(t, TimedOut, slow.Status)
	require.Equal(t, Completed, fast.Status, "err=%v", fast.Err)
	res, err := codec.Decode(fast.Result)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res["slept_ms"])
	assert.NotEqual(t, slow.JobID, fast.JobID)
	assert.Equal(t, 0, s.Registry().Active())
}

func TestRun_RequestCancellationIsIgnored(t *testing.T) {
	s := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := s.Run(ctx, job(t, "sleep", 10*time.Second, 200))
	require.NoError(t, err)
	assert.Equal(t, Completed, out.Status)
}

func TestRun_TypedFailures(t *testing.T) {
	s := newTestSupervisor(t)
	tests := []struct {
		variant string
		check   func(t *testing.T, err error)
	}{
		{"domain", func(t *testing.T, err error) {
			var de *analysis.DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "groups too small", de.Msg)
		}},
		{"notfound", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, project.ErrNotFound)
		}},
		{"validation", func(t *testing.T, err error) {
			var ve *request.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "pwVar2", ve.Field)
			assert.Equal(t, "must differ from pwVar1", ve.Reason)
		}},
		{"missing_variant", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, analysis.ErrUnknownVariant)
		}},
		{"panic", func(t *testing.T, err error) {
			var we *WorkerError
			require.ErrorAs(t, err, &we)
			assert.Equal(t, wire.CodePanic, we.Code)
			assert.Equal(t, "index out of range", we.Message)
		}},
	}
	for _, tc := range tests {
		t.Run(tc.variant, func(t *testing.T) {
			out, err := s.Run(context.Background(), job(t, tc.variant, 10*time.Second, 0))
			require.NoError(t, err)
			require.Equal(t, Failed, out.Status)
			tc.check(t, out.Err)
		})
	}
	assert.Equal(t, 0, s.Registry().Active())
}

func TestRun_WorkerCrash(t *testing.T) {
	s := newTestSupervisor(t)
	out, err := s.Run(context.Background(), job(t, "crash", 10*time.Second, 0))
	require.NoError(t, err)
	require.Equal(t, Failed, out.Status)
	var ce *WorkerCrashError
	require.ErrorAs(t, out.Err, &ce)
	assert.Equal(t, 3, ce.ExitCode)
	assert.Contains(t, ce.Stderr, "out of memory")
}

func TestRun_ResultTooLarge(t *testing.T) {
	s := newTestSupervisor(t, func(c *Config) { c.MaxResultBytes = 1024 })
	out, err := s.Run(context.Background(), job(t, "huge", 10*time.Second, 0))
	require.NoError(t, err)
	assert.Equal(t, Failed, out.Status)
	assert.ErrorIs(t, out.Err, ErrResultTooLarge)
}

func TestRun_KillsWholeProcessGroup(t *testing.T) {
	s := newTestSupervisor(t)
	out, err := s.Run(context.Background(), job(t, "spawn", time.Second, 10_000))
	require.NoError(t, err)
	require.Equal(t, TimedOut, out.Status)

	m := regexp.MustCompile(`child=(\d+)`).FindStringSubmatch(out.Stderr)
	require.Len(t, m, 2, "stderr: %s", out.Stderr)
	child, err := strconv.Atoi(m[1])
	require.NoError(t, err)
	// The orphaned grandchild is reparented and reaped by init once killed.
	assert.Eventually(t, func() bool { return !processAlive(child) || isZombie(child) }, 3*time.Second, 20*time.Millisecond)
}

func isZombie(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	fields := bytes.Fields(b)
	return len(fields) > 2 && string(fields[2]) == "Z"
}

func TestShutdown_KillsLiveWorkers(t *testing.T) {
	s := newTestSupervisor(t)
	long := job(t, "sleep", 30*time.Second, 20_000)
	done := make(chan *Outcome, 1)
	go func() {
		out, _ := s.Run(context.Background(), long)
		done <- out
	}()
	require.Eventually(t, func() bool { return s.Registry().Active() == 1 }, 5*time.Second, 10*time.Millisecond)
	snap := s.Registry().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "sleep", snap[0].Variant)
	assert.Equal(t, JobStateRunning, snap[0].State)

	s.Shutdown()
	select {
	case out := <-done:
		require.NotNil(t, out)
		assert.Equal(t, Failed, out.Status)
		var ce *WorkerCrashError
		assert.ErrorAs(t, out.Err, &ce)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	_, err := s.Run(context.Background(), job(t, "sleep", time.Second, 0))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestRun_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestSupervisor(t, func(c *Config) { c.Metrics = NewMetrics(reg) })
	_, err := s.Run(context.Background(), job(t, "domain", 10*time.Second, 0))
	require.NoError(t, err)
	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, 1.0, values["gomian_analysis_jobs_total"])
	assert.Equal(t, 1.0, values["gomian_analysis_duration_seconds"])
	assert.Equal(t, 0.0, values["gomian_analysis_active_workers"])
}

func TestRun_RejectsBadSpec(t *testing.T) {
	s := newTestSupervisor(t)
	_, err := s.Run(context.Background(), JobSpec{Variant: "sleep", Deadline: 0})
	assert.Error(t, err)
	_, err = s.Run(context.Background(), JobSpec{Variant: "sleep", Deadline: time.Second})
	assert.Error(t, err)

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestRun_StartFailure(t *testing.T) {
	s := newTestSupervisor(t, func(c *Config) {
		c.Executor = &CommandExecutor{Path: "/nonexistent/gomian-worker"}
	})
	_, err := s.Run(context.Background(), job(t, "sleep", time.Second, 0))
	require.Error(t, err)
	assert.Equal(t, 0, s.Registry().Active())
}

func TestErrorPayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  string
		check func(t *testing.T, err error)
	}{
		{"malformed", &request.MalformedInputError{Field: "sampleFilterVals", Err: errors.New("bad json")}, wire.CodeMalformed,
			func(t *testing.T, err error) {
				var me *request.MalformedInputError
				require.ErrorAs(t, err, &me)
				assert.Equal(t, "sampleFilterVals", me.Field)
				assert.EqualError(t, me.Err, "bad json")
			}},
		{"type conversion", &request.TypeConversionError{Field: "level", Kind: request.Int, Value: "abc"}, wire.CodeTypeConversion,
			func(t *testing.T, err error) {
				var te *request.TypeConversionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, request.Int, te.Kind)
				assert.Equal(t, "abc", te.Value)
			}},
		{"domain", &analysis.DomainError{Variant: "pca", Msg: "too few"}, wire.CodeDomain,
			func(t *testing.T, err error) {
				var de *analysis.DomainError
				require.ErrorAs(t, err, &de)
				assert.Equal(t, "pca", de.Variant)
			}},
		{"internal", errors.New("boom"), wire.CodeInternal,
			func(t *testing.T, err error) {
				var we *WorkerError
				require.ErrorAs(t, err, &we)
				assert.Equal(t, "boom", we.Message)
			}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := errorPayload(tc.err)
			assert.Equal(t, tc.code, p.Code)
			tc.check(t, errorFromPayload(p))
		})
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	_, _ = b.Write([]byte("abcd"))
	assert.Equal(t, "abcd", b.String())
	_, _ = b.Write([]byte("efghij"))
	assert.Equal(t, "...cdefghij", b.String())
	_, _ = b.Write([]byte("0123456789"))
	assert.Equal(t, "...23456789", b.String())
}
