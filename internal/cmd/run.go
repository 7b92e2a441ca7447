package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/gomian/internal/errors"
	"github.com/3leaps/gomian/internal/observability"
	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/codec"
	"github.com/3leaps/gomian/pkg/request"
	"github.com/3leaps/gomian/pkg/supervisor"
)

var (
	runUserID     string
	runProjectID  string
	runFields     []string
	runDeadline   time.Duration
	runCompressed bool
)

var runCmd = &cobra.Command{
	Use:   "run <variant>",
	Short: "Run one analysis under the supervisor",
	Long: `Run one analysis variant in a supervised worker process and print the
encoded result to stdout.

The output matches the HTTP body: JSON, or base64 zlib text for
compressed variants. When the deadline passes the timeout sentinel is
printed instead.

Examples:
  gomian run pca --uid alice --pid p1 --field catvar=Group
  gomian run heatmap --uid alice --pid p1 --field level=5
  gomian run beta_diversity --uid alice --pid p1 --field catvar=Site --deadline 30s`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalysis,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runUserID, "uid", "", "Project owner")
	runCmd.Flags().StringVar(&runProjectID, "pid", "", "Project ID")
	runCmd.Flags().StringArrayVar(&runFields, "field", nil, "Request field as name=value (repeatable)")
	runCmd.Flags().DurationVar(&runDeadline, "deadline", 0, "Override the variant deadline")
	runCmd.Flags().BoolVar(&runCompressed, "compressed", false, "Force base64 zlib output")
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context(), nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	logger := observability.CLILogger

	v, err := analysis.Builtin().Lookup(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unknown analysis", err)
	}

	fields, err := parseFieldFlags(runFields)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --field value", err)
	}
	if runProjectID != "" {
		fields[request.FieldProjectID] = runProjectID
	}
	rc, err := request.Build(fields, runUserID, v.Fields)
	if err == nil {
		err = v.Validate(rc)
	}
	if err != nil {
		return exitError(exitCodeFor(err), "Invalid analysis request", err)
	}

	deadline := runDeadline
	if deadline <= 0 {
		deadline = v.Deadline.Deadline(cfg.Analysis.StandardDeadline, cfg.Analysis.ExtendedMultiplier)
	}

	sup, err := newSupervisor(cfg, logger, nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot configure analysis worker", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sup.Shutdown()
	}()

	logger.Debug("running analysis",
		zap.String("variant", v.Name),
		zap.String("pid", rc.ProjectID()),
		zap.Duration("deadline", deadline))

	out, err := sup.Run(ctx, supervisor.JobSpec{Variant: v.Name, Deadline: deadline, Context: rc})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Could not start analysis worker", err)
	}
	if ctx.Err() != nil && out.Status != supervisor.Completed {
		return exitError(foundry.ExitSignalInt, "Analysis cancelled", ctx.Err())
	}

	compressed := runCompressed || v.Encoding == analysis.Compressed
	switch out.Status {
	case supervisor.Completed:
		return writeBody(cmd.OutOrStdout(), out.Result, compressed)
	case supervisor.TimedOut:
		logger.Warn("analysis timed out", zap.String("variant", v.Name), zap.Duration("elapsed", out.Elapsed))
		body, err := codec.Encode(codec.TimeoutSentinel())
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to encode timeout", err)
		}
		return writeBody(cmd.OutOrStdout(), body, compressed)
	default:
		if out.Stderr != "" {
			logger.Debug("worker stderr", zap.String("stderr", out.Stderr))
		}
		return exitError(exitCodeFor(out.Err), "Analysis failed", out.Err)
	}
}

func writeBody(w io.Writer, body []byte, compressed bool) error {
	if compressed {
		packed, err := codec.Compress(body)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to compress result", err)
		}
		body = packed
	}
	if _, err := fmt.Fprintln(w, string(body)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write result", err)
	}
	return nil
}

// parseFieldFlags turns name=value pairs into request fields. A repeated
// name keeps the last value.
func parseFieldFlags(pairs []string) (request.MapFields, error) {
	fields := request.MapFields{}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", p)
		}
		fields[name] = value
	}
	return fields, nil
}

// exitCodeFor maps an analysis failure onto a process exit code using the
// same classification the HTTP API applies.
func exitCodeFor(err error) int {
	if err == nil {
		return foundry.ExitExternalServiceUnavailable
	}
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	status, _ := apperrors.Classify(err)
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return foundry.ExitInvalidArgument
	case http.StatusNotFound:
		return foundry.ExitFileNotFound
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}
