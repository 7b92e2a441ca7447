package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	gconfig "github.com/3leaps/gomian/internal/config"
	errwrap "github.com/3leaps/gomian/internal/errors"
	"github.com/3leaps/gomian/internal/observability"
	"github.com/3leaps/gomian/pkg/provider"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment, the project data root and
the session store, and suggest fixes for common issues.

Examples:
  gomian doctor                 # Full environment check
  gomian doctor --provider s3   # Add AWS credential and bucket checks`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

// doctorRun numbers checks and remembers whether any failed.
type doctorRun struct {
	log   *zap.Logger
	n     int
	total int
	ok    bool
}

func (d *doctorRun) pass(label, detail string, fields ...zap.Field) {
	d.n++
	d.log.Info(fmt.Sprintf("[%d/%d] %s... ✅ %s", d.n, d.total, label, detail), fields...)
}

func (d *doctorRun) warn(label, detail string, fields ...zap.Field) {
	d.n++
	d.ok = false
	d.log.Warn(fmt.Sprintf("[%d/%d] %s... ⚠️  %s", d.n, d.total, label, detail), fields...)
}

func (d *doctorRun) fail(label, detail string, err error) {
	d.n++
	d.ok = false
	d.log.Error(fmt.Sprintf("[%d/%d] %s... ❌ %s", d.n, d.total, label, detail), zap.Error(err))
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	log := observability.CLILogger
	bannerName := "doctor"
	if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
		bannerName = id.BinaryName + " doctor"
	}
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	d := &doctorRun{log: log, total: 6, ok: true}
	if doctorProvider == "s3" {
		d.total = 9
	}

	goVersion := runtime.Version()
	if goVersion >= "go1.25" {
		d.pass("Checking Go version", goVersion, zap.String("go_version", goVersion))
	} else {
		d.warn("Checking Go version", goVersion+" (recommended: go1.25+)", zap.String("go_version", goVersion))
	}

	version := crucible.GetVersion()
	if version.Gofulmen == "" {
		d.fail("Checking Gofulmen access", "Cannot access Gofulmen", nil)
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot access Gofulmen",
			errwrap.NewExternalServiceError("gofulmen metadata unavailable"))
	}
	d.pass("Checking Gofulmen access", "v"+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))

	configDir, err := os.UserConfigDir()
	if err != nil {
		d.fail("Checking config directory", "Cannot find config directory", err)
		return exitError(foundry.ExitFileNotFound, "Cannot find config directory",
			errwrap.WrapInternal(cmd.Context(), err, "Cannot find config directory"))
	}
	d.pass("Checking config directory", configDir, zap.String("config_dir", configDir))

	cfg, err := loadConfig(cmd.Context(), nil)
	if err != nil {
		d.fail("Checking configuration", "Invalid configuration", err)
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	d.pass("Checking configuration", "valid",
		zap.String("data_backend", cfg.Data.Backend),
		zap.String("session_driver", cfg.Session.Driver))

	checkDataRoot(cmd.Context(), d, cfg.Data)
	checkSessionStore(cmd.Context(), d, cfg.Session)

	if doctorProvider == "s3" {
		runS3Checks(cmd.Context(), d)
	}

	log.Info("")
	if d.ok {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")
	return nil
}

func checkDataRoot(ctx context.Context, d *doctorRun, cfg gconfig.DataConfig) {
	const label = "Checking project data"
	p, err := openProvider(ctx, cfg)
	if err != nil {
		d.fail(label, "Cannot open data backend", err)
		return
	}
	defer func() { _ = p.Close() }()

	res, err := p.List(ctx, provider.ListOptions{MaxKeys: 1})
	if err != nil {
		d.fail(label, "Cannot list data backend", err)
		return
	}
	where := cfg.Root
	if cfg.Backend == gconfig.BackendS3 {
		where = "s3://" + cfg.S3.Bucket + "/" + cfg.S3.Prefix
	}
	if len(res.Objects) == 0 {
		d.warn(label, where+" is empty", zap.String("location", where))
		return
	}
	d.pass(label, where, zap.String("location", where))
}

func checkSessionStore(ctx context.Context, d *doctorRun, cfg gconfig.SessionConfig) {
	const label = "Checking session store"
	store, err := openSessionStore(ctx, cfg)
	if err != nil {
		d.fail(label, "Cannot open session store", err)
		return
	}
	defer func() { _ = store.Close() }()
	if p, ok := store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			d.fail(label, "Ping failed", err)
			return
		}
	}
	target := cfg.Path
	if cfg.URL != "" {
		target = cfg.URL
	}
	d.pass(label, cfg.Driver+" "+target, zap.String("driver", cfg.Driver))
}

// runS3Checks verifies AWS credentials can be resolved.
func runS3Checks(ctx context.Context, d *doctorRun) {
	d.log.Info("")
	d.log.Info("S3 Provider Checks:")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		d.fail("Checking AWS credentials", "Cannot load AWS config", err)
		printAWSCredentialsHelp()
		return
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		d.fail("Checking AWS credentials", "Cannot retrieve credentials", err)
		printAWSCredentialsHelp()
		return
	}
	d.pass("Checking AWS credentials", "Found credentials",
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	d.pass("Checking credential source", source, zap.String("credential_source", source))

	// Off EC2 the metadata endpoint never answers; that is not a failure.
	mdCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	region, err := imds.NewFromConfig(awsCfg).GetRegion(mdCtx, &imds.GetRegionInput{})
	if err != nil {
		d.pass("Checking instance metadata", "not running on EC2")
		return
	}
	d.pass("Checking instance metadata", "region "+region.Region, zap.String("imds_region", region.Region))
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' to set up a profile, or")
	log.Info("  3. Use IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	log.Info("  - GOMIAN_S3_ENDPOINT and GOMIAN_S3_FORCE_PATH_STYLE=true")
	log.Info("")
}
