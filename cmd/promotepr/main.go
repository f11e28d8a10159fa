package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/promotepr/internal/cfg"
	"github.com/simplesurance/promotepr/internal/changelog"
	"github.com/simplesurance/promotepr/internal/githubclt"
	"github.com/simplesurance/promotepr/internal/logfields"
	"github.com/simplesurance/promotepr/internal/metrics"
	"github.com/simplesurance/promotepr/internal/promote"
	"github.com/simplesurance/promotepr/internal/promoteerr"
)

const appName = "promotepr"

const (
	exitCodeFailure     = 1
	exitCodeConfigError = 2
)

const metricsPushTimeout = 30 * time.Second

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	code := exitCodeFailure
	var cfgErr *promoteerr.ConfigError
	if errors.As(err, &cfgErr) {
		code = exitCodeConfigError
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(code)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, exitCodeFailure)
	}
}

type arguments struct {
	Verbose        *bool
	ConfigFile     *string
	WorkDir        *string
	DryRun         *bool
	PushgatewayURL *string
	ShowVersion    *bool
}

var args arguments

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			"",
			"path to an optional promotepr configuration file",
		),
		WorkDir: pflag.StringP(
			"workdir",
			"C",
			".",
			"path to the checkout of the head branch, changelogs are read from it",
		),
		DryRun: pflag.Bool(
			"dry-run",
			false,
			"do not create or update the pull request, only log the result",
		),
		PushgatewayURL: pflag.String(
			"pushgateway-url",
			"",
			"push metrics to the prometheus pushgateway at this URL when terminating",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\n", appName)
		fmt.Fprintf(os.Stderr, "Create or update the pull request that promotes the main branch to production.\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  %-28s GitHub API token\n", cfg.EnvGithubToken)
		fmt.Fprintf(os.Stderr, "  %-28s GitHub repository, format: OWNER/NAME\n", cfg.EnvGithubRepo)
		fmt.Fprintf(os.Stderr, "  %-28s GitHub App ID, replaces the API token\n", "GITHUB_APP_ID")
		fmt.Fprintf(os.Stderr, "  %-28s GitHub App installation ID\n", cfg.EnvGithubAppInstallation)
		fmt.Fprintf(os.Stderr, "  %-28s GitHub App private key\n", cfg.EnvGithubAppPrivateKey)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	var config *cfg.Config

	if *args.ConfigFile == "" {
		config = cfg.Default()
	} else {
		file, err := os.Open(*args.ConfigFile)
		exitOnErr("could not open configuration file", err)
		defer file.Close()

		config, err = cfg.Load(file)
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	env, err := cfg.LoadEnv(context.Background(), nil)
	exitOnErr("could not load configuration from environment", err)

	config.ApplyEnv(env)

	exitOnErr("configuration is invalid", config.Validate())

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(exitCodeConfigError)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(exitCodeConfigError)
	}

	zap.ReplaceGlobals(logger)
	logger = logger.Named("main")

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func mustInitGithubClient(config *cfg.Config) *githubclt.Client {
	if !config.UseGithubApp() {
		return githubclt.New(config.GithubAPIToken)
	}

	key, err := config.GithubAppPrivateKey()
	exitOnErr("could not load github app private key", err)

	clt, err := githubclt.NewWithApp(config.GithubApp.AppID, config.GithubApp.InstallationID, key)
	exitOnErr("could not initialize github app client", err)

	return clt
}

func pushMetrics() {
	if *args.PushgatewayURL == "" {
		return
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), metricsPushTimeout)
	defer cancelFn()

	if err := metrics.Push(ctx, *args.PushgatewayURL); err != nil {
		logger.Warn(
			"pushing metrics failed",
			logfields.Event("metrics_push_failed"),
			zap.Error(err),
		)
		return
	}

	logger.Debug(
		"metrics pushed",
		logfields.Event("metrics_pushed"),
		zap.String("url", *args.PushgatewayURL),
	)
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func settingsFromCfg(config *cfg.Config) promote.Settings {
	owner, name, err := config.RepositoryOwnerAndName()
	exitOnErr("configuration is invalid", err)

	return promote.Settings{
		Owner:         owner,
		Repository:    name,
		Head:          config.HeadBranch,
		Base:          config.BaseBranch,
		Title:         config.PullRequestTitle,
		HeadingMarker: config.VersionHeadingMarker,
		Layout: changelog.Layout{
			ChangelogFile: config.ChangelogFile,
			PackagesDir:   config.PackagesDir,
		},
	}
}

func logRunFailed(err error) {
	fields := []zap.Field{logfields.Event("reconcile_failed"), zap.Error(err)}

	var hsErr *promoteerr.HostingServiceError
	if errors.As(err, &hsErr) && hsErr.Retryable {
		fields = append(fields, zap.Bool("retryable", true))
		if !hsErr.After.IsZero() {
			fields = append(fields, zap.Time("retry_after", hsErr.After))
		}
	}

	logger.Error("promoting failed", fields...)
}

func main() {
	defer panicHandler()

	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0)
	}

	config := mustParseCfg()

	mustInitLogger(config)

	settings := settingsFromCfg(config)

	logger.Info(
		"loaded configuration",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("workdir", *args.WorkDir),
		zap.Bool("dry_run", *args.DryRun),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.Int64("github_app_id", config.GithubApp.AppID),
		logfields.RepositoryOwner(settings.Owner),
		logfields.Repository(settings.Repository),
		logfields.HeadBranch(settings.Head),
		logfields.BaseBranch(settings.Base),
		zap.String("pull_request_title", settings.Title),
		zap.String("changelog_file", settings.Layout.ChangelogFile),
		zap.String("packages_dir", settings.Layout.PackagesDir),
		zap.String("version_heading_marker", settings.HeadingMarker),
		zap.String("log_format", config.LogFormat),
		zap.String("log_level", config.LogLevel),
	)

	var ghClient promote.GithubClient = mustInitGithubClient(config)
	if *args.DryRun {
		ghClient = promote.NewDryGithubClient(ghClient, zap.L())
	}

	ctx := context.Background()

	reconciler := promote.NewReconciler(ghClient, os.DirFS(*args.WorkDir), settings)

	result, err := reconciler.Reconcile(ctx)
	pushMetrics()
	if err != nil {
		logRunFailed(err)

		code := exitCodeFailure
		var cfgErr *promoteerr.ConfigError
		if errors.As(err, &cfgErr) {
			code = exitCodeConfigError
		}

		goodbye.Exit(ctx, code)
	}

	logger.Info(
		"promotion pull request is uptodate",
		logfields.Event("reconcile_finished"),
		logfields.State(string(result.State)),
		logfields.PullRequest(result.PullRequest.Number),
		zap.String("url", result.PullRequest.URL),
		zap.Int("changelog_parts", len(result.Body.Parts)),
		zap.Bool("body_unchanged", result.Unchanged),
	)

	goodbye.Exit(ctx, 0)
}
