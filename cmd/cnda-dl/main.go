// SPDX-License-Identifier: MIT

// Command cnda-dl downloads MRI session data from an XNAT archive.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/washu-ocean/cnda-dl/internal/api"
	"github.com/washu-ocean/cnda-dl/internal/config"
	"github.com/washu-ocean/cnda-dl/internal/jobs"
	xlog "github.com/washu-ocean/cnda-dl/internal/log"
	"github.com/washu-ocean/cnda-dl/internal/manifest"
	"github.com/washu-ocean/cnda-dl/internal/telemetry"
	"github.com/washu-ocean/cnda-dl/internal/xnat"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

type options struct {
	dicomDir     string
	xmlDir       string
	project      string
	startScan    string
	byExperiment bool
	ignoreNordic bool
	skipUnusable bool
	assumeYes    bool
	showVersion  bool
}

func registerFlags(fs *flag.FlagSet, opts *options) {
	fs.StringVar(&opts.dicomDir, "d", "", "shorthand for -dicom-dir")
	fs.StringVar(&opts.dicomDir, "dicom-dir", "", "directory to download the DICOM files into (required)")
	fs.StringVar(&opts.xmlDir, "x", "", "shorthand for -xml-dir")
	fs.StringVar(&opts.xmlDir, "xml-dir", "", "directory to download the session XML files into (defaults to the DICOM directory)")
	fs.StringVar(&opts.project, "p", "", "shorthand for -project")
	fs.StringVar(&opts.project, "project", "", "project ID the sessions belong to (required unless -experiment-id is set)")
	fs.StringVar(&opts.startScan, "s", "", "shorthand for -scan")
	fs.StringVar(&opts.startScan, "scan", "", "scan number to start the download at (single session only)")
	fs.BoolVar(&opts.byExperiment, "e", false, "shorthand for -experiment-id")
	fs.BoolVar(&opts.byExperiment, "experiment-id", false, "treat the session arguments as experiment IDs instead of subject labels")
	fs.BoolVar(&opts.ignoreNordic, "n", false, "shorthand for -ignore-nordic")
	fs.BoolVar(&opts.ignoreNordic, "ignore-nordic", false, "do not download or distribute NORDIC volumes")
	fs.BoolVar(&opts.skipUnusable, "skip-unusable", false, "skip scans marked unusable in the session document")
	fs.BoolVar(&opts.assumeYes, "yes", false, "assume yes to all prompts (create directories without asking)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] SESSION [SESSION...]\n\n", fs.Name())
		fmt.Fprintf(fs.Output(), "Downloads MRI sessions from the XNAT archive at %s.\n\nFlags:\n", config.EnvXNATURL)
		fs.PrintDefaults()
	}
}

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

// confirmDir asks before creating a missing directory. A declined prompt is
// reported as ok=false with no error.
func confirmDir(in *bufio.Reader, dir string, assumeYes bool) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", dir, err)
	}

	if !assumeYes {
		fmt.Printf("Directory %s does not exist. Create it? [y/N] ", dir)
		answer, err := in.ReadString('\n')
		if err != nil {
			return false, fmt.Errorf("read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			return false, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", dir, err)
	}
	return true, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("cnda-dl", flag.ExitOnError)
	var opts options
	registerFlags(fs, &opts)
	fs.Usage = usage(fs)
	_ = fs.Parse(args)

	if opts.showVersion {
		fmt.Printf("cnda-dl %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	sessions := fs.Args()
	switch {
	case len(sessions) == 0:
		fmt.Fprintln(os.Stderr, "error: at least one session is required")
		fs.Usage()
		return 2
	case opts.dicomDir == "":
		fmt.Fprintln(os.Stderr, "error: -dicom-dir is required")
		fs.Usage()
		return 2
	case opts.startScan != "" && len(sessions) != 1:
		fmt.Fprintln(os.Stderr, "error: -scan can only be used with a single session")
		return 2
	case !opts.byExperiment && opts.project == "":
		fmt.Fprintln(os.Stderr, "error: -project is required when sessions are subject labels")
		return 2
	}

	// The logger has to exist before config.Load: the env helpers log which
	// variables they read. LogSettings resolves level and file with the same
	// precedence Load uses, so the YAML keys are honoured too.
	cfgPath := config.DefaultFilePath()
	logLevel, logFile := config.LogSettings(cfgPath)
	xlog.Configure(xlog.Config{
		Level:   logLevel,
		File:    logFile,
		Service: "cnda-dl",
		Version: version,
		Console: true,
	})
	logger := xlog.WithComponent("cli")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if errors.Is(err, config.ErrMissingBaseURL) {
			fmt.Fprintf(os.Stderr, "error: %s is not set\n", config.EnvXNATURL)
			fmt.Fprintf(os.Stderr, "Point it at your XNAT archive, e.g. export %s=https://cnda.wustl.edu\n", config.EnvXNATURL)
			return 1
		}
		logger.Error().
			Err(err).
			Str(xlog.FieldEvent, "config.load_failed").
			Msg("failed to load configuration")
		return 1
	}

	stdin := bufio.NewReader(os.Stdin)
	for _, dir := range targetDirs(opts) {
		ok, err := confirmDir(stdin, dir, opts.assumeYes)
		if err != nil {
			logger.Error().Err(err).Str(xlog.FieldPath, dir).Msg("cannot prepare output directory")
			return 1
		}
		if !ok {
			fmt.Println("Nothing downloaded.")
			return 0
		}
	}

	runID := uuid.NewString()
	ctx = xlog.ContextWithRunID(ctx, runID)
	logger = xlog.WithComponentFromContext(ctx, "cli")

	logger.Info().
		Str(xlog.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str(xlog.FieldBaseURL, maskURL(cfg.BaseURL)).
		Bool("auth", cfg.Username != "").
		Int("sessions", len(sessions)).
		Msg("starting cnda-dl")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TraceExporter != "",
		ServiceName:    "cnda-dl",
		ServiceVersion: version,
		ExporterType:   cfg.TraceExporter,
		Endpoint:       cfg.TraceEndpoint,
		SamplingRate:   cfg.TraceSampling,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise tracing")
		return 1
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// A broken manifest only costs resume support, never the download.
	var store jobs.Manifest
	dbPath := filepath.Join(opts.dicomDir, ".cnda-dl", "manifest.db")
	if m, err := manifest.Open(dbPath); err != nil {
		logger.Warn().
			Err(err).
			Str(xlog.FieldPath, dbPath).
			Msg("manifest unavailable, downloads will not resume")
	} else {
		defer m.Close()
		store = m
	}

	client := xnat.New(cfg.BaseURL, xnat.Options{
		Username:  cfg.Username,
		Password:  cfg.Password,
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})

	tracker := jobs.NewTracker()
	if cfg.MetricsListen != "" {
		srv := api.NewServer(tracker, version)
		go func() {
			if err := api.Serve(ctx, cfg.MetricsListen, srv.Handler()); err != nil {
				logger.Error().Err(err).Msg("status listener failed")
			}
		}()
	}

	dl, err := jobs.NewDownloader(client, store, tracker, jobs.Config{
		DicomDir:       opts.dicomDir,
		XMLDir:         opts.xmlDir,
		Project:        opts.project,
		ByExperimentID: opts.byExperiment,
		StartScan:      opts.startScan,
		SkipUnusable:   opts.skipUnusable,
		IgnoreNordic:   opts.ignoreNordic,
		Concurrency:    cfg.Concurrency,
		Retries:        cfg.Retries,
	})
	if err != nil {
		logger.Error().Err(err).Msg("invalid download configuration")
		return 1
	}

	failed := 0
	for _, session := range sessions {
		st, err := dl.Run(ctx, session)
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn().
					Str(xlog.FieldSession, session).
					Msg("download interrupted")
				return 1
			}
			failed++
			logger.Error().
				Err(err).
				Str(xlog.FieldSession, session).
				Msg("session download failed")
			continue
		}
		if len(st.UnconvertedSeries) > 0 {
			logger.Warn().
				Str(xlog.FieldSession, session).
				Strs("series", st.UnconvertedSeries).
				Msg("some series were left unconverted, inspect them manually")
		}
	}

	if failed > 0 {
		logger.Error().
			Int("failed", failed).
			Int("sessions", len(sessions)).
			Msg("finished with failures")
		return 1
	}
	logger.Info().Str(xlog.FieldEvent, "shutdown").Msg("all sessions downloaded")
	return 0
}

// targetDirs lists the directories the run needs, deduplicated.
func targetDirs(opts options) []string {
	dirs := []string{opts.dicomDir}
	if opts.xmlDir != "" && opts.xmlDir != opts.dicomDir {
		dirs = append(dirs, opts.xmlDir)
	}
	return dirs
}
