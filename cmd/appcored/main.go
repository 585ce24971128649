// Package main implements appcored, the reference daemon built on the
// application lifecycle library. It maps configured signals to terminate,
// pause, resume, reload and rotate actions, serves a local control endpoint
// for appctl, reloads its config when watched files change and posts
// lifecycle webhooks.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	rootpkg "tools.zach/dev/appcore"
	"tools.zach/dev/appcore/application"
	"tools.zach/dev/appcore/aspect"
	"tools.zach/dev/appcore/aspects"
	"tools.zach/dev/appcore/internal/atomicfile"
	"tools.zach/dev/appcore/internal/buildinfo"
	"tools.zach/dev/appcore/internal/config"
	"tools.zach/dev/appcore/internal/logger"
	"tools.zach/dev/appcore/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// Left unset, buildinfo.Resolve falls back to the embedded VCS info.
var version = buildinfo.Unset

// ///////////////////////////////////////////////
// Exit Codes
// ///////////////////////////////////////////////

const (
	exitOK      = 0
	exitSetup   = 1 // data directory, config, logger or binder setup failed
	exitRunning = 2 // another instance holds the lock
	exitService = 3 // a service failed while running
)

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", paths.DefaultRoot(), "Data directory for config, logs and the control socket")
	foreground := flag.Bool("foreground", false, "Also write log lines to stderr")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Resolve(version))
		return
	}

	var tee io.Writer
	if *foreground {
		tee = os.Stderr
	}
	os.Exit(run(paths.DataDir{Root: *dataDir}, tee, os.Args))
}

// run starts the daemon in dir and blocks until it stops, returning the
// process exit code. tee, when non-nil, receives a copy of every log line.
func run(dir paths.DataDir, tee io.Writer, argv []string) int {
	if err := os.MkdirAll(dir.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		return exitSetup
	}

	if err := writeDefaultConfig(dir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", err)
	}

	cfg, err := config.Load(dir.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		return exitSetup
	}

	log, sink, err := logger.NewLogger(logger.Options{
		Path:      dir.Log(),
		Level:     logger.ParseLevel(cfg.Log.Level),
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Tee:       tee,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		return exitSetup
	}
	defer sink.Close()
	slog.SetDefault(log)

	ver := buildinfo.Resolve(version)
	slog.Info("appcored starting", "version", ver, "data_dir", dir.Root, "model", cfg.Service.Model)

	model, err := application.ParseModel(cfg.Service.Model)
	if err != nil {
		slog.Error("invalid launch model", "error", err)
		return exitSetup
	}

	cx := application.NewContext()
	aspect.Insert(cx, aspects.NewArgs(argv))
	aspect.Insert(cx, aspects.NewPath(paths.AppName))
	aspect.Insert(cx, aspects.NewProcessID())

	if cfg.Instance.SingleInstance {
		si, err := aspects.NewSingleInstance(cfg.InstanceUUID(aspects.InstanceID), dir.Locks())
		if err != nil {
			slog.Error("failed to check for a running instance", "error", err)
			return exitSetup
		}
		if si.IsAnother() {
			slog.Error("daemon already running", "pid", si.OwnerPID(), "lock", si.Path())
			fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", si.OwnerPID())
			return exitRunning
		}
		defer func() {
			if err := si.Release(); err != nil {
				slog.Warn("failed to release instance lock", "error", err)
			}
		}()
		aspect.Insert(cx, si)
	}

	d := newDaemon(dir, cfg, sink, cx, ver)
	if err := d.bind(); err != nil {
		slog.Error("failed to bind signals", "error", err)
		return exitSetup
	}

	code, err := application.Launch(model, d.run, cx,
		application.WithSignalBinder(d.binder),
		application.WithServiceName(cfg.Service.Name),
		application.WithApplication(d),
	)
	if err != nil {
		slog.Error("launch failed", "error", err)
	}
	slog.Info("appcored exiting", "code", code)
	return code
}

// writeDefaultConfig seeds dir with the embedded default config on first
// run. An existing file is left alone.
func writeDefaultConfig(dir paths.DataDir) error {
	err := atomicfile.Create(dir.Config(), rootpkg.DefaultConfigTOML, 0o644)
	if errors.Is(err, atomicfile.ErrExists) {
		return nil
	}
	return err
}
