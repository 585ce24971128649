package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"time"

	"tools.zach/dev/appcore/application"
	"tools.zach/dev/appcore/aspect"
	"tools.zach/dev/appcore/aspects"
	"tools.zach/dev/appcore/internal/config"
	"tools.zach/dev/appcore/internal/control"
	"tools.zach/dev/appcore/internal/logger"
	"tools.zach/dev/appcore/internal/notify"
	"tools.zach/dev/appcore/internal/paths"
	"tools.zach/dev/appcore/internal/watch"
)

// Control requests are raised as these events so they run on the binder's
// dispatch goroutine, serialized with every signal.
const (
	eventControlStop = application.EventUser + iota
	eventControlPause
	eventControlResume
	eventControlReload
	eventControlRotate
)

// shutdownTimeout bounds how long pending webhooks may delay exit.
const shutdownTimeout = 5 * time.Second

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// daemon holds the running services and the current configuration.
type daemon struct {
	dir     paths.DataDir
	cx      *application.Context
	binder  *application.SignalBinder
	sink    *logger.Sink
	version string
	started time.Time

	// mu guards cfg, which reload replaces.
	mu  sync.RWMutex
	cfg *config.Config

	notifier *notify.Notifier
	server   *control.Server
	watcher  *watch.Watcher

	// load reads the config on reload; tests replace it.
	load func(dataDir string) (*config.Config, error)
}

// newDaemon wires a daemon for cx. Services start in [daemon.run].
func newDaemon(dir paths.DataDir, cfg *config.Config, sink *logger.Sink, cx *application.Context, ver string) *daemon {
	d := &daemon{
		dir:     dir,
		cx:      cx,
		binder:  application.NewSignalBinder(cx),
		sink:    sink,
		version: ver,
		started: time.Now(),
		cfg:     cfg,
		load:    config.Load,
	}
	d.notifier = notify.New(notify.Options{
		URL:      cfg.Notify.URL,
		RetryMax: cfg.Notify.RetryMax,
		Timeout:  time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
		Service:  cfg.Service.Name,
		Instance: cfg.InstanceUUID(aspects.InstanceID).String(),
		PID:      os.Getpid(),
		Version:  ver,
	})
	return d
}

// config returns the current configuration.
func (d *daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// state returns the run state held by the Status aspect.
func (d *daemon) state() application.State {
	if st, ok := aspect.Find[*application.Status](d.cx); ok {
		return st.State()
	}
	return application.Running
}

// ///////////////////////////////////////////////
// Bindings
// ///////////////////////////////////////////////

// bind maps every configured signal name to its action and reserves the
// control events. Names this platform cannot deliver are skipped.
func (d *daemon) bind() error {
	cfg := d.config()
	actions := []struct {
		name  string
		names []string
		cb    application.Callback
	}{
		{"terminate", cfg.Signals.Terminate, d.terminate},
		{"pause", cfg.Signals.Pause, d.pause},
		{"resume", cfg.Signals.Resume, d.resume},
		{"reload", cfg.Signals.Reload, d.reload},
		{"rotate", cfg.Signals.Rotate, d.rotate},
	}
	for _, a := range actions {
		for _, id := range resolveSignals(a.name, a.names) {
			if err := d.binder.Bind(id, a.cb); err != nil {
				return fmt.Errorf("bind %v to %s: %w", id, a.name, err)
			}
		}
	}

	controls := []struct {
		id application.Event
		cb application.Callback
	}{
		{eventControlStop, d.terminate},
		{eventControlPause, d.pause},
		{eventControlResume, d.resume},
		{eventControlReload, d.reload},
		{eventControlRotate, d.rotate},
	}
	for _, c := range controls {
		if d.binder.IsBound(c.id) {
			slog.Warn("control event replaces configured binding", "event", c.id)
		}
		if err := d.binder.Bind(c.id, c.cb); err != nil {
			return fmt.Errorf("bind control event %v: %w", c.id, err)
		}
	}
	return nil
}

// resolveSignals parses names for action, logging and skipping the ones
// this platform cannot deliver. Duplicates are dropped.
func resolveSignals(action string, names []string) []os.Signal {
	seen := make(map[os.Signal]bool, len(names))
	var out []os.Signal
	for _, n := range names {
		id, err := application.ParseSignal(n)
		if err != nil {
			slog.Warn("skipping signal", "action", action, "name", n, "error", err)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ///////////////////////////////////////////////
// Actions
// ///////////////////////////////////////////////

func (d *daemon) terminate() bool { return application.RequestTermination(d.cx) }
func (d *daemon) pause() bool     { return application.RequestPause(d.cx) }
func (d *daemon) resume() bool    { return application.RequestResume(d.cx) }

// reload re-reads the config file. On failure the current config stays in
// effect. Only log.level and watch.patterns apply immediately; other
// changes are logged and wait for a restart.
func (d *daemon) reload() bool {
	cfg, err := d.load(d.dir.Root)
	if err != nil {
		slog.Error("reload failed, keeping current config", "error", err)
		return false
	}

	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	d.sink.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if keys := restartRequired(old, cfg); len(keys) > 0 {
		slog.Warn("config changes take effect after restart", "sections", keys)
	}
	slog.Info("config reloaded", "log_level", cfg.Log.Level)
	d.event(notify.Reloaded)
	return true
}

// restartRequired lists the config sections that differ between old and
// cfg but are only read at startup.
func restartRequired(old, cfg *config.Config) []string {
	var keys []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			keys = append(keys, name)
		}
	}
	check("service", old.Service, cfg.Service)
	check("log.max_size_mb", old.Log.MaxSizeMB, cfg.Log.MaxSizeMB)
	check("signals", old.Signals, cfg.Signals)
	check("instance", old.Instance, cfg.Instance)
	check("control", old.Control, cfg.Control)
	check("watch.enabled", old.Watch.Enabled, cfg.Watch.Enabled)
	check("watch.poll_interval_seconds", old.Watch.PollIntervalSeconds, cfg.Watch.PollIntervalSeconds)
	check("notify", old.Notify, cfg.Notify)
	check("heartbeat", old.Heartbeat, cfg.Heartbeat)
	return keys
}

// rotate starts a fresh log file.
func (d *daemon) rotate() bool {
	if err := d.sink.Rotate(); err != nil {
		slog.Error("log rotation failed", "error", err)
		return false
	}
	slog.Info("log rotated")
	return true
}

// ///////////////////////////////////////////////
// Lifecycle Handlers
// ///////////////////////////////////////////////

// Stop is the termination handler. It never vetoes.
func (d *daemon) Stop() bool {
	d.event(notify.Stopping)
	return true
}

// Pause is the pause handler. Pausing suspends the heartbeat.
func (d *daemon) Pause() bool {
	if d.state() == application.Running {
		d.event(notify.Paused)
	}
	return true
}

// Resume is the resume handler.
func (d *daemon) Resume() bool {
	if d.state() == application.Paused {
		d.event(notify.Resumed)
	}
	return true
}

// event queues a lifecycle webhook.
func (d *daemon) event(kind notify.Kind) {
	if err := d.notifier.Notify(kind); err != nil {
		slog.Warn("failed to queue lifecycle notification", "event", kind, "error", err)
	}
}

// ///////////////////////////////////////////////
// Control Endpoint
// ///////////////////////////////////////////////

// Handle implements control.Handler. State-changing commands are raised on
// the binder and acknowledged before they run.
func (d *daemon) Handle(cmd control.Command) (*control.Status, error) {
	var ev application.Event
	switch cmd {
	case control.CmdPing, control.CmdStatus:
		return d.status(), nil
	case control.CmdStop:
		ev = eventControlStop
	case control.CmdPause:
		ev = eventControlPause
	case control.CmdResume:
		ev = eventControlResume
	case control.CmdReload:
		ev = eventControlReload
	case control.CmdRotate:
		ev = eventControlRotate
	default:
		return nil, fmt.Errorf("%w: %q", control.ErrUnknownCommand, cmd)
	}
	if err := d.binder.Raise(ev); err != nil {
		return nil, err
	}
	return d.status(), nil
}

// status snapshots the daemon for control clients.
func (d *daemon) status() *control.Status {
	cfg := d.config()
	st := &control.Status{
		Service:  cfg.Service.Name,
		Version:  d.version,
		PID:      os.Getpid(),
		State:    d.state().String(),
		Started:  d.started,
		LogLevel: logger.LevelName(d.sink.Level()),
		Watching: d.watcher != nil,
	}
	if pid, ok := aspect.Find[*aspects.ProcessID](d.cx); ok {
		st.PID = pid.PID()
	}
	if si, ok := aspect.Find[*aspects.SingleInstance](d.cx); ok {
		st.InstanceID = si.ID().String()
	}
	return st
}

// ///////////////////////////////////////////////
// Main Loop
// ///////////////////////////////////////////////

// run is the daemon's main function. It starts the services, then waits
// for termination while forwarding watcher changes and heartbeats.
func (d *daemon) run() int {
	gate := aspect.MustGet[*application.WaitForTermination](d.cx)
	cfg := d.config()

	if err := d.startServices(cfg); err != nil {
		slog.Error("failed to start services", "error", err)
		d.stopServices()
		d.closeNotifier()
		return exitService
	}

	serveErr := make(chan error, 1)
	if d.server != nil {
		go func() { serveErr <- d.server.Serve() }()
		slog.Info("control endpoint listening", "address", d.server.Address())
	}

	var changes <-chan struct{}
	if d.watcher != nil {
		changes = d.watcher.Events()
	}

	var heartbeat <-chan time.Time
	if cfg.Heartbeat.IntervalSeconds > 0 {
		t := time.NewTicker(time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second)
		defer t.Stop()
		heartbeat = t.C
	}

	d.event(notify.Started)
	slog.Info("appcored running", "pid", os.Getpid())

	code := exitOK
	for done := false; !done; {
		select {
		case <-gate.Done():
			done = true

		case err := <-serveErr:
			if err != nil {
				slog.Error("control endpoint failed", "error", err)
				code = exitService
				done = true
			}

		case <-changes:
			slog.Debug("watched file changed")
			if err := d.binder.Raise(eventControlReload); err != nil {
				slog.Warn("failed to request reload", "error", err)
			}

		case <-heartbeat:
			d.heartbeat()
		}
	}

	d.stopServices()
	d.event(notify.Stopped)
	d.closeNotifier()
	return code
}

// startServices opens the control endpoint and the watcher that cfg
// enables. A watcher failure is logged; a control endpoint failure is
// returned.
func (d *daemon) startServices(cfg *config.Config) error {
	if cfg.Watch.Enabled {
		w, err := watch.New(watch.Options{
			Dir:          d.dir.Root,
			Match:        d.matchesWatch,
			PollInterval: time.Duration(cfg.Watch.PollIntervalSeconds) * time.Second,
		})
		if err != nil {
			slog.Warn("file watching disabled", "error", err)
		} else {
			d.watcher = w
			if w.Polling() {
				slog.Info("using polling mode for file watching")
			}
		}
	}

	if cfg.Control.Enabled {
		addr := cfg.Control.Address
		if addr == "" {
			addr = control.DefaultAddress(d.dir, cfg.Service.Name)
		}
		srv, err := control.Listen(addr, d)
		if err != nil {
			return fmt.Errorf("start control endpoint: %w", err)
		}
		d.server = srv
	}
	return nil
}

// stopServices closes whatever startServices opened.
func (d *daemon) stopServices() {
	if d.server != nil {
		if err := d.server.Close(); err != nil {
			slog.Warn("failed to close control endpoint", "error", err)
		}
	}
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			slog.Warn("failed to close watcher", "error", err)
		}
	}
}

// closeNotifier flushes pending webhooks, giving up after shutdownTimeout.
func (d *daemon) closeNotifier() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.notifier.Close(ctx); err != nil {
		slog.Warn("undelivered lifecycle notifications", "error", err)
	}
}

// matchesWatch consults the current patterns, so a reload that changes
// them applies to the next file event.
func (d *daemon) matchesWatch(rel string) bool {
	return d.config().MatchesWatch(rel)
}

// heartbeat logs a liveness line unless the daemon is paused.
func (d *daemon) heartbeat() {
	if d.state() == application.Paused {
		logger.Trace(slog.Default(), "heartbeat skipped while paused")
		return
	}
	slog.Info("heartbeat", "uptime", time.Since(d.started).Truncate(time.Second).String())
}
