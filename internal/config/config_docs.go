package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "signals.terminate")
// to their [FieldDoc] entries. The genconfig tool uses this map to annotate the
// generated config.default.toml with inline comments and alternative examples.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	// ── Service ──────────────────────────────────────────────────
	"service.name": {
		Comment: "Name registered with the service manager. Also seeds the single-instance id\nand the default control pipe name on Windows.",
	},
	"service.model": {
		Comment: "Launch model. Options: \"interactive\", \"background\"\n  interactive: run in the foreground until a terminate signal arrives\n  background:  run under the Windows service control manager when started by it;\n               identical to interactive everywhere else",
		Alternatives: []string{
			`model = "background"`,
		},
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment: "Log level: trace, debug, info, warn, error",
		Alternatives: []string{
			`level = "debug"`,
		},
	},
	"log.max_size_mb": {
		Comment: "Maximum log file size in megabytes before rotation.",
	},

	// ── Signals ──────────────────────────────────────────────────
	"signals.terminate": {
		Comment: "Notifications bound to each lifecycle action.\nNames: POSIX signals (\"SIGTERM\", \"term\"), service events (\"service-stop\",\n\"service-shutdown\", \"service-pause\", \"service-continue\"), \"reload\", or \"event-N\".\nNames this platform cannot deliver are skipped at startup. event-16 through\nevent-20 are reserved for appctl requests.\n\nterminate: graceful stop. Must name at least one notification.",
	},
	"signals.pause": {
		Comment: "pause: suspend work until resumed.",
	},
	"signals.resume": {
		Comment: "resume: continue after a pause.",
	},
	"signals.reload": {
		Comment: "reload: re-read this file and apply the log level.",
	},
	"signals.rotate": {
		Comment: "rotate: close and rotate the log file.",
		Alternatives: []string{
			`rotate = ["SIGUSR1", "event-32"]`,
		},
	},

	// ── Instance ─────────────────────────────────────────────────
	"instance.single_instance": {
		Comment: "Refuse to start while another daemon with the same instance id is running.",
	},
	"instance.id": {
		Comment: "UUID naming the instance lock (optional). Empty derives one from service.name.",
		Alternatives: []string{
			`id = "6f1c1c4e-8d4b-4f5e-9a57-2b0f3f3c9e10"`,
		},
	},

	// ── Control ──────────────────────────────────────────────────
	"control.enabled": {
		Comment: "Local control endpoint used by appctl (stop, pause, resume, reload, rotate, status).",
	},
	"control.address": {
		Comment: "Endpoint address (optional). Empty uses appcored.sock in the data directory,\nor \\\\.\\pipe\\<service.name> on Windows.",
		Alternatives: []string{
			`address = "/run/appcored.sock"`,
		},
	},

	// ── Watch ────────────────────────────────────────────────────
	"watch.enabled": {
		Comment: "Reload the config when a matching file in the data directory changes.",
	},
	"watch.patterns": {
		Comment: "Doublestar globs relative to the data directory.",
		Alternatives: []string{
			`patterns = ["config.toml", "conf.d/**/*.toml"]`,
		},
	},
	"watch.poll_interval_seconds": {
		Comment: "Polling interval used when native file notifications are unavailable.",
	},

	// ── Notify ───────────────────────────────────────────────────
	"notify.url": {
		Comment: "Webhook receiving a JSON POST for every lifecycle transition (optional).",
		Alternatives: []string{
			`url = "https://hooks.example.com/appcored"`,
		},
	},
	"notify.retry_max": {
		Comment: "Retries after a failed delivery.",
	},
	"notify.timeout_seconds": {
		Comment: "Timeout for each delivery attempt.",
	},

	// ── Heartbeat ────────────────────────────────────────────────
	"heartbeat.interval_seconds": {
		Comment: "Seconds between heartbeat log lines. 0 disables them.",
		Alternatives: []string{
			`interval_seconds = 60`,
		},
	},
}
