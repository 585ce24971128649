package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tools.zach/dev/appcore/internal/buildinfo"
	"tools.zach/dev/appcore/internal/config"
	"tools.zach/dev/appcore/internal/control"
	"tools.zach/dev/appcore/internal/logger"
	"tools.zach/dev/appcore/internal/paths"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	dataDir string
	address string
	service string
	timeout time.Duration
	json    bool
}

// ///////////////////////////////////////////////
// Root Command
// ///////////////////////////////////////////////

// newRootCmd builds the appctl command tree.
func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   paths.CtlBinaryName,
		Short: "Control a running appcored",
		Long: `appctl sends lifecycle requests to a running appcored over its local
control endpoint: a Unix socket in the data directory, or a named pipe on
Windows. The endpoint address is read from the daemon's config.toml unless
--address is given.`,
		Version:       buildinfo.Resolve(version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", paths.DefaultRoot(), "Daemon data directory")
	cmd.PersistentFlags().StringVar(&opts.address, "address", "", "Control endpoint address (default: from config.toml)")
	cmd.PersistentFlags().StringVar(&opts.service, "service", "", "Service name used for the default Windows pipe (default: from config.toml)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", control.DefaultTimeout, "Timeout for connecting and for each request")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Print the daemon status as JSON")

	actions := []struct {
		cmd   control.Command
		short string
		done  string
	}{
		{control.CmdStop, "Request a graceful stop", "stop requested"},
		{control.CmdPause, "Pause the daemon", "pause requested"},
		{control.CmdResume, "Resume a paused daemon", "resume requested"},
		{control.CmdReload, "Reload config.toml", "reload requested"},
		{control.CmdRotate, "Rotate the log file", "log rotation requested"},
	}
	for _, a := range actions {
		cmd.AddCommand(newActionCmd(opts, a.cmd, a.short, a.done))
	}
	cmd.AddCommand(newStatusCmd(opts), newPingCmd(opts), newLogsCmd(opts))
	return cmd
}

// ///////////////////////////////////////////////
// Subcommands
// ///////////////////////////////////////////////

// newActionCmd builds a subcommand that sends c and reports the outcome.
func newActionCmd(opts *options, c control.Command, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   string(c),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := send(opts, c)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), resp.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   string(control.CmdStatus),
		Short: "Show the daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := send(opts, control.CmdStatus)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), resp.Status)
			}
			return writeStatus(cmd.OutOrStdout(), resp.Status, time.Now())
		},
	}
}

func newPingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   string(control.CmdPing),
		Short: "Check that the daemon is answering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			if _, err := send(opts, control.CmdPing); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong (%s)\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newLogsCmd(opts *options) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lines <= 0 {
				return fmt.Errorf("--lines must be > 0, got %d", lines)
			}
			dir := paths.DataDir{Root: opts.dataDir}
			tail, err := logger.ReadTail(dir.Log(), lines)
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
			if tail != "" {
				fmt.Fprintln(cmd.OutOrStdout(), tail)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to print")
	return cmd
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// resolveAddress picks the control endpoint: --address, then the daemon's
// config, then the platform default for the service name.
func resolveAddress(opts *options) (string, error) {
	if opts.address != "" {
		return opts.address, nil
	}
	cfg, err := readConfig(paths.DataDir{Root: opts.dataDir})
	if err != nil {
		return "", err
	}
	if !cfg.Control.Enabled {
		return "", errors.New("the control endpoint is disabled in the daemon config")
	}
	if cfg.Control.Address != "" {
		return cfg.Control.Address, nil
	}
	service := opts.service
	if service == "" {
		service = cfg.Service.Name
	}
	return control.DefaultAddress(paths.DataDir{Root: opts.dataDir}, service), nil
}

// readConfig parses the daemon's config without migrating it; upgrading
// the file is left to the daemon.
func readConfig(dir paths.DataDir) (*config.Config, error) {
	data, err := os.ReadFile(dir.Config())
	if err != nil {
		if os.IsNotExist(err) {
			return config.DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read daemon config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("read daemon config: %w", err)
	}
	return cfg, nil
}

// send dials the daemon, runs c and closes the session.
func send(opts *options, c control.Command) (*control.Response, error) {
	addr, err := resolveAddress(opts)
	if err != nil {
		return nil, err
	}
	client, err := control.Dial(addr, opts.timeout)
	if err != nil {
		if errors.Is(err, control.ErrUnavailable) {
			return nil, fmt.Errorf("daemon is not running (no control endpoint at %s)", addr)
		}
		return nil, err
	}
	defer client.Close()
	return client.Send(c)
}

// writeStatus prints st as aligned key/value lines.
func writeStatus(w io.Writer, st *control.Status, now time.Time) error {
	if st == nil {
		return errors.New("daemon returned no status")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "service:\t%s\n", st.Service)
	fmt.Fprintf(tw, "state:\t%s\n", st.State)
	fmt.Fprintf(tw, "pid:\t%d\n", st.PID)
	fmt.Fprintf(tw, "version:\t%s\n", st.Version)
	fmt.Fprintf(tw, "uptime:\t%s\n", st.Uptime(now))
	if st.InstanceID != "" {
		fmt.Fprintf(tw, "instance:\t%s\n", st.InstanceID)
	}
	if st.LogLevel != "" {
		fmt.Fprintf(tw, "log level:\t%s\n", st.LogLevel)
	}
	fmt.Fprintf(tw, "watching:\t%t\n", st.Watching)
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
