//go:build !windows

package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tools.zach/dev/appcore/internal/control"
)

// fakeDaemon serves the control protocol on a short socket path and
// records the commands it receives.
type fakeDaemon struct {
	addr string

	mu      sync.Mutex
	cmds    []control.Command
	fail    error
	noLevel bool
}

func startFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	dir, err := os.MkdirTemp("", "actl")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	fd := &fakeDaemon{addr: filepath.Join(dir, "d.sock")}
	srv, err := control.Listen(fd.addr, control.HandlerFunc(fd.handle))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return fd
}

func (fd *fakeDaemon) handle(cmd control.Command) (*control.Status, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.cmds = append(fd.cmds, cmd)
	if fd.fail != nil {
		return nil, fd.fail
	}
	st := &control.Status{
		Service:  "appcored",
		Version:  "9.9.9",
		PID:      1234,
		State:    "running",
		LogLevel: "info",
		Started:  time.Now().Add(-time.Hour),
	}
	if fd.noLevel {
		st.LogLevel = ""
	}
	return st, nil
}

func (fd *fakeDaemon) received() []control.Command {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return append([]control.Command(nil), fd.cmds...)
}

func TestActions(t *testing.T) {
	fd := startFakeDaemon(t)
	for _, tt := range []struct {
		args []string
		cmd  control.Command
		out  string
	}{
		{[]string{"stop"}, control.CmdStop, "stop requested"},
		{[]string{"pause"}, control.CmdPause, "pause requested"},
		{[]string{"resume"}, control.CmdResume, "resume requested"},
		{[]string{"reload"}, control.CmdReload, "reload requested"},
		{[]string{"rotate"}, control.CmdRotate, "log rotation requested"},
		{[]string{"ping"}, control.CmdPing, "pong"},
		{[]string{"status"}, control.CmdStatus, "state:      running"},
	} {
		t.Run(string(tt.cmd), func(t *testing.T) {
			before := len(fd.received())
			out, err := execute(t, append(tt.args, "--address", fd.addr)...)
			if err != nil {
				t.Fatalf("%v: %v", tt.args, err)
			}
			if !strings.Contains(out, tt.out) {
				t.Errorf("output %q does not contain %q", out, tt.out)
			}
			got := fd.received()
			if len(got) != before+1 || got[len(got)-1] != tt.cmd {
				t.Errorf("daemon received %v, want %s appended", got, tt.cmd)
			}
		})
	}
}

func TestStatusTable(t *testing.T) {
	fd := startFakeDaemon(t)
	out, err := execute(t, "status", "--address", fd.addr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{
		"service:    appcored\n",
		"state:      running\n",
		"log level:  info\n",
		"watching:   false\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	fd.mu.Lock()
	fd.noLevel = true
	fd.mu.Unlock()
	out, err = execute(t, "status", "--address", fd.addr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.Contains(out, "log level") {
		t.Errorf("log level row printed without a level:\n%s", out)
	}
	if !strings.Contains(out, "state:     running\n") {
		t.Errorf("status output not realigned without the level row:\n%s", out)
	}
}

func TestStatusJSON(t *testing.T) {
	fd := startFakeDaemon(t)
	out, err := execute(t, "status", "--json", "--address", fd.addr)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var st control.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if st.PID != 1234 || st.Version != "9.9.9" {
		t.Errorf("status = %+v", st)
	}
}

func TestRejectedCommand(t *testing.T) {
	fd := startFakeDaemon(t)
	fd.mu.Lock()
	fd.fail = errors.New("not now")
	fd.mu.Unlock()

	_, err := execute(t, "pause", "--address", fd.addr)
	if !errors.Is(err, control.ErrRejected) || !strings.Contains(err.Error(), "not now") {
		t.Errorf("pause error = %v, want rejection carrying the daemon's message", err)
	}
}

func TestDaemonNotRunning(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "missing.sock")
	_, err := execute(t, "status", "--address", addr, "--timeout", "200ms")
	if err == nil || !strings.Contains(err.Error(), "daemon is not running") {
		t.Errorf("status error = %v, want daemon is not running", err)
	}
}
