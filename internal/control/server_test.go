// Tests for [Server] and [Client] covering the handshake, command dispatch,
// rejected requests, and session lifecycle over in-memory pipes.
package control

import (
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

// recorder is a Handler that records commands and fails on demand.
type recorder struct {
	mu   sync.Mutex
	cmds []Command
	fail map[Command]error
}

func (r *recorder) Handle(cmd Command) (*Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	if err := r.fail[cmd]; err != nil {
		return nil, err
	}
	return &Status{Service: "appcored", PID: 42, State: "running"}, nil
}

func (r *recorder) seen() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.cmds...)
}

// pipeSession starts ServeConn on one end of a pipe and returns a client
// on the other end after a successful handshake.
func pipeSession(t *testing.T, h Handler) *Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	srv := NewServer(nil, "pipe", h)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeConn(serverConn)
		serverConn.Close()
	}()

	c := newClient(clientConn, time.Second)
	if err := c.handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("session did not end after client close")
		}
	})
	return c
}

// ///////////////////////////////////////////////
// Commands
// ///////////////////////////////////////////////

func TestParseCommand(t *testing.T) {
	for _, c := range Commands {
		got, err := ParseCommand(string(c))
		if err != nil || got != c {
			t.Errorf("ParseCommand(%q) = %q, %v", c, got, err)
		}
	}
	if _, err := ParseCommand("explode"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("ParseCommand(explode) err = %v, want ErrUnknownCommand", err)
	}
}

// ///////////////////////////////////////////////
// Sessions
// ///////////////////////////////////////////////

func TestSession_Commands(t *testing.T) {
	rec := &recorder{}
	c := pipeSession(t, rec)

	for _, cmd := range []Command{CmdPing, CmdStatus, CmdPause, CmdResume, CmdStop} {
		resp, err := c.Send(cmd)
		if err != nil {
			t.Fatalf("Send(%s): %v", cmd, err)
		}
		if !resp.OK || resp.Status == nil || resp.Status.PID != 42 {
			t.Fatalf("Send(%s) response = %+v", cmd, resp)
		}
	}

	got := rec.seen()
	want := []Command{CmdPing, CmdStatus, CmdPause, CmdResume, CmdStop}
	if len(got) != len(want) {
		t.Fatalf("handled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSession_HandlerError(t *testing.T) {
	rec := &recorder{fail: map[Command]error{CmdReload: errors.New("config invalid")}}
	c := pipeSession(t, rec)

	resp, err := c.Send(CmdReload)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if resp == nil || resp.OK || !strings.Contains(resp.Error, "config invalid") {
		t.Fatalf("response = %+v", resp)
	}

	// The session survives a failed command.
	if _, err := c.Send(CmdStatus); err != nil {
		t.Fatalf("Send after failure: %v", err)
	}
}

func TestSession_UnknownCommand(t *testing.T) {
	rec := &recorder{}
	c := pipeSession(t, rec)

	_, err := c.Send(Command("explode"))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if len(rec.seen()) != 0 {
		t.Errorf("handler saw %v, want nothing", rec.seen())
	}
}

func TestClient_SendAfterClose(t *testing.T) {
	c := pipeSession(t, &recorder{})
	c.Close()
	if _, err := c.Send(CmdStatus); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// ///////////////////////////////////////////////
// Handshake
// ///////////////////////////////////////////////

func TestHandshake_WrongVersion(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	srv := NewServer(nil, "pipe", &recorder{})
	go func() {
		srv.ServeConn(serverConn)
		serverConn.Close()
	}()

	payload, _ := json.Marshal(hello{V: ProtocolVersion + 1})
	if err := WriteFrame(clientConn, OpHandshake, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	op, data, err := DecodeFrame(clientConn)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	var resp Response
	json.Unmarshal(data, &resp)
	if op != OpResponse || resp.OK || !strings.Contains(resp.Error, "protocol version") {
		t.Fatalf("got op %d response %+v", op, resp)
	}

	// The server hangs up after a failed handshake.
	if _, _, err := DecodeFrame(clientConn); err == nil {
		t.Fatal("expected connection to be closed")
	}
}

func TestHandshake_RequestFirst(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	srv := NewServer(nil, "pipe", &recorder{})
	go func() {
		srv.ServeConn(serverConn)
		serverConn.Close()
	}()

	if err := WriteFrame(clientConn, OpRequest, []byte(`{"cmd":"stop"}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	_, data, err := DecodeFrame(clientConn)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	var resp Response
	json.Unmarshal(data, &resp)
	if resp.OK {
		t.Fatal("request before handshake was accepted")
	}
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

func TestStatus_Uptime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Status{Started: now.Add(-90*time.Second - 300*time.Millisecond)}
	if got := s.Uptime(now); got != 90*time.Second {
		t.Errorf("Uptime = %v, want 90s", got)
	}
	if got := (&Status{}).Uptime(now); got != 0 {
		t.Errorf("zero Started Uptime = %v, want 0", got)
	}
}
