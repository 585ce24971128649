// Package control implements the daemon's local control endpoint: a framed
// JSON protocol over a Unix socket or, on Windows, a named pipe. appctl uses
// it to stop, pause, resume, reload and query a running daemon.
package control

import (
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion is sent in the handshake. Servers reject other versions.
const ProtocolVersion = 1

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrNotConnected is returned when a request is sent on a closed client.
	ErrNotConnected = errors.New("not connected")
	// ErrUnavailable is returned when no daemon is listening at the address.
	ErrUnavailable = errors.New("control endpoint not available")
	// ErrRejected wraps the message of a failed request.
	ErrRejected = errors.New("request rejected")
	// ErrUnknownCommand is returned for a command the protocol does not define.
	ErrUnknownCommand = errors.New("unknown command")
)

// ///////////////////////////////////////////////
// Commands
// ///////////////////////////////////////////////

// Command names a control request.
type Command string

const (
	CmdPing   Command = "ping"
	CmdStatus Command = "status"
	CmdStop   Command = "stop"
	CmdPause  Command = "pause"
	CmdResume Command = "resume"
	CmdReload Command = "reload"
	CmdRotate Command = "rotate"
)

// Commands lists every command in a stable order.
var Commands = []Command{CmdPing, CmdStatus, CmdStop, CmdPause, CmdResume, CmdReload, CmdRotate}

// ParseCommand validates s as a [Command].
func ParseCommand(s string) (Command, error) {
	for _, c := range Commands {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// ///////////////////////////////////////////////
// Messages
// ///////////////////////////////////////////////

// hello is the handshake payload.
type hello struct {
	V      int    `json:"v"`
	Client string `json:"client,omitempty"`
}

// Request is one command sent by a client.
type Request struct {
	Cmd   Command `json:"cmd"`
	Nonce string  `json:"nonce"`
}

// Response answers a [Request] or the handshake.
type Response struct {
	Nonce  string  `json:"nonce,omitempty"`
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Status is the daemon snapshot returned by every successful request.
type Status struct {
	Service    string    `json:"service"`
	Version    string    `json:"version"`
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	InstanceID string    `json:"instance_id,omitempty"`
	Started    time.Time `json:"started"`
	LogLevel   string    `json:"log_level,omitempty"`
	Watching   bool      `json:"watching"`
}

// Uptime returns how long the daemon has been running as of now.
func (s *Status) Uptime(now time.Time) time.Duration {
	if s.Started.IsZero() {
		return 0
	}
	return now.Sub(s.Started).Truncate(time.Second)
}
