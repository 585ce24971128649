package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// Handler executes control commands. Every successful call returns the
// current status.
type Handler interface {
	Handle(cmd Command) (*Status, error)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(cmd Command) (*Status, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(cmd Command) (*Status, error) { return f(cmd) }

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// Server accepts control sessions on a listener and runs each request
// through a [Handler].
type Server struct {
	ln      net.Listener
	address string
	h       Handler

	// mu guards conns.
	mu    sync.Mutex
	conns map[net.Conn]struct{}

	closed atomic.Bool
	wg     sync.WaitGroup
}

// Listen opens the control endpoint at address. Call [Server.Serve] to
// accept sessions.
func Listen(address string, h Handler) (*Server, error) {
	ln, err := listen(address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	return NewServer(ln, address, h), nil
}

// NewServer wraps an existing listener.
func NewServer(ln net.Listener, address string, h Handler) *Server {
	return &Server{
		ln:      ln,
		address: address,
		h:       h,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Address returns the address the server listens on.
func (s *Server) Address() string {
	return s.address
}

// Serve accepts sessions until [Server.Close] is called, then returns nil.
func (s *Server) Serve() error {
	slog.Info("control endpoint listening", "address", s.address)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn, true) {
			conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			s.ServeConn(conn)
		}()
	}
}

// Close stops accepting, closes open sessions and waits for their
// goroutines.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()
	// Taking mu orders this after any track call that saw closed == false.
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	cleanup(s.address)
	return err
}

// track adds or removes conn from the open set and the wait group. It
// refuses additions after Close.
func (s *Server) track(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.conns, conn)
		return true
	}
	if s.closed.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

// ///////////////////////////////////////////////
// Sessions
// ///////////////////////////////////////////////

// ServeConn runs one session on conn: a handshake followed by requests
// until the client sends OpClose or the connection drops.
func (s *Server) ServeConn(conn net.Conn) {
	if err := s.handshake(conn); err != nil {
		slog.Debug("control handshake failed", "error", err)
		return
	}
	for {
		op, payload, err := DecodeFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Debug("control session ended", "error", err)
			}
			return
		}
		switch op {
		case OpClose:
			return
		case OpRequest:
			if err := s.respond(conn, s.handle(payload)); err != nil {
				slog.Debug("control response failed", "error", err)
				return
			}
		default:
			s.respond(conn, Response{Error: fmt.Sprintf("unexpected opcode %d", op)})
			return
		}
	}
}

// handshake reads the client's hello and accepts or rejects it.
func (s *Server) handshake(conn net.Conn) error {
	op, payload, err := DecodeFrame(conn)
	if err != nil {
		return err
	}
	if op != OpHandshake {
		s.respond(conn, Response{Error: "expected handshake"})
		return fmt.Errorf("unexpected opcode %d before handshake", op)
	}
	var h hello
	if err := json.Unmarshal(payload, &h); err != nil {
		s.respond(conn, Response{Error: "malformed handshake"})
		return fmt.Errorf("parsing handshake: %w", err)
	}
	if h.V != ProtocolVersion {
		s.respond(conn, Response{Error: fmt.Sprintf("unsupported protocol version %d", h.V)})
		return fmt.Errorf("client protocol version %d", h.V)
	}
	slog.Debug("control session opened", "client", h.Client)
	return s.respond(conn, Response{OK: true})
}

// handle decodes and executes one request.
func (s *Server) handle(payload []byte) Response {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Response{Error: "malformed request"}
	}
	resp := Response{Nonce: req.Nonce}
	if _, err := ParseCommand(string(req.Cmd)); err != nil {
		resp.Error = err.Error()
		return resp
	}
	st, err := s.h.Handle(req.Cmd)
	if err != nil {
		slog.Warn("control command failed", "cmd", req.Cmd, "error", err)
		resp.Error = err.Error()
		return resp
	}
	slog.Info("control command", "cmd", req.Cmd)
	resp.OK = true
	resp.Status = st
	return resp
}

func (s *Server) respond(conn net.Conn, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling response: %w", err)
	}
	return WriteFrame(conn, OpResponse, payload)
}
