package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatesql/gatesql/internal/crypt"
	"github.com/gatesql/gatesql/internal/observability"
	"github.com/gatesql/gatesql/internal/protocol"
)

// Dispatcher turns a decoded request into a response. Implementations
// must not panic for argument-level problems; a panic is treated as
// protocol-fatal for the offending connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.Request) protocol.Response
}

// Options tune the gateway listener.
type Options struct {
	Listen         string
	MaxConnections int
	MaxDBWorkers   int
	IdleTimeout    time.Duration
	Limits         protocol.Limits
}

func (o *Options) applyDefaults() {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 256
	}
	if o.MaxDBWorkers <= 0 {
		o.MaxDBWorkers = 16
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Minute
	}
	if o.Limits == (protocol.Limits{}) {
		o.Limits = protocol.DefaultLimits()
	}
}

// Server accepts gateway connections and drives one protocol state
// machine per socket. Each connection runs on its own goroutine; the Go
// runtime's netpoller does the readiness multiplexing underneath.
// Dispatch concurrency is additionally bounded by a worker-slot
// semaphore so a slow database cannot absorb unbounded goroutines.
type Server struct {
	opts       Options
	cipher     *crypt.Cipher
	dispatcher Dispatcher

	listener net.Listener
	dbSlots  chan struct{}

	mu      sync.Mutex
	sockets map[net.Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// New builds a stopped server.
func New(opts Options, cipher *crypt.Cipher, dispatcher Dispatcher) *Server {
	opts.applyDefaults()
	return &Server{
		opts:       opts,
		cipher:     cipher,
		dispatcher: dispatcher,
		dbSlots:    make(chan struct{}, opts.MaxDBWorkers),
		sockets:    make(map[net.Conn]struct{}),
	}
}

// Start listens on the configured address and begins accepting.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Listen, err)
	}
	s.Serve(l)
	return nil
}

// Serve accepts connections from l until Close. It returns immediately;
// the accept loop runs on its own goroutine.
func (s *Server) Serve(l net.Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	log.Info().Str("addr", l.Addr().String()).Msg("gateway listening")

	s.wg.Add(1)
	go s.acceptLoop(l)
}

// Addr reports the bound listener address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes every open socket and waits for the
// per-connection goroutines to drain.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	l := s.listener
	open := make([]net.Conn, 0, len(s.sockets))
	for sock := range s.sockets {
		open = append(open, sock)
	}
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	for _, sock := range open {
		sock.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		sock, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			log.Error().Err(err).Msg("accept failed")
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		if !s.register(sock) {
			sock.Close()
			continue
		}
		observability.ConnAccepted()
		s.wg.Add(1)
		go s.serveConn(sock)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// register tracks the socket and enforces the connection limit.
func (s *Server) register(sock net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.sockets) >= s.opts.MaxConnections {
		return false
	}
	s.sockets[sock] = struct{}{}
	return true
}

func (s *Server) unregister(sock net.Conn) {
	s.mu.Lock()
	delete(s.sockets, sock)
	s.mu.Unlock()
}

// serveConn owns one socket for its whole lifetime: read, parse,
// dispatch, flush, reset, repeat. Any protocol-fatal error tears the
// connection down without attempting a response.
func (s *Server) serveConn(sock net.Conn) {
	defer s.wg.Done()
	defer s.unregister(sock)
	defer sock.Close()
	defer observability.ConnClosed()

	conn := NewConn(remoteAddr(sock), s.cipher, s.opts.Limits)
	logger := log.With().Str("conn", conn.ID).Str("peer", conn.Peer).Logger()
	logger.Debug().Msg("connection open")

	buf := make([]byte, 32*1024)
	for {
		if err := sock.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
			return
		}
		n, err := sock.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug().Str("action", conn.Action()).Msg("peer disconnected")
			} else if !s.isClosed() {
				reason := "read"
				if errors.Is(err, os.ErrDeadlineExceeded) {
					reason = "idle"
				}
				observability.ConnFailed(reason)
				logger.Warn().Err(err).Str("action", conn.Action()).Msg("connection read failed")
			}
			return
		}

		ready, err := conn.Feed(buf[:n])
		for {
			if err != nil {
				observability.ConnFailed("protocol")
				logger.Warn().Err(err).Str("action", conn.Action()).Msg("protocol error, closing")
				return
			}
			if !ready {
				break
			}
			if err = s.respond(sock, conn); err != nil {
				observability.ConnFailed("dispatch")
				logger.Warn().Err(err).Str("action", conn.Action()).Msg("dispatch failed, closing")
				return
			}
			// Bytes past the completed frame may already hold the
			// next request.
			ready, err = conn.Resume()
		}
	}
}

// respond dispatches the in-flight request under a worker slot and
// flushes the framed response.
func (s *Server) respond(sock net.Conn, conn *Conn) error {
	resp, err := s.dispatch(*conn.Request())
	if err != nil {
		return err
	}
	if err := conn.CreateResponse(resp); err != nil {
		return err
	}
	for len(conn.Pending()) > 0 {
		if err := sock.SetWriteDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
			return err
		}
		n, err := sock.Write(conn.Pending())
		conn.Consume(n)
		if err != nil {
			return fmt.Errorf("server: write response: %w", err)
		}
	}
	return nil
}

// dispatch runs the handler under the worker-slot semaphore and
// converts a handler panic into a connection-fatal error.
func (s *Server) dispatch(req protocol.Request) (resp protocol.Response, err error) {
	s.dbSlots <- struct{}{}
	defer func() { <-s.dbSlots }()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("server: dispatch panic: %v", r)
		}
	}()
	return s.dispatcher.Dispatch(context.Background(), req), nil
}

func remoteAddr(sock net.Conn) string {
	if addr := sock.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
