// Package echoserver implements the uppercase echo listener: a TCP server that
// serves one client at a time, reading a single chunk, uppercasing its ASCII
// letters and writing it back before closing the connection.
package echoserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/cyberinferno/upperecho/conntrack"
	"github.com/cyberinferno/upperecho/idgenerator"
	"github.com/cyberinferno/upperecho/logger"
	"github.com/cyberinferno/upperecho/perfmonitor"
)

// DefaultBufferSize is the largest chunk read from a client when BufferSize
// is not set.
const DefaultBufferSize = 1024

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

var (
	// ErrAlreadyListening is returned by Listen when the server holds a listener.
	ErrAlreadyListening = errors.New("server already listening")
	// ErrNotListening is returned by Serve when Listen has not succeeded.
	ErrNotListening = errors.New("server not listening")
)

// Server accepts connections on Addr and handles them strictly one after the
// other: client N+1 is not accepted before client N's connection is closed.
// Each exchange is one read of at most BufferSize bytes, one Transform and one
// write. Failures inside an exchange are logged and never stop the loop.
//
// The zero value is usable once Addr is set; Logger defaults to a no-op logger
// and Transformer to UppercaseTransformer.
type Server struct {
	Logger          logger.Logger
	Name            string
	Addr            string
	BufferSize      int
	ExchangeTimeout time.Duration
	Transformer     Transformer

	mu       sync.Mutex
	listener net.Listener
	conns    *conntrack.Registry
	ids      idgenerator.IdGenerator
}

// Listen binds Addr. An empty host listens on all interfaces; port 0 picks a
// free port, which ListenAddr then reports. The listener admits a single open
// connection at a time.
//
// Returns:
//   - ErrAlreadyListening, or the bind error wrapped with the address
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		s.log().Error("server already listening")
		return fmt.Errorf("server %s: %w", s.name(), ErrAlreadyListening)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.log().Error("server failed to listen", logger.Field{Key: "addr", Value: s.Addr}, logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to listen on %q: %w", s.name(), s.Addr, err)
	}

	s.listener = netutil.LimitListener(ln, 1)
	s.conns = conntrack.NewRegistry()

	s.log().Info("server is ready to receive", logger.Field{Key: "addr", Value: ln.Addr().String()})
	return nil
}

// ListenAddr returns the bound address, or nil when not listening.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled, then returns nil.
// Cancellation closes the listener and interrupts the exchange in progress.
// The listener is always released before Serve returns, after which Listen
// may be called again.
//
// Returns:
//   - nil after cancellation
//   - ErrNotListening, or an error if the listener is closed by anything else
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln, conns := s.listener, s.conns
	s.mu.Unlock()

	if ln == nil {
		return fmt.Errorf("server %s: %w", s.name(), ErrNotListening)
	}

	defer func() {
		_ = ln.Close()
		s.mu.Lock()
		s.listener = nil
		s.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		if n := conns.CloseAll(); n > 0 {
			s.log().Info(fmt.Sprintf("%s server interrupted open connections", s.name()), logger.Field{Key: "count", Value: n})
		}
	})
	defer stop()

	// exchanges are serial, so one monitor is reused
	pm := perfmonitor.NewPerformanceMonitor()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log().Info(fmt.Sprintf("%s server stopped", s.name()))
				return nil
			}

			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("server %s listener closed: %w", s.name(), err)
			}

			backoff = nextBackoff(backoff)
			s.log().Error(fmt.Sprintf("%s server accept error", s.name()),
				logger.Field{Key: "error", Value: err},
				logger.Field{Key: "retry_in", Value: backoff.String()})

			select {
			case <-ctx.Done():
				s.log().Info(fmt.Sprintf("%s server stopped", s.name()))
				return nil
			case <-time.After(backoff):
			}

			continue
		}

		backoff = 0
		s.serveConn(ctx, conns, pm, conn)
	}
}

// Run is Listen followed by Serve. It blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve(ctx)
}

// serveConn performs one exchange on conn and closes it.
func (s *Server) serveConn(ctx context.Context, conns *conntrack.Registry, pm *perfmonitor.PerformanceMonitor, conn net.Conn) {
	id := s.ids.Id()
	log := s.log().With(
		logger.Field{Key: "conn_id", Value: id},
		logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()},
	)

	conns.Track(id, conn)
	defer func() {
		conns.Untrack(id)
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("close failed", logger.Field{Key: "error", Value: err})
		}
	}()

	// shutdown may have swept the registry before this conn was tracked
	if ctx.Err() != nil {
		return
	}

	log.Debug("client connected", logger.Field{Key: "open_conns", Value: conns.Len()})

	pm.Reset()
	pm.Start()
	n, err := s.exchange(ctx, conn)
	pm.Stop()

	if err != nil {
		if ctx.Err() != nil {
			log.Debug("exchange interrupted by shutdown", logger.Field{Key: "error", Value: err})
			return
		}

		log.Error("exchange failed", logger.Field{Key: "error", Value: err})
		return
	}

	log.Debug("exchange complete",
		logger.Field{Key: "bytes", Value: n},
		logger.Field{Key: "duration_ms", Value: pm.ElapsedMilliseconds()})
}

// exchange reads one chunk, transforms it and writes it back, returning the
// number of bytes written. A peer that closes without sending gets nothing
// back and is not an error.
func (s *Server) exchange(ctx context.Context, conn net.Conn) (int, error) {
	if s.ExchangeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.ExchangeTimeout)); err != nil {
			return 0, fmt.Errorf("set deadline: %w", err)
		}
	}

	buf := make([]byte, s.bufferSize())
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return 0, nil
		}

		return 0, fmt.Errorf("read: %w", err)
	}

	// one chunk per connection; an error after n > 0 bytes has nothing left to affect
	out, err := s.transformer().Transform(ctx, buf[:n])
	if err != nil {
		return 0, fmt.Errorf("transform: %w", err)
	}

	if _, err := conn.Write(out); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}

	return len(out), nil
}

func (s *Server) log() logger.Logger {
	if s.Logger == nil {
		return logger.Nop()
	}

	return s.Logger
}

func (s *Server) name() string {
	if s.Name == "" {
		return "upperecho"
	}

	return s.Name
}

func (s *Server) bufferSize() int {
	if s.BufferSize <= 0 {
		return DefaultBufferSize
	}

	return s.BufferSize
}

func (s *Server) transformer() Transformer {
	if s.Transformer == nil {
		return UppercaseTransformer
	}

	return s.Transformer
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}

	d *= 2
	if d > maxAcceptBackoff {
		return maxAcceptBackoff
	}

	return d
}
