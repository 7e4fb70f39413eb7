package echoserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/upperecho/echoclient"
	"github.com/cyberinferno/upperecho/logger"
)

// syncBuffer lets the test read log output while the server goroutine writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startServer listens on a loopback port and serves until the test ends.
func startServer(t *testing.T, s *Server) string {
	t.Helper()

	if s.Addr == "" {
		s.Addr = "127.0.0.1:0"
	}
	require.NoError(t, s.Listen())
	addr := s.ListenAddr().String()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Serve(gctx) })

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
	})

	return addr
}

func exchange(t *testing.T, addr string, payload string) string {
	t.Helper()

	c := echoclient.New(echoclient.DefaultConfig(addr))
	out, err := c.Exchange(context.Background(), []byte(payload))
	require.NoError(t, err)
	return string(out)
}

func TestServer_Exchange(t *testing.T) {
	addr := startServer(t, &Server{})

	tests := []struct {
		in   string
		want string
	}{
		{"Hello World\n", "HELLO WORLD\n"},
		{"already upper", "ALREADY UPPER"},
		{"ALREADY UPPER", "ALREADY UPPER"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, exchange(t, addr, tt.in))
		})
	}
}

func TestServer_PeerSendsNothing(t *testing.T) {
	var logs syncBuffer
	addr := startServer(t, &Server{Logger: logger.New(&logs, "test", zerolog.DebugLevel)})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, got)

	// the server is still serving
	assert.Equal(t, "OK", exchange(t, addr, "ok"))
	assert.NotContains(t, logs.String(), "exchange failed")
}

func TestServer_SequentialClientsNoCrossTalk(t *testing.T) {
	addr := startServer(t, &Server{})

	assert.Equal(t, "FIRST CLIENT", exchange(t, addr, "first client"))
	assert.Equal(t, "SECOND", exchange(t, addr, "second"))
}

func TestServer_ConnectionIDs(t *testing.T) {
	var logs syncBuffer
	addr := startServer(t, &Server{Logger: logger.New(&logs, "test", zerolog.DebugLevel)})

	exchange(t, addr, "a")
	exchange(t, addr, "b")

	out := logs.String()
	assert.Contains(t, out, `"conn_id":1`)
	assert.Contains(t, out, `"conn_id":2`)
	assert.Contains(t, out, `"open_conns":1`)
	assert.NotContains(t, out, `"open_conns":2`)
}

func TestServer_SerialHandling(t *testing.T) {
	addr := startServer(t, &Server{})

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer first.Close()

	// the handshake completes from the backlog but nothing is served yet
	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()

	_, err = second.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, second.(*net.TCPConn).CloseWrite())

	require.NoError(t, second.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = second.Read(make([]byte, 16))
	var netErr net.Error
	require.True(t, errors.As(err, &netErr), "expected a timeout, got %v", err)
	assert.True(t, netErr.Timeout())

	_, err = first.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, first.(*net.TCPConn).CloseWrite())
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	got, err := io.ReadAll(first)
	require.NoError(t, err)
	assert.Equal(t, "FIRST", string(got))

	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	got, err = io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, "SECOND", string(got))
}

func TestServer_ReadsOneChunkOfBufferSize(t *testing.T) {
	s := &Server{BufferSize: 4}
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	go func() {
		_, _ = clientSide.Write([]byte("abcdefgh"))
	}()

	done := make(chan struct{})
	var n int
	var err error
	go func() {
		defer close(done)
		n, err = s.exchange(context.Background(), serverSide)
		_ = serverSide.Close()
	}()

	got := make([]byte, 4)
	_, rerr := io.ReadFull(clientSide, got)
	require.NoError(t, rerr)
	assert.Equal(t, "ABCD", string(got))

	<-done
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestServer_ExchangeTimeout(t *testing.T) {
	var logs syncBuffer
	addr := startServer(t, &Server{
		Logger:          logger.New(&logs, "test", zerolog.InfoLevel),
		ExchangeTimeout: 50 * time.Millisecond,
	})

	idle, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer idle.Close()

	require.NoError(t, idle.SetReadDeadline(time.Now().Add(5*time.Second)))
	got, err := io.ReadAll(idle)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Equal(t, "NEXT", exchange(t, addr, "next"))
	assert.Contains(t, logs.String(), "exchange failed")
}

func TestServer_TransformErrorIsIsolated(t *testing.T) {
	var logs syncBuffer
	calls := 0
	addr := startServer(t, &Server{
		Logger: logger.New(&logs, "test", zerolog.InfoLevel),
		Transformer: TransformFunc(func(ctx context.Context, p []byte) ([]byte, error) {
			calls++
			if calls == 1 {
				return nil, assert.AnError
			}
			return Uppercase(p), nil
		}),
	})

	assert.Equal(t, "", exchange(t, addr, "boom"))
	assert.Equal(t, "FINE", exchange(t, addr, "fine"))
	assert.Contains(t, logs.String(), "exchange failed")
}

func TestServer_ShutdownInterruptsExchange(t *testing.T) {
	var logs syncBuffer
	s := &Server{Addr: "127.0.0.1:0", Logger: logger.New(&logs, "test", zerolog.InfoLevel)}
	require.NoError(t, s.Listen())
	addr := s.ListenAddr().String()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// let the server accept and block in Read
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)

	assert.Nil(t, s.ListenAddr())
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "interrupted open connections")
	}, 5*time.Second, 5*time.Millisecond)

	// the port is released
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	_ = ln.Close()
}

func TestServer_Run(t *testing.T) {
	var logs syncBuffer
	s := &Server{Addr: "127.0.0.1:0", Name: "caps", Logger: logger.New(&logs, "test", zerolog.InfoLevel)}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.ListenAddr() != nil }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "RUN", exchange(t, s.ListenAddr().String(), "run"))

	cancel()
	require.NoError(t, <-errCh)
	assert.Contains(t, logs.String(), "server is ready to receive")
	assert.Contains(t, logs.String(), "caps server stopped")
}

func TestServer_ListenErrors(t *testing.T) {
	t.Run("already listening", func(t *testing.T) {
		s := &Server{Addr: "127.0.0.1:0"}
		require.NoError(t, s.Listen())
		defer func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_ = s.Serve(ctx)
		}()

		assert.ErrorIs(t, s.Listen(), ErrAlreadyListening)
	})

	t.Run("port in use", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		s := &Server{Addr: ln.Addr().String()}
		err = s.Listen()
		require.Error(t, err)
		assert.Nil(t, s.ListenAddr())
	})

	t.Run("serve without listen", func(t *testing.T) {
		s := &Server{}
		assert.ErrorIs(t, s.Serve(context.Background()), ErrNotListening)
	})

	t.Run("run propagates bind failure", func(t *testing.T) {
		s := &Server{Addr: "127.0.0.1:99999"}
		assert.Error(t, s.Run(context.Background()))
	})
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, minAcceptBackoff, nextBackoff(0))
	assert.Equal(t, 2*minAcceptBackoff, nextBackoff(minAcceptBackoff))
	assert.Equal(t, maxAcceptBackoff, nextBackoff(maxAcceptBackoff))
}
