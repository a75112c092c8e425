package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"curator/internal/daemon"
	"curator/internal/logging"
)

// ServiceName is the JSON-RPC receiver name.
const ServiceName = "Curator"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path     string
	logger   *slog.Logger
	listener net.Listener
	rpc      *rpc.Server
	done     chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	once  sync.Once
}

// NewServer binds the socket at path, replacing a stale socket file left by a
// previous run. Calls run against ctx.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: ctx}); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("register %s service: %w", ServiceName, err)
	}

	s := &Server{
		path:     path,
		logger:   logger,
		listener: listener,
		rpc:      rpcServer,
		done:     make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
	context.AfterFunc(ctx, s.Close)
	return s, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.Path(s.path))
	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err == nil {
			backoff = 0
			s.serveConn(conn)
			continue
		}
		if s.closed() || errors.Is(err, net.ErrClosed) {
			return
		}
		backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
		logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
			logging.Error(err),
			logging.Duration("retry_in", backoff),
			logging.String(logging.FieldImpact, "CLI commands cannot reach the daemon"),
			logging.String(logging.FieldErrorHint, "check socket permissions, then curator restart"))
		select {
		case <-s.done:
			return
		case <-time.After(backoff):
		}
	}
}

func (s *Server) serveConn(conn net.Conn) {
	s.mu.Lock()
	if s.closed() {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.rpc.ServeCodec(jsonrpc.NewServerCodec(conn))
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
}

func (s *Server) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// closeGrace is how long connected clients get to read in-flight replies,
// such as the answer to the Stop call that triggered shutdown.
const closeGrace = 2 * time.Second

// Close stops accepting and removes the socket file. Clients still connected
// after closeGrace are hung up on. It is safe to call more than once.
func (s *Server) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		_ = s.listener.Close()

		drained := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(closeGrace):
			s.mu.Lock()
			for conn := range s.conns {
				_ = conn.Close()
			}
			s.mu.Unlock()
			<-drained
		}

		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(s.logger, "socket cleanup failed", "ipc_socket_cleanup_failed",
				logging.Path(s.path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "a stale socket may confuse the next start"),
				logging.String(logging.FieldErrorHint, "delete the socket file by hand"))
		}
	})
}
