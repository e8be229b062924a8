package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/tenkv/tenkv/lib/clock"
	"github.com/tenkv/tenkv/lib/persist"
	"github.com/tenkv/tenkv/lib/store"
)

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server accepts line-protocol connections and funnels every command and
// the periodic expiry sweep through a single-writer mutex: at any instant
// exactly one pipeline step executes, and no store mutation spans an I/O
// boundary. Connection reads and writes happen outside the lock.
type Server struct {
	config ServerConfig
	store  *store.Store
	router *Router
	wal    *persist.WAL
	clk    *clock.Mock
	logger *Logger

	// dispatchMu is the single-writer serialization point for all store
	// mutations (command dispatch and expiry sweep)
	dispatchMu sync.Mutex

	listenerMu sync.Mutex
	listener   net.Listener

	conns *xsync.MapOf[string, net.Conn]
	wg    sync.WaitGroup
}

// New wires the store, write-ahead log and router. The shared mock clock
// follows the wall clock in live operation; the router pins it during
// replay.
func New(config ServerConfig) (*Server, error) {
	clk := clock.NewMock()

	st, err := store.New(store.Config{
		DataDir:          config.DataDir,
		RootUser:         config.RootUser,
		RootPassword:     config.RootPassword,
		PBKDF2Iterations: config.PBKDF2Iterations,
	}, clk)
	if err != nil {
		return nil, err
	}

	wal := persist.NewWAL(filepath.Join(config.DataDir, store.WALFilename))

	return &Server{
		config: config,
		store:  st,
		router: NewRouter(st, wal, clk),
		wal:    wal,
		clk:    clk,
		logger: GetLogger("server"),
		conns:  xsync.NewMapOf[string, net.Conn](),
	}, nil
}

// Serve recovers durable state, then accepts connections until the context
// is canceled, at which point it drains connections and runs the shutdown
// persistence protocol.
func (s *Server) Serve(ctx context.Context) error {
	if err := InitLoggers(s.config); err != nil {
		return err
	}
	s.logger.Infof("Starting tenkv server")
	s.logger.Infof("%s", s.config.String())

	if err := s.recoverState(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.config.Endpoint)
	if err != nil {
		return err
	}
	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	s.logger.Infof("listening on %s", listener.Addr())

	if s.config.MetricsEndpoint != "" {
		go func() {
			s.logger.Infof("serving metrics on %s", s.config.MetricsEndpoint)
			if err := serveMetrics(s.config.MetricsEndpoint); err != nil {
				s.logger.Errorf("metrics endpoint failed: %v", err)
			}
		}()
	}

	go s.sweeper(ctx)

	// cancel the accept loop and force readers off their sockets
	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.conns.Range(func(_ string, conn net.Conn) bool {
			conn.Close()
			return true
		})
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Errorf("accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}

	s.wg.Wait()
	return s.shutdown()
}

// Addr returns the address the server is listening on, or nil before the
// listener is bound.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// --------------------------------------------------------------------------
// Startup / Shutdown Protocol
// --------------------------------------------------------------------------

// recoverState loads the last snapshot if one exists and replays the
// command log against it.
func (s *Server) recoverState() error {
	snapPath := filepath.Join(s.config.DataDir, store.SnapshotFilename)

	snap, found, err := persist.LoadSnapshot(snapPath)
	if err != nil {
		return err
	}
	if found {
		s.store.RestoreSnapshot(snap)
		s.logger.Infof("state loaded from %s (%d databases)", snapPath, len(snap.Databases))
	} else {
		s.logger.Infof("no snapshot found, starting empty")
	}

	replayed, err := s.router.Replay()
	if err != nil {
		return err
	}
	if replayed > 0 {
		s.logger.Infof("replayed %d commands from the command log", replayed)
	}
	return nil
}

// shutdown snapshots the database collection and removes the command log;
// its effects are now captured in the snapshot.
func (s *Server) shutdown() error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	snapPath := filepath.Join(s.config.DataDir, store.SnapshotFilename)
	if err := persist.SaveSnapshot(snapPath, s.store.Export()); err != nil {
		return err
	}
	if err := s.wal.Remove(); err != nil {
		return err
	}
	s.logger.Infof("graceful shutdown: state saved in %s", snapPath)
	return nil
}

// --------------------------------------------------------------------------
// Expiry Sweep
// --------------------------------------------------------------------------

// sweeper runs the periodic expiry sweep, serialized with command dispatch
// under the single-writer mutex.
func (s *Server) sweeper(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchMu.Lock()
			swept := s.store.SweepExpired()
			s.dispatchMu.Unlock()

			if swept > 0 {
				sweptKeysCounter.Add(swept)
				s.logger.Debugf("expiry sweep removed %d keys", swept)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Connection Handling
// --------------------------------------------------------------------------

// upgradeConnection applies TCP tuning from the configuration.
func (s *Server) upgradeConnection(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	if err := tcpConn.SetNoDelay(s.config.TCPNoDelay); err != nil {
		s.logger.Warningf("failed to set TCP_NODELAY: %v", err)
	}
	if s.config.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err == nil {
			_ = tcpConn.SetKeepAlivePeriod(time.Duration(s.config.TCPKeepAliveSec) * time.Second)
		}
	}
}

// handleConnection runs the per-connection loop: read one line, dispatch it
// under the single-writer mutex, write one response line, flush. Taxonomy
// errors come back as response lines; an internal dispatch error terminates
// the process rather than risking a connection served against corrupted
// shared state.
func (s *Server) handleConnection(conn net.Conn) {
	sess := NewSession()
	s.conns.Store(sess.ID, conn)
	connectionsOpened.Inc()

	defer func() {
		s.conns.Delete(sess.ID)
		conn.Close()
		connectionsClosed.Inc()
		s.wg.Done()
	}()

	s.upgradeConnection(conn)
	s.logger.Infof("session %s: connected from %s", sess.ID, conn.RemoteAddr())

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				s.logger.Errorf("session %s: failed to set read deadline: %v", sess.ID, err)
				return
			}
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Infof("session %s: connection closed by client", sess.ID)
			} else if !errors.Is(err, net.ErrClosed) {
				s.logger.Warningf("session %s: read error: %v", sess.ID, err)
			}
			return
		}

		s.dispatchMu.Lock()
		response, err := s.router.Dispatch(sess, line)
		s.dispatchMu.Unlock()

		if err != nil {
			// outside the taxonomy: fail fast, shared state may be inconsistent
			s.logger.Errorf("session %s: fatal dispatch error: %v", sess.ID, err)
			os.Exit(1)
		}

		if sess.Exiting {
			s.logger.Infof("session %s: client exit", sess.ID)
			return
		}

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				s.logger.Errorf("session %s: failed to set write deadline: %v", sess.ID, err)
				return
			}
		}
		if _, err := writer.WriteString(response + "\n"); err != nil {
			s.logger.Warningf("session %s: write error: %v", sess.ID, err)
			return
		}
		if err := writer.Flush(); err != nil {
			s.logger.Warningf("session %s: flush error: %v", sess.ID, err)
			return
		}
	}
}
