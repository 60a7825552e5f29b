// Package coordinator implements the connection-facing half of the Censer
// fabric. This file implements the connection listener that admits workers
// into the fleet.
package coordinator

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/dreamware/censer/internal/event"
)

// DefaultBacklog bounds how many accepted connections may be mid-handshake
// at once. Beyond it, further connections are refused until the admission
// flow catches up.
const DefaultBacklog = 8

// Config carries the server's construction parameters. The zero value of
// every field selects a sensible default.
type Config struct {
	// Addr is the TCP listen address, for example ":7420".
	Addr string

	// HeartbeatInterval is the pause between liveness probes per worker.
	// Zero selects DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// ReadTimeout bounds every read against a worker connection. Zero
	// disables the bound.
	ReadTimeout time.Duration

	// Backlog bounds concurrent handshakes. Zero selects DefaultBacklog.
	Backlog int64

	// Logger receives the server's structured log entries. Defaults to the
	// logrus standard logger.
	Logger *logrus.Logger
}

// Server owns the passive listening endpoint of the fabric. For every
// accepted connection it constructs a worker handle (which performs the
// handshake synchronously), and on success fires the connect event, admits
// the handle into the registry and starts its heartbeat monitor. A failed
// handshake closes the raw connection and admits nothing.
//
// The server exposes the fleet three ways: the registry itself, the
// enumeration helpers WorkerCount/ForEachWorker, and the connect/disconnect
// broadcast dispatchers.
type Server struct {
	ln       net.Listener
	registry *Registry

	onConnect    *event.Dispatcher[*Handle]
	onDisconnect *event.Dispatcher[*Handle]

	heartbeatInterval time.Duration
	readTimeout       time.Duration
	admission         *semaphore.Weighted

	// pending tracks connections still mid-handshake, so Close can abandon
	// them instead of waiting forever on a silent client.
	pendingMu sync.Mutex
	pending   map[net.Conn]struct{}

	closed atomic.Bool
	wg     sync.WaitGroup
	log    *logrus.Logger
}

// NewServer starts listening on cfg.Addr and runs the accept loop in the
// background. The returned server is accepting connections when NewServer
// returns.
func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		ln:                ln,
		registry:          NewRegistry(),
		onConnect:         event.NewDispatcher[*Handle](),
		onDisconnect:      event.NewDispatcher[*Handle](),
		heartbeatInterval: interval,
		readTimeout:       cfg.ReadTimeout,
		admission:         semaphore.NewWeighted(backlog),
		pending:           make(map[net.Conn]struct{}),
		log:               logger,
	}

	s.wg.Add(1)
	go s.acceptLoop()

	logger.WithField("addr", ln.Addr().String()).Info("coordinator listening")
	return s, nil
}

// acceptLoop accepts connections until the listener closes, handing each one
// to its own admission goroutine so a slow handshake never stalls the next
// accept.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				s.log.Info("accept loop stopped")
			} else {
				s.log.WithError(err).Error("accept failed, loop exiting")
			}
			return
		}

		if !s.admission.TryAcquire(1) {
			// Admission backlog full; refuse until the flow catches up.
			s.log.WithField("remote", conn.RemoteAddr().String()).Warn("admission backlog full, refusing connection")
			_ = conn.Close()
			continue
		}

		s.pendingMu.Lock()
		s.pending[conn] = struct{}{}
		s.pendingMu.Unlock()

		s.wg.Add(1)
		go s.admit(conn)
	}
}

// admit performs the handshake for one accepted connection and, on success,
// wires the handle into the fleet: connect event first, then registry
// admission, then the heartbeat monitor.
func (s *Server) admit(conn net.Conn) {
	defer s.wg.Done()
	defer s.admission.Release(1)

	h, err := NewHandle(conn, HandleOptions{
		Logger:      s.log,
		OnDown:      s.workerDown,
		ReadTimeout: s.readTimeout,
	})

	s.pendingMu.Lock()
	delete(s.pending, conn)
	s.pendingMu.Unlock()

	if err != nil {
		s.log.WithError(err).WithField("remote", conn.RemoteAddr().String()).
			Warn("worker handshake failed, connection dropped")
		return
	}

	h.beat = NewHeartbeat(h, s.heartbeatInterval)

	s.onConnect.Broadcast(h)
	s.registry.Admit(h)
	if !h.Alive() {
		// Torn down during the connect broadcast (a connect handler may
		// reject the worker, or the transport may fault under it). Its own
		// eviction ran before admission and found nothing, so evict here.
		s.registry.Evict(h)
		s.log.WithField("worker_id", h.ID()).Info("worker torn down during admission, evicted")
		return
	}
	go h.beat.Start()

	s.log.WithField("worker_id", h.ID()).WithField("fleet", s.registry.Count()).
		Info("worker admitted")
}

// workerDown is every handle's teardown hook: broadcast the disconnect event
// and evict the handle from the fleet.
func (s *Server) workerDown(h *Handle) {
	s.onDisconnect.Broadcast(h)
	s.registry.Evict(h)
	s.log.WithField("worker_id", h.ID()).WithField("fleet", s.registry.Count()).
		Info("worker evicted")
}

// OnConnect returns the dispatcher broadcasting every admitted handle.
func (s *Server) OnConnect() *event.Dispatcher[*Handle] { return s.onConnect }

// OnDisconnect returns the dispatcher broadcasting every torn-down handle.
func (s *Server) OnDisconnect() *event.Dispatcher[*Handle] { return s.onDisconnect }

// Registry returns the fleet registry.
func (s *Server) Registry() *Registry { return s.registry }

// Addr returns the bound listen address, useful when listening on ":0".
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// WorkerCount returns the number of currently admitted workers.
func (s *Server) WorkerCount() int { return s.registry.Count() }

// ForEachWorker applies action to a snapshot of the fleet.
func (s *Server) ForEachWorker(action func(*Handle)) { s.registry.ForEach(action) }

// Close stops listening for connections. Deliberate and final: the accept
// loop exits and is never restarted. Connections still mid-handshake are
// closed so a silent client cannot wedge the shutdown; already-admitted
// workers are untouched. Use Dispose to drain the fleet.
func (s *Server) Close() error {
	s.closed.Store(true)
	err := s.ln.Close()

	s.pendingMu.Lock()
	for conn := range s.pending {
		_ = conn.Close()
	}
	s.pendingMu.Unlock()

	s.wg.Wait()
	return err
}

// Dispose disconnects every worker and clears the registry.
func (s *Server) Dispose() {
	s.registry.DisposeAll()
}
