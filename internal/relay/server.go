package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/hook"
)

// DefaultPort is the relay server's default listening port.
const DefaultPort = 25251

const maxLineBytes = 1 << 20

// ServerConfig holds relay server settings.
type ServerConfig struct {
	Addr             string
	HandshakeTimeout time.Duration
	// Advertise publishes the server over mDNS once it listens.
	Advertise    bool
	InstanceName string
}

// DefaultServerConfig returns the production server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             fmt.Sprintf(":%d", DefaultPort),
		HandshakeTimeout: 5 * time.Second,
		InstanceName:     "LumiTracker OB",
	}
}

// SessionFactory creates the event bus for a client seen for the first
// time. Reconnects of the same client id reuse that bus.
type SessionFactory func(id uuid.UUID) *hook.EventBus

type session struct {
	id   uuid.UUID
	bus  *hook.EventBus
	conn net.Conn // nil while disconnected
}

// Server accepts relay clients and replays their events into per-client buses.
type Server struct {
	cfg    ServerConfig
	newBus SessionFactory
	logger *zap.Logger

	mu         sync.Mutex
	ln         net.Listener
	sessions   map[uuid.UUID]*session
	advertiser *Advertiser
	closed     bool

	wg sync.WaitGroup
}

// NewServer creates a server. newBus may be nil.
func NewServer(cfg ServerConfig, newBus SessionFactory, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("relay.server"),
		sessions: make(map[uuid.UUID]*session),
	}
	if newBus == nil {
		newBus = func(id uuid.UUID) *hook.EventBus {
			return hook.New(s.logger.With(zap.String("client", id.String())))
		}
	}
	s.newBus = newBus
	return s
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts clients until Close is called or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	port := ln.Addr().(*net.TCPAddr).Port
	s.logger.Info("relay server started", zap.String("addr", ln.Addr().String()))

	if s.cfg.Advertise {
		adv, err := Advertise(s.cfg.InstanceName, port, []string{"version=1"}, s.logger)
		if err != nil {
			s.logger.Warn("failed to advertise relay server", zap.Error(err))
		} else {
			s.mu.Lock()
			s.advertiser = adv
			s.mu.Unlock()
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("relay server closed")
				return nil
			}
			return fmt.Errorf("failed to accept relay client: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting, drops every client and waits for their handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for _, sess := range s.sessions {
		if sess.conn != nil {
			sess.conn.Close()
		}
	}
	adv := s.advertiser
	s.advertiser = nil
	s.mu.Unlock()

	if adv != nil {
		adv.Shutdown()
	}
	s.wg.Wait()
	return err
}

// Connected returns the ids of currently connected clients, sorted.
func (s *Server) Connected() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.conn != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Bus returns the event bus of a client seen at least once.
func (s *Server) Bus(id uuid.UUID) (*hook.EventBus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.bus, true
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
	}
	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))

	if s.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}
	var raw [idLength]byte
	if _, err := io.ReadFull(conn, raw[:]); err != nil {
		logger.Warn("failed to read client id", zap.Error(err))
		return
	}
	id, err := uuid.Parse(string(raw[:]))
	if err != nil {
		logger.Warn("client sent an invalid id", zap.String("id", string(raw[:])))
		_, _ = conn.Write([]byte{replyReject})
		return
	}
	logger = logger.With(zap.String("client", id.String()))

	sess, reconnect, ok := s.attach(id, conn)
	if !ok {
		logger.Warn("connection rejected: client id already connected")
		_, _ = conn.Write([]byte{replyReject})
		return
	}
	defer s.detach(sess, conn)

	if _, err := conn.Write([]byte{replyAccept}); err != nil {
		logger.Warn("failed to accept client", zap.Error(err))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	if reconnect {
		logger.Info("client reconnected")
	} else {
		logger.Info("client connected")
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := hook.DecodeLine(line)
		if err != nil {
			logger.Error("failed to decode relayed message", zap.ByteString("line", line), zap.Error(err))
			continue
		}
		logger.Debug("relayed message", zap.Stringer("kind", msg.Kind))
		// Field errors are already logged and surfaced by the bus.
		_ = sess.bus.Dispatch(msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Info("client disconnected", zap.Error(err))
		return
	}
	logger.Info("client disconnected")
}

// attach binds conn to the session for id, creating it on first contact.
// It refuses when the id is already connected or the server is closing.
func (s *Server) attach(id uuid.UUID, conn net.Conn) (sess *session, reconnect, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, false
	}
	sess, reconnect = s.sessions[id]
	if !reconnect {
		sess = &session{id: id, bus: s.newBus(id)}
		s.sessions[id] = sess
	}
	if sess.conn != nil {
		return nil, false, false
	}
	sess.conn = conn
	return sess, reconnect, true
}

func (s *Server) detach(sess *session, conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.conn == conn {
		sess.conn = nil
	}
}
