package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

// MaxSocketPathLen is the usable length of sockaddr_un.sun_path.
const MaxSocketPathLen = 104

// Registrar hands out external channels.
type Registrar interface {
	RegisterExternal() (bufman.ConsumerID, *bufman.ExternalChannel, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Path       string
	Transport  Transport
	MaxClients int
	Logger     *slog.Logger
}

// Server accepts clients on a unix socket and streams the latest frame
// to each. It implements supervisor.Task.
//
// External channels are never unregistered from the manager, so they are
// pooled and reused by later connections.
type Server struct {
	cfg ServerConfig
	reg Registrar

	mu   sync.Mutex
	free []*bufman.ExternalChannel
	all  int

	ready     chan struct{}
	readyOnce sync.Once

	accepted atomic.Int64
	rejected atomic.Int64
	active   atomic.Int64
	sent     atomic.Uint64
}

// NewServer validates cfg and returns a server. Nothing is bound until Run.
func NewServer(reg Registrar, cfg ServerConfig) (*Server, error) {
	if cfg.Path == "" {
		return nil, errors.New("export: socket path is required")
	}
	if len(cfg.Path) > MaxSocketPathLen {
		return nil, fmt.Errorf("export: socket path too long (%d > %d bytes): %s",
			len(cfg.Path), MaxSocketPathLen, cfg.Path)
	}
	if cfg.Transport == nil {
		cfg.Transport = JSON{}
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "export", "transport", cfg.Transport.Name())
	return &Server{cfg: cfg, reg: reg, ready: make(chan struct{})}, nil
}

// Name implements supervisor.Task.
func (s *Server) Name() string { return "export" }

// Ready is closed once the socket is first listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Run listens until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if _, err := os.Stat(s.cfg.Path); err == nil {
		if err := os.Remove(s.cfg.Path); err != nil {
			s.cfg.Logger.Debug("failed to remove stale socket", "path", s.cfg.Path, "error", err)
		}
	}

	ln, err := net.Listen(s.cfg.Transport.Network(), s.cfg.Path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Path, err)
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer func() {
		ln.Close()
		if err := os.Remove(s.cfg.Path); err != nil && !os.IsNotExist(err) {
			s.cfg.Logger.Debug("failed to remove socket file", "path", s.cfg.Path, "error", err)
		}
	}()

	s.readyOnce.Do(func() { close(s.ready) })
	s.cfg.Logger.Info("export_listening", "path", s.cfg.Path, "max_clients", s.cfg.MaxClients)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		ch, err := s.acquire()
		if err != nil {
			s.rejected.Add(1)
			s.cfg.Logger.Warn("export_client_rejected", "error", err)
			conn.Close()
			if errors.Is(err, bufman.ErrManagerEnded) {
				return nil
			}
			continue
		}

		s.accepted.Add(1)
		wg.Add(1)
		s.active.Add(1)
		go func() {
			defer wg.Done()
			defer s.active.Add(-1)
			defer s.release(ch)
			s.serve(ctx, conn, ch)
		}()
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn, ch *bufman.ExternalChannel) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	// clients never write; a read returning means they hung up
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				cancel()
				return
			}
		}
	}()

	logger := s.cfg.Logger.With("consumer", ch.ID())
	logger.Info("export_client_connected")

	enc := s.cfg.Transport.NewEncoder(conn)
	var sent uint64
	for {
		ev, err := ch.Receive(connCtx)
		if err != nil {
			logger.Info("export_client_closed", "sent", sent, "reason", err)
			return
		}
		if err := enc.Encode(NewSnapshot(ev)); err != nil {
			logger.Info("export_client_disconnected", "sent", sent, "error", err)
			return
		}
		sent++
		s.sent.Add(1)
	}
}

func (s *Server) acquire() (*bufman.ExternalChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.free); n > 0 {
		ch := s.free[n-1]
		s.free = s.free[:n-1]
		// drop whatever the previous client left unread
		ch.TryReceive()
		return ch, nil
	}
	if s.all >= s.cfg.MaxClients {
		return nil, fmt.Errorf("export: %d clients connected", s.all)
	}
	_, ch, err := s.reg.RegisterExternal()
	if err != nil {
		return nil, err
	}
	s.all++
	return ch, nil
}

func (s *Server) release(ch *bufman.ExternalChannel) {
	s.mu.Lock()
	s.free = append(s.free, ch)
	s.mu.Unlock()
}

// ServerStats is a snapshot of server counters.
type ServerStats struct {
	Accepted int64
	Rejected int64
	Active   int64
	Sent     uint64
	Channels int
}

// Stats returns the server counters.
func (s *Server) Stats() ServerStats {
	s.mu.Lock()
	channels := s.all
	s.mu.Unlock()
	return ServerStats{
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Active:   s.active.Load(),
		Sent:     s.sent.Load(),
		Channels: channels,
	}
}
