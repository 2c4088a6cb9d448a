// Package netout is the multi-client broadcast endpoint: it accepts any
// number of independent TCP clients and fans every encoded chunk out to
// all of them, isolating a single client's failure from the rest.
package netout

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultWriteTimeout bounds each per-connection write inside Broadcast so
// one stalled peer cannot hold up delivery to the others indefinitely.
const DefaultWriteTimeout = 5 * time.Second

// Config for the broadcast server.
type Config struct {
	// Address in scheme://host:port form; only tcp is supported. An empty
	// or zero port binds ephemerally, discoverable via Addr.
	Address string

	// WriteTimeout bounds each client write. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Server owns its connections exclusively: created on accept, destroyed on
// Stop or on an observed write failure. No connection survives a
// Stop/StartListening cycle.
type Server struct {
	bindAddr     string
	writeTimeout time.Duration

	mu        sync.Mutex
	ln        net.Listener
	conns     map[string]net.Conn
	pending   chan net.Conn
	listening bool

	acceptWG sync.WaitGroup

	broadcasts uint64
	bytesOut   uint64
	dropped    uint64
}

// New validates the address and returns an idle server. An unusable
// address fails here with *AddressError, per the rule that configuration
// errors are fatal at startup.
func New(cfg Config) (*Server, error) {
	bind, err := ParseAddress(cfg.Address)
	if err != nil {
		return nil, err
	}
	wt := cfg.WriteTimeout
	if wt == 0 {
		wt = DefaultWriteTimeout
	}
	return &Server{
		bindAddr:     bind,
		writeTimeout: wt,
		conns:        make(map[string]net.Conn),
	}, nil
}

// StartListening binds the endpoint and starts accepting in the
// background. Accepted connections are parked until the main loop adopts
// them with AcceptPending.
func (s *Server) StartListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return fmt.Errorf("netout: already listening")
	}

	ln, err := net.Listen("tcp", s.bindAddr)
	if err != nil {
		return fmt.Errorf("netout: listen %s: %w", s.bindAddr, err)
	}
	s.ln = ln
	s.pending = make(chan net.Conn, 8)
	s.listening = true

	s.acceptWG.Add(1)
	go s.acceptLoop(ln, s.pending)

	slog.Info("netout: listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) acceptLoop(ln net.Listener, pending chan<- net.Conn) {
	defer s.acceptWG.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed by Stop.
			return
		}
		select {
		case pending <- conn:
		default:
			slog.Warn("netout: pending backlog full, rejecting client",
				"remote", conn.RemoteAddr().String(),
			)
			conn.Close()
		}
	}
}

// Pending reports whether at least one accepted connection awaits adoption.
func (s *Server) Pending() bool {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	return pending != nil && len(pending) > 0
}

// AcceptPending adopts every parked connection into the active set and
// returns how many were added. The listening endpoint stays open; clients
// may keep attaching for the lifetime of one streaming period.
func (s *Server) AcceptPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return 0
	}

	adopted := 0
	for {
		select {
		case conn := <-s.pending:
			id := uuid.New().String()
			s.conns[id] = conn
			adopted++
			slog.Info("netout: client connected",
				"conn_id", id,
				"remote", conn.RemoteAddr().String(),
				"active", len(s.conns),
			)
		default:
			return adopted
		}
	}
}

// Broadcast writes chunk to every active connection sequentially, each
// write bounded by the configured deadline. A failed connection is marked
// for removal and the broadcast continues; marked connections are closed
// and removed after the pass.
func (s *Server) Broadcast(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.broadcasts++

	var failed []string
	for id, conn := range s.conns {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if _, err := conn.Write(chunk); err != nil {
			slog.Warn("netout: write failed, dropping client",
				"conn_id", id,
				"remote", conn.RemoteAddr().String(),
				"error", err,
			)
			failed = append(failed, id)
			continue
		}
		s.bytesOut += uint64(len(chunk))
	}

	for _, id := range failed {
		s.conns[id].Close()
		delete(s.conns, id)
		s.dropped++
	}
	if len(failed) > 0 {
		slog.Info("netout: clients removed", "removed", len(failed), "active", len(s.conns))
	}
}

// IsIdle reports whether the active connection set is empty.
func (s *Server) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns) == 0
}

// ActiveConnections returns the current client count.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Addr returns the bound listener address, or nil when not listening.
// Useful when an ephemeral port was requested.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listening endpoint and every connection, active or
// parked. The server can listen again afterwards with a fresh set.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = false
	ln := s.ln
	s.ln = nil
	pending := s.pending
	s.pending = nil
	conns := s.conns
	s.conns = make(map[string]net.Conn)
	s.mu.Unlock()

	err := ln.Close()
	s.acceptWG.Wait()

	for more := true; more; {
		select {
		case conn := <-pending:
			conn.Close()
		default:
			more = false
		}
	}

	for id, conn := range conns {
		conn.Close()
		slog.Debug("netout: client closed", "conn_id", id)
	}

	slog.Info("netout: stopped", "closed", len(conns))
	return err
}

// Stats is a counters snapshot.
type Stats struct {
	Broadcasts uint64
	BytesOut   uint64
	Dropped    uint64
	Active     int
}

// Stats returns current counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Broadcasts: s.broadcasts,
		BytesOut:   s.bytesOut,
		Dropped:    s.dropped,
		Active:     len(s.conns),
	}
}
