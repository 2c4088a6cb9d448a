package netout

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{Address: "tcp://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func dialAndAdopt(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	before := s.ActiveConnections()
	for s.ActiveConnections() == before {
		s.AcceptPending()
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for connection adoption")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

// TestNewRejectsBadAddress verifies construction fails fast on an
// unusable address.
func TestNewRejectsBadAddress(t *testing.T) {
	if _, err := New(Config{Address: "udp://0.0.0.0:1"}); err == nil {
		t.Error("Expected error for udp address")
	}
	if _, err := New(Config{Address: "nonsense"}); err == nil {
		t.Error("Expected error for schemeless address")
	}
}

// TestBroadcastFanOut verifies every client receives every chunk,
// byte-identical and in order.
func TestBroadcastFanOut(t *testing.T) {
	s := newTestServer(t)

	clients := []net.Conn{
		dialAndAdopt(t, s),
		dialAndAdopt(t, s),
		dialAndAdopt(t, s),
	}

	chunks := [][]byte{
		[]byte("chunk-one"),
		[]byte("chunk-two"),
		[]byte("chunk-three"),
	}
	var expected bytes.Buffer
	for _, c := range chunks {
		expected.Write(c)
		s.Broadcast(c)
	}

	for i, conn := range clients {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		got := make([]byte, expected.Len())
		if _, err := io.ReadFull(conn, got); err != nil {
			t.Fatalf("Client %d read failed: %v", i, err)
		}
		if !bytes.Equal(got, expected.Bytes()) {
			t.Errorf("Client %d received %q, want %q", i, got, expected.Bytes())
		}
	}
}

// TestBroadcastFailureIsolation verifies a dead client is removed while
// the remaining clients keep receiving the full stream.
func TestBroadcastFailureIsolation(t *testing.T) {
	s := newTestServer(t)

	healthy := dialAndAdopt(t, s)
	dead := dialAndAdopt(t, s)

	if got := s.ActiveConnections(); got != 2 {
		t.Fatalf("Expected 2 active connections, got %d", got)
	}

	dead.Close()

	// The first write after the close may or may not surface the error
	// depending on kernel buffering, so keep broadcasting until the server
	// notices.
	deadline := time.Now().Add(2 * time.Second)
	sent := 0
	for s.ActiveConnections() == 2 {
		s.Broadcast([]byte("x"))
		sent++
		if time.Now().After(deadline) {
			t.Fatal("Server never dropped the dead client")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The survivor got every broadcast.
	healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, sent)
	if _, err := io.ReadFull(healthy, got); err != nil {
		t.Fatalf("Healthy client read failed: %v", err)
	}

	s.Broadcast([]byte("after"))
	after := make([]byte, 5)
	if _, err := io.ReadFull(healthy, after); err != nil {
		t.Fatalf("Healthy client read after drop failed: %v", err)
	}
	if string(after) != "after" {
		t.Errorf("Expected %q, got %q", "after", after)
	}

	if stats := s.Stats(); stats.Dropped != 1 {
		t.Errorf("Expected 1 dropped client, got %d", stats.Dropped)
	}
}

// TestBroadcastNoClients verifies broadcasting into an empty set is a
// harmless no-op.
func TestBroadcastNoClients(t *testing.T) {
	s := newTestServer(t)
	s.Broadcast([]byte("nobody home"))
	if !s.IsIdle() {
		t.Error("Expected idle server")
	}
}

// TestEphemeralPort verifies a zero port binds somewhere real.
func TestEphemeralPort(t *testing.T) {
	s := newTestServer(t)
	addr, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("Expected *net.TCPAddr, got %T", s.Addr())
	}
	if addr.Port == 0 {
		t.Error("Listener bound to port 0")
	}
}

// TestStopClosesClients verifies Stop tears every connection down and the
// server can listen again afterwards.
func TestStopClosesClients(t *testing.T) {
	s, err := New(Config{Address: "tcp://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}

	conn := dialAndAdopt(t, s)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("Expected read error after server stop")
	}
	if got := s.ActiveConnections(); got != 0 {
		t.Errorf("Expected 0 active connections after stop, got %d", got)
	}

	// Restart on a fresh ephemeral port.
	if err := s.StartListening(); err != nil {
		t.Fatalf("Second StartListening failed: %v", err)
	}
	defer s.Stop()
	conn2 := dialAndAdopt(t, s)

	s.Broadcast([]byte("again"))
	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, 5)
	if _, err := io.ReadFull(conn2, got); err != nil {
		t.Fatalf("Read after restart failed: %v", err)
	}
	if string(got) != "again" {
		t.Errorf("Expected %q, got %q", "again", got)
	}
}

// TestDoubleStartListening verifies the second call errors out.
func TestDoubleStartListening(t *testing.T) {
	s := newTestServer(t)
	if err := s.StartListening(); err == nil {
		t.Error("Expected error on second StartListening")
	}
}
