package main

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"
)

// mockPoolServer accepts exactly one connection, reads lines as JSON-RPC
// requests, and lets the test drive responses/notifies explicitly.
type mockPoolServer struct {
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
}

func newMockPoolServer(t *testing.T) *mockPoolServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &mockPoolServer{ln: ln}
}

func (m *mockPoolServer) addr() string { return m.ln.Addr().String() }

func (m *mockPoolServer) accept(t *testing.T) {
	t.Helper()
	conn, err := m.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	m.conn = conn
	m.r = bufio.NewReader(conn)
}

func (m *mockPoolServer) readRequest(t *testing.T) StratumRequest {
	t.Helper()
	line, err := m.r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	var req StratumRequest
	if err := json.Unmarshal(line, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	return req
}

func (m *mockPoolServer) writeLine(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := m.conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (m *mockPoolServer) close() {
	if m.conn != nil {
		m.conn.Close()
	}
	m.ln.Close()
}

func TestStratumClientHappyPathEmitsOneJobUpdate(t *testing.T) {
	mock := newMockPoolServer(t)
	defer mock.close()

	pool := Pool{Name: "Example", Endpoint: mock.addr(), User: "worker.1", MaxLifetime: 10 * time.Second}
	sink := make(chan JobUpdate, 4)
	client := newStratumClient(pool, sink, logger)

	shutdown := make(chan struct{})
	done := make(chan struct{})
	go func() {
		client.run(shutdown)
		close(done)
	}()

	mock.accept(t)

	// mining.configure, then mining.subscribe arrive without us responding
	// to configure.
	configureReq := mock.readRequest(t)
	if configureReq.Method != "mining.configure" {
		t.Fatalf("expected mining.configure first, got %s", configureReq.Method)
	}
	subscribeReq := mock.readRequest(t)
	if subscribeReq.Method != "mining.subscribe" {
		t.Fatalf("expected mining.subscribe, got %s", subscribeReq.Method)
	}

	mock.writeLine(t, map[string]any{
		"id":     subscribeReq.ID,
		"result": []any{"deadbeef", 4},
		"error":  nil,
	})

	authorizeReq := mock.readRequest(t)
	if authorizeReq.Method != "mining.authorize" {
		t.Fatalf("expected mining.authorize, got %s", authorizeReq.Method)
	}

	mock.writeLine(t, map[string]any{
		"id":     authorizeReq.ID,
		"result": true,
		"error":  nil,
	})

	mock.writeLine(t, map[string]any{
		"id":     nil,
		"method": "mining.notify",
		"params": []any{
			"job1",
			"0000000000000000000000000000000000000000000000000000000000000000",
			"01",
			"02",
			[]any{},
			"20000000",
			"1a2b3c4d",
			"5f5e1000",
			true,
		},
	})

	select {
	case job := <-sink:
		if job.Pool.Name != "Example" {
			t.Fatalf("pool name = %q", job.Pool.Name)
		}
		if encodeHex(job.Extranonce1) != "deadbeef" {
			t.Fatalf("extranonce1 = %x", job.Extranonce1)
		}
		if job.Extranonce2Size != 4 {
			t.Fatalf("extranonce2_size = %d, want 4", job.Extranonce2Size)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for job update")
	}

	mock.close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("client did not terminate after server closed connection")
	}
}

func TestStratumClientMaxLifetimeEnforced(t *testing.T) {
	mock := newMockPoolServer(t)
	defer mock.close()

	pool := Pool{Name: "Example", Endpoint: mock.addr(), User: "worker.1", MaxLifetime: 500 * time.Millisecond}
	sink := make(chan JobUpdate, 4)
	client := newStratumClient(pool, sink, logger)

	shutdown := make(chan struct{})
	done := make(chan struct{})
	go func() {
		client.run(shutdown)
		close(done)
	}()

	mock.accept(t)
	mock.readRequest(t) // configure
	mock.readRequest(t) // subscribe

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected session to close within max_lifetime + watchdog tick")
	}
}
