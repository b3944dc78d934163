package main

import (
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestWSServer(t *testing.T) (addr string, bc *broadcaster, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	bc = newBroadcaster()
	srv := newWSServer("", bc, logger)
	done := make(chan struct{})

	go srv.serve(ln, done)

	return ln.Addr().String(), bc, func() {
		close(done)
	}
}

func TestWSServerSnapshotThenStream(t *testing.T) {
	addr, bc, stop := startTestWSServer(t)
	defer stop()

	bc.publish(wsMessage{PoolName: "A", JobTimestamp: 1})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapMsg wsMessage
	if err := conn.ReadJSON(&snapMsg); err != nil {
		t.Fatalf("read snapshot message: %v", err)
	}
	if snapMsg.PoolName != "A" {
		t.Fatalf("snapshot pool = %q, want A", snapMsg.PoolName)
	}

	bc.publish(wsMessage{PoolName: "A", JobTimestamp: 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var liveMsg wsMessage
	if err := conn.ReadJSON(&liveMsg); err != nil {
		t.Fatalf("read streamed message: %v", err)
	}
	if liveMsg.JobTimestamp != 2 {
		t.Fatalf("streamed message timestamp = %d, want 2", liveMsg.JobTimestamp)
	}
}

func TestWSServerMultipleSubscribersGetIndependentStreams(t *testing.T) {
	addr, bc, stop := startTestWSServer(t)
	defer stop()

	connA, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer connA.Close()
	connB, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()

	// Give both connections time to complete their (empty) snapshot phase
	// and attach a live receiver before the update below is published.
	time.Sleep(100 * time.Millisecond)
	bc.publish(wsMessage{PoolName: "A", JobTimestamp: 42})

	for _, c := range []*websocket.Conn{connA, connB} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.JobTimestamp != 42 {
			t.Fatalf("got timestamp %d, want 42", msg.JobTimestamp)
		}
	}
}
