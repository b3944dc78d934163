package main

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// wsMessage is the JSON object pushed to every WebSocket subscriber, one
// per job update.
type wsMessage struct {
	PoolName       string   `json:"pool_name"`
	PrevHash       string   `json:"prev_hash"`
	CoinbaseTag    string   `json:"coinbase_tag"`
	Height         uint32   `json:"height"`
	CoinbaseSum    int64    `json:"coinbase_sum"`
	JobTimestamp   int64    `json:"job_timestamp"`
	HeaderVersion  uint32   `json:"header_version"`
	HeaderTime     uint32   `json:"header_time"`
	HeaderBits     uint32   `json:"header_bits"`
	MerkleBranches []string `json:"merkle_branches"`
	CleanJobs      bool     `json:"clean_jobs"`
}

func wsMessageFromJobUpdate(j JobUpdate) wsMessage {
	info := j.CoinbaseInfo()
	return wsMessage{
		PoolName:       j.Pool.Name,
		PrevHash:       j.PrevBlockHash(),
		CoinbaseTag:    info.Tag,
		Height:         info.Height,
		CoinbaseSum:    info.ValueSum,
		JobTimestamp:   j.Timestamp.Unix(),
		HeaderVersion:  j.Notify.Version,
		HeaderTime:     j.Notify.Time,
		HeaderBits:     j.Notify.Bits,
		MerkleBranches: j.MerkleBranchHex(),
		CleanJobs:      j.Notify.CleanJobs,
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsServer binds a TCP listener, upgrades every accepted connection to a
// WebSocket, and services each subscriber with a snapshot-then-stream
// protocol. It has no authentication; any client that can reach the
// listener can subscribe.
type wsServer struct {
	addr string
	bc   *broadcaster
	log  *simpleLogger
}

func newWSServer(addr string, bc *broadcaster, log *simpleLogger) *wsServer {
	return &wsServer{addr: addr, bc: bc, log: log}
}

// run binds the listener and serves until the listener errors or
// shutdown is requested via closing done. It returns the terminal error;
// per the hub's fatal-sink policy, any return here is treated as fatal to
// the process (exit code 1).
func (s *wsServer) run(done <-chan struct{}) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("ws server listening", "addr", s.addr)
	return s.serve(ln, done)
}

// serve runs the HTTP upgrade handler over an already-bound listener,
// closing it when done fires. Split out from run so tests can bind an
// ephemeral listener themselves and learn the real address before serving.
func (s *wsServer) serve(ln net.Listener, done <-chan struct{}) error {
	go func() {
		<-done
		ln.Close()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	srv := &http.Server{Handler: mux}

	err := srv.Serve(ln)
	if err != nil && strings.Contains(err.Error(), "use of closed network connection") {
		return nil
	}
	return err
}

func (s *wsServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	go s.serveSubscriber(conn)
}

// serveSubscriber runs the snapshot phase followed by the streaming phase
// for one subscriber, until it disconnects, stalls, or errors.
func (s *wsServer) serveSubscriber(conn *websocket.Conn) {
	defer conn.Close()

	for _, msg := range s.bc.snapshotSorted() {
		if err := s.writeJSON(conn, msg); err != nil {
			return
		}
	}

	rcv := s.bc.newReceiver()
	defer rcv.close()

	for msg := range rcv.recv() {
		if err := s.writeJSON(conn, msg); err != nil {
			return
		}
	}
}

func (s *wsServer) writeJSON(conn *websocket.Conn, msg wsMessage) error {
	data, err := fastJSONMarshal(msg)
	if err != nil {
		s.log.Warn("ws message encode failed", "pool", msg.PoolName, "err", err)
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
