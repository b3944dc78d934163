package main

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"sync"
	"time"
)

var errOversizedLine = errors.New("stratum line exceeds maximum length")

// closeOnce guards a channel close against being invoked twice. In serve,
// the session's shutdown channel is closed only by the actor's deferred
// cleanup, whichever event (read or write error, watchdog, done) ended it.
type closeOnce struct {
	once sync.Once
}

func (c *closeOnce) do(f func()) {
	c.once.Do(f)
}

const (
	connectRetryDelay  = 2 * time.Second
	handshakePacing    = 1 * time.Second
	idleNotifyTimeout  = 60 * time.Second
	defaultMaxLifetime = 590 * time.Second
	supervisorTick     = 100 * time.Millisecond
	maxLineLength      = 1 << 20 // 1 MiB; a well-behaved pool never approaches this.
)

// stratumClient is a single actor owning one pool connection's state. It
// drives the socket itself rather than sharing session state with separate
// reader/writer/ticker goroutines behind a lock: the reader and writer run
// as goroutines that only move bytes, and every piece of mutable state
// (handshake state, session params, timestamps) is owned and mutated
// exclusively by the actor's own select loop.
type stratumClient struct {
	pool Pool
	sink chan<- JobUpdate
	log  *simpleLogger
}

func newStratumClient(pool Pool, sink chan<- JobUpdate, log *simpleLogger) *stratumClient {
	return &stratumClient{pool: pool, sink: sink, log: log}
}

// run connects, performs the handshake, and forwards notifies until the
// session ends for any reason (I/O error, watchdog, oversized line). It
// reports whether the connect attempt itself succeeded, so the supervisor
// can track consecutive connect failures; session death after a
// successful connect is not itself an error to the caller, which is
// expected to call run again (see supervisor).
func (c *stratumClient) run(done <-chan struct{}) (connected bool) {
	conn, err := net.DialTimeout("tcp", c.pool.Endpoint, 10*time.Second)
	if err != nil {
		c.log.Warn("connect failed", "pool", c.pool.Name, "endpoint", c.pool.Endpoint, "err", err)
		select {
		case <-time.After(connectRetryDelay):
		case <-done:
		}
		return false
	}
	c.log.Info("connected", "pool", c.pool.Name, "endpoint", c.pool.Endpoint)
	c.serve(conn, done)
	return true
}

// session holds everything mutated over the life of one connection. It is
// touched only from the actor goroutine running serve.
type session struct {
	conn         net.Conn
	state        ClientState
	params       SessionParams
	connectTime  time.Time
	lastNotifyAt time.Time
	haveNotify   bool
	nextMsgID    int
	maxLifetime  time.Duration
}

func (c *stratumClient) serve(conn net.Conn, done <-chan struct{}) {
	s := &session{
		conn:        conn,
		state:       StateInit,
		params:      defaultSessionParams(),
		connectTime: time.Now(),
		maxLifetime: c.pool.MaxLifetime,
	}
	if s.maxLifetime <= 0 {
		s.maxLifetime = defaultMaxLifetime
	}

	shutdown := make(chan struct{})
	var shutdownOnce closeOnce

	lines := make(chan []byte, 64)
	readErrs := make(chan error, 1)
	go c.readLines(conn, lines, readErrs, shutdown)

	outbound := make(chan []byte, 16)
	writeErrs := make(chan error, 1)
	go c.writeLines(conn, outbound, writeErrs, shutdown)

	defer func() {
		shutdownOnce.do(func() { close(shutdown) })
		conn.Close()
	}()

	// Init -> Configured: send mining.configure immediately, without
	// awaiting a response.
	c.sendRequest(outbound, s, "mining.configure", []any{[]any{}, map[string]any{}})
	s.state = StateConfigured
	c.sendRequest(outbound, s, "mining.subscribe", []any{"stratum-observer"})

	tick := time.NewTicker(supervisorTick)
	defer tick.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.handleLine(line, s, outbound)

		case err := <-readErrs:
			c.log.Warn("read error, closing session", "pool", c.pool.Name, "err", err)
			return

		case err := <-writeErrs:
			c.log.Warn("write error, closing session", "pool", c.pool.Name, "err", err)
			return

		case now := <-tick.C:
			if now.Sub(s.connectTime) > s.maxLifetime {
				c.log.Info("max lifetime reached, reconnecting", "pool", c.pool.Name)
				return
			}
			if s.haveNotify && now.Sub(s.lastNotifyAt) > idleNotifyTimeout {
				c.log.Warn("idle notify timeout, reconnecting", "pool", c.pool.Name)
				return
			}

		case <-done:
			c.log.Info("shutting down session", "pool", c.pool.Name)
			return
		}
	}
}

func (c *stratumClient) handleLine(line []byte, s *session, outbound chan<- []byte) {
	var env StratumEnvelope
	if err := fastJSONUnmarshal(line, &env); err != nil {
		c.log.Warn("malformed stratum line, skipping", "pool", c.pool.Name, "err", err)
		return
	}

	if env.isRequest() {
		c.handleNotification(env, s, outbound)
		return
	}

	// A response to one of our own requests: only the subscribe response
	// carries observable state (extranonce1/extranonce2_size).
	if s.state == StateConfigured && len(env.Result) > 0 {
		e1, e2size, err := parseSubscribeResult(env.Result)
		if err != nil {
			c.log.Warn("unparseable subscribe response, skipping", "pool", c.pool.Name, "err", err)
			return
		}
		s.params.Extranonce1 = e1
		s.params.Extranonce2Size = e2size
		s.state = StateSubscribed
		c.log.Info("subscribed", "pool", c.pool.Name, "extranonce1", encodeHex(e1), "extranonce2_size", e2size)

		time.Sleep(handshakePacing)
		c.sendRequest(outbound, s, "mining.authorize", []any{c.pool.User, c.pool.Password})
	}
}

func (c *stratumClient) handleNotification(env StratumEnvelope, s *session, outbound chan<- []byte) {
	switch env.Method {
	case "mining.notify":
		if s.state != StateSubscribed {
			return
		}
		payload, err := parseNotifyParams(env.Params)
		if err != nil {
			c.log.Warn("malformed notify, skipping", "pool", c.pool.Name, "err", err)
			return
		}
		now := time.Now().UTC()
		s.lastNotifyAt = now
		s.haveNotify = true

		job := JobUpdate{
			Timestamp:       now,
			Pool:            c.pool,
			Notify:          payload,
			Extranonce1:     s.params.Extranonce1,
			Extranonce2Size: s.params.Extranonce2Size,
			TimeConnected:   s.connectTime,
		}
		select {
		case c.sink <- job:
		default:
			c.log.Warn("job sink full, dropping notify", "pool", c.pool.Name)
		}

	case "mining.set_difficulty", "mining.set_extranonce", "mining.set_version_mask", "mining.configure":
		// No observable effect for a passive observer.
	default:
		c.log.Debug("ignoring stratum method", "pool", c.pool.Name, "method", env.Method)
	}
}

func (c *stratumClient) sendRequest(outbound chan<- []byte, s *session, method string, params []any) {
	req := StratumRequest{ID: s.nextMsgID, Method: method, Params: params}
	s.nextMsgID++
	data, err := fastJSONMarshal(req)
	if err != nil {
		c.log.Error("failed to encode request", "pool", c.pool.Name, "method", method, "err", err)
		return
	}
	select {
	case outbound <- data:
	default:
		c.log.Warn("outbound queue full, dropping request", "pool", c.pool.Name, "method", method)
	}
}

// readLines frames inbound bytes on '\n' and forwards complete lines.
// Exits (closing lines) on EOF, shutdown, or an oversized line.
func (c *stratumClient) readLines(conn net.Conn, lines chan<- []byte, errs chan<- error, shutdown <-chan struct{}) {
	defer close(lines)
	reader := bufio.NewReaderSize(conn, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(idleNotifyTimeout + supervisorTick*10))
		line, err := reader.ReadBytes('\n')
		if len(line) > maxLineLength {
			select {
			case errs <- errOversizedLine:
			default:
			}
			return
		}
		if len(bytes.TrimSpace(line)) > 0 {
			logNetMessage("in", line)
			select {
			case lines <- bytes.TrimSpace(line):
			case <-shutdown:
				return
			}
		}
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
		select {
		case <-shutdown:
			return
		default:
		}
	}
}

// writeLines serializes writes to the connection from the outbound queue.
func (c *stratumClient) writeLines(conn net.Conn, outbound <-chan []byte, errs chan<- error, shutdown <-chan struct{}) {
	for {
		select {
		case data, ok := <-outbound:
			if !ok {
				return
			}
			logNetMessage("out", data)
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := conn.Write(append(data, '\n')); err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
		case <-shutdown:
			return
		}
	}
}
