package main

import "time"

// Pool is one configured mining pool endpoint. Created at config load and
// never mutated afterward; every JobUpdate carries a copy of the Pool it
// came from.
type Pool struct {
	Name        string
	Endpoint    string
	User        string
	Password    string
	MaxLifetime time.Duration
}

// ClientState is the per-session handshake state. States only move
// forward: Init -> Configured -> Subscribed.
type ClientState int

const (
	StateInit ClientState = iota
	StateConfigured
	StateSubscribed
)

func (s ClientState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConfigured:
		return "configured"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// SessionParams holds the extranonce values negotiated on subscribe. Owned
// exclusively by the client actor that negotiated them; never shared.
type SessionParams struct {
	Extranonce1        []byte
	Extranonce2Size    int
	VersionRollingMask string
	VersionRollingBits int
}

// defaultSessionParams is what a session starts with before any subscribe
// response has arrived.
func defaultSessionParams() SessionParams {
	return SessionParams{
		Extranonce1:     []byte{0, 0, 0, 0},
		Extranonce2Size: 2,
	}
}

// NotifyPayload is the mining.notify parameter set, unpacked from its
// positional JSON array into named fields.
type NotifyPayload struct {
	JobID        string
	PrevHash     []byte
	CoinBase1    []byte
	CoinBase2    []byte
	MerkleBranch [][]byte
	Version      uint32
	Bits         uint32
	Time         uint32
	CleanJobs    bool
}

// JobUpdate is an immutable snapshot of one notify event plus everything
// needed to interpret it later: the pool it came from, the session
// parameters in effect, and the two timestamps that bound its age.
type JobUpdate struct {
	Timestamp       time.Time
	Pool            Pool
	Notify          NotifyPayload
	Extranonce1     []byte
	Extranonce2Size int
	TimeConnected   time.Time
}

// Age is how long ago this JobUpdate was received.
func (j JobUpdate) Age() time.Duration {
	return time.Since(j.Timestamp)
}

// ConnectionAge is how long the emitting session had been connected when
// this JobUpdate was received.
func (j JobUpdate) ConnectionAge() time.Duration {
	return time.Since(j.TimeConnected)
}

// rawCoinbase reconstructs coin_base1 || extranonce1 || zeros(extranonce2_size) || coin_base2.
func (j JobUpdate) rawCoinbase() []byte {
	return assembleCoinbase(j.Notify.CoinBase1, j.Extranonce1, j.Extranonce2Size, j.Notify.CoinBase2)
}

// CoinbaseInfo decodes the assembled coinbase transaction. Malformed bytes
// degrade to placeholderCoinbaseInfo rather than returning an error; the
// caller always gets a usable value.
func (j JobUpdate) CoinbaseInfo() CoinbaseInfo {
	return decodeCoinbase(j.rawCoinbase())
}

// PrevBlockHash returns the notify's prev_hash interpreted as a
// double-SHA256 hash, in conventional big-endian display order.
func (j JobUpdate) PrevBlockHash() string {
	return encodeHex(reverseBytes(j.Notify.PrevHash))
}

// MerkleBranchHex returns each merkle branch entry hex-encoded, in order.
func (j JobUpdate) MerkleBranchHex() []string {
	out := make([]string, len(j.Notify.MerkleBranch))
	for i, b := range j.Notify.MerkleBranch {
		out[i] = encodeHex(b)
	}
	return out
}
