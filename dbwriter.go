package main

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dbReconnectBackoff = 3 * time.Second
)

// dbRow mirrors the persisted job_updates table: the WS message fields
// plus the raw extranonce the session negotiated.
type dbRow struct {
	Timestamp       time.Time
	PoolName        string
	CoinbaseTag     string
	PrevHash        string
	MerkleBranches  string
	Height          uint32
	OutputSum       int64
	HeaderVersion   uint32
	HeaderBits      uint32
	HeaderTime      uint32
	Extranonce1     []byte
	Extranonce2Size int
	CleanJobs       bool
}

func dbRowFromJobUpdate(j JobUpdate) dbRow {
	info := j.CoinbaseInfo()
	return dbRow{
		Timestamp:       j.Timestamp,
		PoolName:        j.Pool.Name,
		CoinbaseTag:     info.Tag,
		PrevHash:        j.PrevBlockHash(),
		MerkleBranches:  strings.Join(j.MerkleBranchHex(), ":"),
		Height:          info.Height,
		OutputSum:       info.ValueSum,
		HeaderVersion:   j.Notify.Version,
		HeaderBits:      j.Notify.Bits,
		HeaderTime:      j.Notify.Time,
		Extranonce1:     j.Extranonce1,
		Extranonce2Size: j.Extranonce2Size,
		CleanJobs:       j.Notify.CleanJobs,
	}
}

// dbWriter owns the single connection to the persisted job_updates table.
// It is the sole consumer of the DB channel handed to it by the hub.
type dbWriter struct {
	dsn string
	log *simpleLogger
	in  <-chan JobUpdate
}

func newDBWriter(dsn string, in <-chan JobUpdate, log *simpleLogger) *dbWriter {
	return &dbWriter{dsn: dsn, in: in, log: log}
}

// run loops forever: connect, migrate, insert rows until an I/O or insert
// error, then drain the channel (discarding what's queued), back off, and
// reconnect. It only returns when in is closed; main treats that return as
// a fatal sink condition (exit code 2).
func (w *dbWriter) run() error {
	for {
		db, err := sql.Open("sqlite", w.dsn+"?_pragma=busy_timeout(5000)")
		if err != nil {
			w.log.Error("db open failed", "dsn", w.dsn, "err", err)
			time.Sleep(dbReconnectBackoff)
			continue
		}

		if err := migrate(db); err != nil {
			w.log.Error("db migrate failed", "err", err)
			db.Close()
			time.Sleep(dbReconnectBackoff)
			continue
		}
		w.log.Info("db connected", "dsn", w.dsn)

		closed := w.insertLoop(db)
		db.Close()
		if closed {
			return nil
		}

		discarded := w.drain()
		if discarded > 0 {
			w.log.Warn("db writer dropped queued updates on reconnect", "count", discarded)
		}
		time.Sleep(dbReconnectBackoff)
	}
}

// insertLoop receives and inserts rows until the channel closes (returns
// true) or an insert/I/O error occurs (returns false, triggering drain
// and reconnect in the caller).
func (w *dbWriter) insertLoop(db *sql.DB) (channelClosed bool) {
	for job := range w.in {
		row := dbRowFromJobUpdate(job)
		if err := w.insert(db, row); err != nil {
			w.log.Error("db insert failed", "pool", row.PoolName, "err", err)
			return false
		}
	}
	return true
}

func (w *dbWriter) insert(db *sql.DB, row dbRow) error {
	_, err := db.Exec(
		`INSERT INTO job_updates
			(timestamp, pool_name, coinbase_tag, prev_hash, merkle_branches, height,
			 output_sum, header_version, header_bits, header_time, extranonce1,
			 extranonce2_size, clean_jobs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp.UTC(), row.PoolName, row.CoinbaseTag, row.PrevHash, row.MerkleBranches,
		row.Height, row.OutputSum, row.HeaderVersion, row.HeaderBits, row.HeaderTime,
		row.Extranonce1, row.Extranonce2Size, row.CleanJobs,
	)
	return err
}

// drain discards any updates currently queued in the channel without
// inserting them, counting how many were dropped.
func (w *dbWriter) drain() int {
	n := 0
	for {
		select {
		case _, ok := <-w.in:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
