package main

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestDBWriterInsertsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observer.db")
	in := make(chan JobUpdate, 4)
	w := newDBWriter(path, in, logger)

	done := make(chan error, 1)
	go func() { done <- w.run() }()

	job := testJobUpdate("Example")
	job.Extranonce1 = []byte{0xde, 0xad, 0xbe, 0xef}
	job.Extranonce2Size = 4
	job.Notify = NotifyPayload{
		PrevHash: make([]byte, 32),
		Version:  1,
		Bits:     2,
		Time:     3,
	}
	in <- job

	deadline := time.Now().Add(5 * time.Second)
	var count int
	for time.Now().Before(deadline) {
		db, err := sql.Open("sqlite", path)
		if err == nil {
			_ = db.QueryRow("SELECT COUNT(*) FROM job_updates").Scan(&count)
			db.Close()
			if count > 0 {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}

	close(in)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("writer did not exit after input channel closed")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observer.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := migrate(db); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := migrate(db); err != nil {
		t.Fatalf("second migrate should be a no-op, got error: %v", err)
	}
}
