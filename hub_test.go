package main

import (
	"testing"
	"time"
)

func testJobUpdate(poolName string) JobUpdate {
	return JobUpdate{
		Timestamp:     time.Now(),
		Pool:          Pool{Name: poolName},
		TimeConnected: time.Now(),
	}
}

func TestHubFansOutToBothSinks(t *testing.T) {
	jobs := make(chan JobUpdate, 1)
	dbCh := make(chan JobUpdate, 1)
	wsCh := make(chan JobUpdate, 1)

	h := newHub(jobs, dbCh, wsCh, logger)
	done := make(chan error, 1)
	go func() { done <- h.run() }()

	jobs <- testJobUpdate("A")

	select {
	case got := <-dbCh:
		if got.Pool.Name != "A" {
			t.Fatalf("db got pool %q", got.Pool.Name)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for db sink")
	}
	select {
	case got := <-wsCh:
		if got.Pool.Name != "A" {
			t.Fatalf("ws got pool %q", got.Pool.Name)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for ws sink")
	}

	close(jobs)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("hub did not exit after job channel closed")
	}
}

func TestHubTerminatesWhenSinkClosed(t *testing.T) {
	jobs := make(chan JobUpdate, 1)
	dbCh := make(chan JobUpdate)
	close(dbCh)

	h := newHub(jobs, dbCh, nil, logger)
	done := make(chan error, 1)
	go func() { done <- h.run() }()

	jobs <- testJobUpdate("A")

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected fatal error when sink channel is closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("hub did not terminate after sink closed")
	}
}
