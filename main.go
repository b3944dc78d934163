package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	debugpkg "runtime/debug"
	"syscall"
	"time"

	"github.com/remeh/sizedwaitgroup"
)

func main() {
	// Top-level panic handler: ensure any unexpected panic is captured to
	// panic.log with a stack trace so operators can inspect it.
	defer func() {
		if r := recover(); r != nil {
			path := "panic.log"
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				ts := time.Now().UTC().Format(time.RFC3339)
				fmt.Fprintf(f, "[%s] panic: %v\n%s\n\n", ts, r, debugpkg.Stack())
			}
			logger.Stop()
			os.Exit(1)
		}
	}()

	cfg, err := loadConfig(configPath())
	if err != nil {
		logger.Error("failed to load config", "err", err)
		logger.Stop()
		os.Exit(1)
	}

	if !cfg.DBEnabled() && !cfg.WSEnabled() {
		logger.Error("neither database_path nor websocket_address configured, nothing to do")
		logger.Stop()
		os.Exit(3)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs := make(chan JobUpdate, hubChannelCapacity)
	var dbChan, wsChan chan JobUpdate

	var bc *broadcaster
	wsFatal := make(chan error, 1)
	if cfg.WSEnabled() {
		wsChan = make(chan JobUpdate, hubChannelCapacity)
		bc = newBroadcaster()
		srv := newWSServer(cfg.WebsocketAddr, bc, logger)
		wsDone := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(wsDone)
		}()
		go func() {
			wsFatal <- srv.run(wsDone)
		}()
		go func() {
			for job := range wsChan {
				bc.publish(wsMessageFromJobUpdate(job))
			}
		}()
	}

	dbFatal := make(chan error, 1)
	if cfg.DBEnabled() {
		dbChan = make(chan JobUpdate, hubChannelCapacity)
		writer := newDBWriter(cfg.DatabasePath, dbChan, logger)
		go func() {
			dbFatal <- writer.run()
		}()
	}

	h := newHub(jobs, dbChan, wsChan, logger)
	hubFatal := make(chan error, 1)
	go func() {
		hubFatal <- h.run()
	}()

	poolDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(poolDone)
	}()

	notifier := newOpsNotifier(cfg.DiscordWebhookURL)
	swg := sizedwaitgroup.New(len(cfg.Pools))
	startSupervisors(cfg.Pools, jobs, logger, notifier, cfg.MaxConnectFailuresForAlert, poolDone, &swg)

	logger.Info("stratum-observer started", "pools", len(cfg.Pools), "db", cfg.DBEnabled(), "ws", cfg.WSEnabled())

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining pool sessions")
		swg.Wait()
		logger.Stop()
		os.Exit(0)

	case err := <-wsFatal:
		if err != nil {
			logger.Error("websocket server terminated", "err", err)
		}
		logger.Stop()
		os.Exit(1)

	case err := <-dbFatal:
		if err != nil {
			logger.Error("db writer terminated", "err", err)
		}
		logger.Stop()
		os.Exit(2)

	case err := <-hubFatal:
		if err != nil {
			logger.Error("fan-out hub terminated", "err", err)
		}
		logger.Stop()
		os.Exit(1)
	}
}
