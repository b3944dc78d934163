package main

import "github.com/remeh/sizedwaitgroup"

// runSupervisedPool loops a stratumClient's run method for one pool until
// done fires, so that a session's death — however caused — is invisible
// above this layer. Failures in one pool's supervisor never affect
// another's; each is an independent goroutine. Consecutive connect
// failures are reported to notifier (which may be nil) for ops alerting.
func runSupervisedPool(pool Pool, sink chan<- JobUpdate, log *simpleLogger, notifier *opsNotifier, alertThreshold int, done <-chan struct{}) {
	client := newStratumClient(pool, sink, log)
	consecutiveFailures := 0
	for {
		select {
		case <-done:
			return
		default:
		}
		if connected := client.run(done); connected {
			consecutiveFailures = 0
			notifier.clearFailure(pool.Name)
			continue
		}
		consecutiveFailures++
		notifier.alertConnectFailures(pool.Name, consecutiveFailures, alertThreshold)
	}
}

// startSupervisors spawns one supervisor goroutine per configured pool,
// all sharing the single job channel that feeds the hub. Each goroutine is
// tracked in swg so the caller can await a clean shutdown once done fires.
func startSupervisors(pools []Pool, jobs chan<- JobUpdate, log *simpleLogger, notifier *opsNotifier, alertThreshold int, done <-chan struct{}, swg *sizedwaitgroup.SizedWaitGroup) {
	for _, pool := range pools {
		pool := pool
		swg.Add()
		go func() {
			defer swg.Done()
			runSupervisedPool(pool, jobs, log, notifier, alertThreshold, done)
		}()
	}
}
