package main

import (
	"sort"
	"sync"
)

// broadcastRingCapacity bounds how many undelivered messages a lagging
// subscriber can accumulate before the oldest is discarded. The producer
// (the hub's WS dispatcher) must never block on a slow subscriber.
const broadcastRingCapacity = 10

// broadcaster fans a single stream of wsMessage values out to any number
// of subscribers, each with its own bounded, overflow-discarding queue, and
// separately maintains a most-recent-per-pool snapshot so a subscriber that
// attaches after the fact can bootstrap without waiting for the next event.
type broadcaster struct {
	mu          sync.Mutex
	subscribers map[*broadcastReceiver]struct{}

	snapMu   sync.RWMutex
	snapshot map[string]wsMessage
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subscribers: make(map[*broadcastReceiver]struct{}),
		snapshot:    make(map[string]wsMessage),
	}
}

// broadcastReceiver is one subscriber's inbox: a fixed-capacity ring with
// discard-oldest overflow. newReceiver is the only way to obtain one; it
// also registers the receiver with the broadcaster so future publishes
// reach it.
type broadcastReceiver struct {
	b  *broadcaster
	ch chan wsMessage
}

// newReceiver attaches a fresh subscriber. The broadcaster keeps no
// receiver of its own: with no subscriber attached, publish() only updates
// the snapshot, so it never waits on anyone.
func (b *broadcaster) newReceiver() *broadcastReceiver {
	r := &broadcastReceiver{b: b, ch: make(chan wsMessage, broadcastRingCapacity)}
	b.mu.Lock()
	b.subscribers[r] = struct{}{}
	b.mu.Unlock()
	return r
}

// close detaches the receiver. Safe to call more than once.
func (r *broadcastReceiver) close() {
	r.b.mu.Lock()
	delete(r.b.subscribers, r)
	r.b.mu.Unlock()
}

// recv returns the receiver's channel for use in a select/range.
func (r *broadcastReceiver) recv() <-chan wsMessage {
	return r.ch
}

// publish delivers msg to every attached subscriber's ring, discarding the
// oldest queued message for any subscriber whose ring is full, and updates
// the most-recent-per-pool snapshot. Never blocks.
func (b *broadcaster) publish(msg wsMessage) {
	b.snapMu.Lock()
	b.snapshot[msg.PoolName] = msg
	b.snapMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	for r := range b.subscribers {
		select {
		case r.ch <- msg:
		default:
			// Ring full: discard the oldest queued message, then retry once.
			select {
			case <-r.ch:
			default:
			}
			select {
			case r.ch <- msg:
			default:
			}
		}
	}
}

// snapshotSorted returns the current most-recent-per-pool messages ordered
// by pool name, for delivery to a subscriber that just attached.
func (b *broadcaster) snapshotSorted() []wsMessage {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()

	names := make([]string, 0, len(b.snapshot))
	for name := range b.snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]wsMessage, 0, len(names))
	for _, name := range names {
		out = append(out, b.snapshot[name])
	}
	return out
}
