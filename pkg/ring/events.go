package ring

import (
	"context"
	"sync"
	"time"
)

// EventType names a kind of observable occurrence in the election
// protocol. Nothing in the protocol depends on these being observed; they
// exist purely for the operator console's "debug" command (SPEC_FULL.md).
type EventType string

const (
	EventRegistered       EventType = "registered"
	EventElectionStarted  EventType = "election_started"
	EventMessageForwarded EventType = "message_forwarded"
	EventUsurped          EventType = "usurped"
	EventLeaderAnnounced  EventType = "leader_announced"
	EventFailureDetected  EventType = "failure_detected"
	EventRecoveryClaimed  EventType = "recovery_claimed"
	EventRingRebuilt      EventType = "ring_rebuilt"
)

// Event is a single observable occurrence, timestamped and tagged with the
// round/epoch it belongs to for correlation in logs (SPEC_FULL.md).
type Event struct {
	Type      EventType
	Detail    string
	RoundID   string
	Timestamp time.Time
}

// broadcaster fans Events out to any number of subscribers, adapted from
// pkg/cluster/election_memory.go's nodeUpdates/leaderChs watcher lists:
// non-blocking sends so a slow or absent reader never stalls the election.
type broadcaster struct {
	mu   sync.Mutex
	subs []chan Event
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the election.
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
