package ring

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"ringvote/pkg/config"
	"ringvote/pkg/ringmetrics"
)

// Prober performs the "lightweight status call" spec.md §4.4 requires
// against the current leader. pkg/transport implements this over the
// node's HTTP health surface; tests can supply a direct in-process probe.
type Prober func(ctx context.Context, leaderAddr string) (bool, error)

// FailureDetector runs the periodic probe-against-leader loop described in
// spec.md §4.4, coordinating with other detectors via the Registrar's
// TryClaimRecovery guard so exactly one of them drives recovery.
// Lifecycle shape (Start/Stop, ticker loop, stop channel) is grounded on
// pkg/cluster/election_memory.go's runElectionLoop.
type FailureDetector struct {
	node      *Node
	registrar RegistrarClient
	leaderOf  func() (int32, string, bool) // returns (leaderUID, leaderAddr, haveLeader)
	probe     Prober
	cfg       config.Config
	log       *log.Logger

	mu      sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	running bool
}

// NewFailureDetector builds a detector for node, probing whatever leader
// leaderOf currently reports via probe.
func NewFailureDetector(node *Node, registrar RegistrarClient, leaderOf func() (int32, string, bool), probe Prober, cfg config.Config) *FailureDetector {
	return &FailureDetector{
		node:      node,
		registrar: registrar,
		leaderOf:  leaderOf,
		probe:     probe,
		cfg:       cfg,
		log:       log.New(os.Stderr, fmt.Sprintf("detector[%d]: ", node.UID()), log.LstdFlags),
	}
}

// Start begins the periodic probe loop.
func (d *FailureDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.ticker = time.NewTicker(d.cfg.HeartbeatInterval())
	d.mu.Unlock()

	go d.loop(ctx)
	return nil
}

// Stop halts the probe loop.
func (d *FailureDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrNotRunning
	}
	d.running = false
	d.ticker.Stop()
	close(d.stopCh)
	return nil
}

func (d *FailureDetector) loop(ctx context.Context) {
	d.mu.Lock()
	ticker := d.ticker
	stop := d.stopCh
	d.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			d.checkOnce(ctx)
		}
	}
}

// checkOnce runs a single probe cycle; exported for deterministic tests
// that don't want to wait out a real heartbeat interval.
func (d *FailureDetector) checkOnce(ctx context.Context) {
	if !d.node.Alive() {
		return // a dead node doesn't police the leader
	}
	if d.node.State() != StateLeaderAnnounced {
		return // spec.md §4.4: only runs once a leader has been announced
	}

	leaderUID, leaderAddr, haveLeader := d.leaderOf()
	if !haveLeader || leaderUID == d.node.UID() {
		return // no leader to probe, or we are the leader
	}

	ok, err := d.probe(ctx, leaderAddr)
	if err == nil && ok {
		return // leader healthy
	}

	d.log.Printf("probe of leader %d failed: %v", leaderUID, err)
	ringmetrics.GetCollector().IncHeartbeatFailures()
	d.onProbeFailure(ctx)
}

// onProbeFailure implements spec.md §4.4 steps 1-3.
func (d *FailureDetector) onProbeFailure(ctx context.Context) {
	claimed, err := d.registrar.TryClaimRecovery(ctx)
	if err != nil {
		d.log.Printf("claim recovery: %v", err)
		return
	}

	if !claimed {
		// Loser: clear local leader state and wait for incoming election
		// traffic; do not initiate.
		_ = d.node.Reset(ctx)
		return
	}

	d.node.MarkRecoveryCoordinator(true)

	// The guard stays claimed for the life of the recovery election: it is
	// released on recovery-initiation failure (below) or, on success, by
	// AnnounceLeader/ReceiveLeader once the election actually completes
	// (spec.md §4.4: "Releases the guard only after election completion").
	if err := d.node.Reset(ctx); err != nil {
		d.log.Printf("reset before recovery election: %v", err)
		d.node.MarkRecoveryCoordinator(false)
		d.registrar.ReleaseRecovery(ctx)
		return
	}
	if err := d.registrar.RebuildRing(ctx); err != nil && err != ErrInsufficientMembers {
		d.log.Printf("rebuild before recovery election: %v", err)
	}

	d.node.events.publish(Event{Type: EventRecoveryClaimed, Detail: fmt.Sprintf("node %d claimed recovery coordinator", d.node.UID()), Timestamp: time.Now()})

	if err := d.node.InitiateRecoveryElection(ctx); err != nil {
		d.log.Printf("recovery election: %v", err)
		d.node.MarkRecoveryCoordinator(false)
		d.registrar.ReleaseRecovery(ctx)
	}
}
