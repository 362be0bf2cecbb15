package ring

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ringvote/pkg/config"
	"ringvote/pkg/ringmetrics"
)

// Dialer resolves a NodeHandle for a successor reference. In production
// this goes through pkg/naming's cached registry lookup and
// pkg/transport's RPC client; tests supply an in-process dialer.
type Dialer func(ctx context.Context, ref SuccessorRef) (NodeHandle, error)

// Node is a participating process holding a UID, a successor reference,
// election state, and (via FailureDetector) a fault detector. Its
// concurrency shape — RWMutex/mutex-guarded multi-field state, a
// config-defaulting constructor, channel-based event broadcast — is
// grounded on pkg/cluster/election_memory.go's InMemoryElection. The
// Chang–Roberts decision table itself comes directly from spec.md §4.2,
// which has no analogue in the teacher.
type Node struct {
	uid     int32
	address string
	cfg     config.Config
	log     *log.Logger

	registrar RegistrarClient
	dial      Dialer

	mu                  sync.Mutex
	state               ElectionState
	leaderUID           int32
	isLeader            bool
	electionRound       int
	electionFailed      bool
	recoveryCoordinated bool
	successor           SuccessorRef
	epoch               uint64
	electionStartedAt   time.Time

	alive atomic.Bool

	timerMu       sync.Mutex
	electionTimer *time.Timer

	events   broadcaster
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNode creates a Node. registrar is the (possibly remote) Registrar
// client it coordinates with; dial resolves NodeHandles for forwarding.
func NewNode(uid int32, address string, cfg config.Config, registrar RegistrarClient, dial Dialer) *Node {
	n := &Node{
		uid:       uid,
		address:   address,
		cfg:       cfg,
		log:       log.New(os.Stderr, fmt.Sprintf("node[%d]: ", uid), log.LstdFlags),
		registrar: registrar,
		dial:      dial,
		state:     StateIdle,
		stopCh:    make(chan struct{}),
	}
	n.alive.Store(true)
	return n
}

// --- NodeHandle / spec.md §6 RPC surface -----------------------------------

// UID satisfies NodeHandle.
func (n *Node) UID() int32 { return n.uid }

// GetId is the spec.md §6-named accessor; identical to UID.
func (n *Node) GetId() int32 { return n.uid }

// Address satisfies NodeHandle.
func (n *Node) Address() string { return n.address }

// Alive is a local, non-simulated accessor used by the operator console
// and GetStatus — unlike IsAlive, it never itself reports failure.
func (n *Node) Alive() bool { return n.alive.Load() }

// IsAlive is the remote liveness probe. A node marked dead simulates a
// crashed, unreachable process: spec.md §3 says a dead node "fails
// probes", so this returns an error rather than (false, nil) — a true
// crash would mean no response at all, not a polite "I'm down" reply.
func (n *Node) IsAlive(ctx context.Context) (bool, error) {
	if !n.alive.Load() {
		return false, fmt.Errorf("node %d unreachable: %w", n.uid, ErrTransportFailure)
	}
	return true, nil
}

// GetStatus renders a human-readable snapshot for the operator console.
func (n *Node) GetStatus() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	leader := "none"
	if n.leaderUID != noLeader {
		leader = fmt.Sprintf("%d", n.leaderUID)
	}
	failed := ""
	if n.electionFailed {
		failed = " (ELECTION_FAILED)"
	}
	return fmt.Sprintf(
		"uid=%d alive=%v state=%s leader=%s isLeader=%v round=%d successor=%s epoch=%d%s",
		n.uid, n.alive.Load(), n.state, leader, n.isLeader, n.electionRound, n.successor, n.epoch, failed,
	)
}

// IsElectionInProgress satisfies spec.md §6.
func (n *Node) IsElectionInProgress() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateInProgress
}

// IsElectionCompleted satisfies spec.md §6.
func (n *Node) IsElectionCompleted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateLeaderAnnounced
}

// SetSuccessor is called by the Registrar during RebuildRing to assign
// this node's place in the ring. Bumping the locally-tracked epoch here
// (rather than only on message receipt) means a node learns the new
// topology immediately, not just from in-flight traffic.
func (n *Node) SetSuccessor(ctx context.Context, succ SuccessorRef) error {
	n.mu.Lock()
	n.successor = succ
	if succ.Epoch > n.epoch {
		n.epoch = succ.Epoch
	}
	n.mu.Unlock()
	n.events.publish(Event{Type: EventRingRebuilt, Detail: fmt.Sprintf("node %d assigned successor %d", n.uid, succ.UID), Timestamp: time.Now()})
	return nil
}

// Events returns a channel of observable node occurrences (SPEC_FULL.md).
func (n *Node) Events(ctx context.Context) <-chan Event {
	return n.events.subscribe(ctx)
}

// SetAlive simulates a crash (false) or un-crash (true). Per spec.md §4.5,
// SetAlive(true) alone does not rejoin the ring — Recover does that.
func (n *Node) SetAlive(ctx context.Context, alive bool) error {
	n.alive.Store(alive)
	if !alive {
		n.mu.Lock()
		n.state = StateDead
		n.mu.Unlock()
		n.cancelTimeout()
		n.events.publish(Event{Type: EventFailureDetected, Detail: fmt.Sprintf("node %d set dead", n.uid), Timestamp: time.Now()})
	}
	return nil
}

// Recover un-crashes the node and requests a ring rebuild, per the
// DEAD -> IDLE transition in spec.md §4.5.
func (n *Node) Recover(ctx context.Context) error {
	n.alive.Store(true)
	n.mu.Lock()
	n.state = StateIdle
	n.leaderUID = noLeader
	n.isLeader = false
	n.electionFailed = false
	n.electionRound = 0
	n.mu.Unlock()
	n.events.publish(Event{Type: EventRegistered, Detail: fmt.Sprintf("node %d recovered", n.uid), Timestamp: time.Now()})
	return n.registrar.RebuildRing(ctx)
}

// Reset returns the node to IDLE, for detector-driven recovery or an
// operator "reset" console command (spec.md §4.5).
func (n *Node) Reset(ctx context.Context) error {
	n.mu.Lock()
	n.state = StateIdle
	n.leaderUID = noLeader
	n.isLeader = false
	n.electionFailed = false
	n.recoveryCoordinated = false
	n.electionRound = 0
	n.mu.Unlock()
	n.cancelTimeout()
	return nil
}

// Shutdown stops background schedulers. The name registry unbind (last
// step of process shutdown, per spec.md §9) is the caller's
// responsibility (pkg/transport owns the listener lifecycle).
func (n *Node) Shutdown() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})
	n.cancelTimeout()
	n.events.closeAll()
}

// --- election protocol -------------------------------------------------

// ReceiveElection implements the decision table of spec.md §4.2.
func (n *Node) ReceiveElection(ctx context.Context, msg ElectionMessage) error {
	if !n.alive.Load() {
		return nil // dropped: crashed node
	}

	n.mu.Lock()

	if msg.Epoch < n.epoch {
		n.mu.Unlock()
		n.log.Printf("dropping stale election message %+v (local epoch %d)", msg, n.epoch)
		return nil
	}
	if msg.Epoch > n.epoch {
		n.epoch = msg.Epoch
	}
	if n.state == StateLeaderAnnounced {
		n.mu.Unlock()
		return nil // already decided this round
	}

	switch {
	case msg.CandidateUID > n.uid:
		n.state = StateInProgress
		fwd := ElectionMessage{CandidateUID: msg.CandidateUID, OriginUID: msg.OriginUID, Epoch: n.epoch}
		n.mu.Unlock()
		n.dispatchElection(ctx, fwd)

	case msg.CandidateUID == n.uid && msg.OriginUID == n.uid:
		n.mu.Unlock()
		n.AnnounceLeader(ctx, n.uid)

	case msg.CandidateUID == n.uid && msg.OriginUID != n.uid:
		n.state = StateInProgress
		fwd := ElectionMessage{CandidateUID: n.uid, OriginUID: n.uid, Epoch: n.epoch}
		n.mu.Unlock()
		n.events.publish(Event{Type: EventUsurped, Detail: fmt.Sprintf("node %d usurped origin %d", n.uid, msg.OriginUID), Timestamp: time.Now()})
		n.dispatchElection(ctx, fwd)

	case msg.CandidateUID < n.uid && n.state == StateIdle:
		n.state = StateInProgress
		fwd := ElectionMessage{CandidateUID: n.uid, OriginUID: msg.OriginUID, Epoch: n.epoch}
		n.mu.Unlock()
		n.dispatchElection(ctx, fwd)

	default: // candidate < uid && state == IN_PROGRESS
		n.mu.Unlock()
		n.log.Printf("discarding stale lower candidate %+v", msg)
	}

	return nil
}

// InitiateElection starts a normal election from this node.
func (n *Node) InitiateElection(ctx context.Context) error {
	return n.initiateElection(ctx, false)
}

// InitiateRecoveryElection is called by the node that won the recovery
// coordinator race (spec.md §4.4). It bypasses the "valid leader exists"
// guard because the caller has already cleared local leader state.
func (n *Node) InitiateRecoveryElection(ctx context.Context) error {
	return n.initiateElection(ctx, true)
}

func (n *Node) initiateElection(ctx context.Context, recovery bool) error {
	n.mu.Lock()
	if n.state == StateInProgress {
		n.mu.Unlock()
		return fmt.Errorf("node %d: election already in progress", n.uid)
	}
	if !recovery && n.leaderUID != noLeader {
		n.mu.Unlock()
		return fmt.Errorf("node %d: valid leader %d already exists", n.uid, n.leaderUID)
	}
	if n.successor.IsZero() {
		n.mu.Unlock()
		return ErrNoSuccessor
	}
	n.mu.Unlock()

	if err := n.registrar.BeginElection(ctx, recovery); err != nil {
		return fmt.Errorf("begin election: %w", err)
	}
	if err := n.registrar.RebuildRing(ctx); err != nil && err != ErrInsufficientMembers {
		n.log.Printf("pre-election rebuild: %v", err)
	}

	n.mu.Lock()
	if n.successor.IsZero() {
		n.mu.Unlock()
		_ = n.registrar.EndElection(ctx)
		return ErrNoSuccessor
	}
	n.electionRound++
	round := n.electionRound
	if round > n.cfg.MaxRounds {
		n.electionFailed = true
		n.recoveryCoordinated = false
		n.mu.Unlock()
		_ = n.registrar.EndElection(ctx)
		n.registrar.ReleaseRecovery(ctx)
		ringmetrics.GetCollector().IncElectionsFailed()
		n.log.Printf("election failed: round budget %d exhausted", n.cfg.MaxRounds)
		return ErrElectionFailed
	}
	n.state = StateInProgress
	n.electionFailed = false
	n.electionStartedAt = time.Now()
	msg := ElectionMessage{CandidateUID: n.uid, OriginUID: n.uid, Epoch: n.epoch}
	n.mu.Unlock()

	roundID := uuid.NewString()
	ringmetrics.GetCollector().IncElectionsStarted()
	n.events.publish(Event{Type: EventElectionStarted, Detail: fmt.Sprintf("node %d initiated round %d", n.uid, round), RoundID: roundID, Timestamp: time.Now()})
	n.armTimeout(ctx, round)
	n.dispatchElection(ctx, msg)
	return nil
}

// onElectionTimeout implements spec.md §4.2's timeout-expiry behavior.
func (n *Node) onElectionTimeout(ctx context.Context, armedRound int) {
	n.mu.Lock()
	if n.state != StateInProgress || n.electionRound != armedRound {
		n.mu.Unlock()
		return
	}
	n.state = StateIdle
	round := n.electionRound
	n.mu.Unlock()

	n.log.Printf("election round %d timed out", round)

	if round < n.cfg.MaxRounds {
		if err := n.InitiateElection(ctx); err != nil {
			n.log.Printf("retry after timeout failed: %v", err)
		}
		return
	}

	n.mu.Lock()
	n.electionFailed = true
	n.recoveryCoordinated = false
	n.mu.Unlock()
	_ = n.registrar.EndElection(ctx)
	n.registrar.ReleaseRecovery(ctx)
	ringmetrics.GetCollector().IncElectionsFailed()
	n.log.Printf("election failed: round budget %d exhausted after timeout", n.cfg.MaxRounds)
}

// AnnounceLeader is invoked by the node that completed the circuit.
func (n *Node) AnnounceLeader(ctx context.Context, leaderUID int32) {
	n.mu.Lock()
	n.leaderUID = leaderUID
	n.isLeader = leaderUID == n.uid
	n.state = StateLeaderAnnounced
	n.electionFailed = false
	n.recoveryCoordinated = false
	n.electionRound = 0
	succ := n.successor
	epoch := n.epoch
	started := n.electionStartedAt
	n.mu.Unlock()

	n.cancelTimeout()
	if err := n.registrar.EndElection(ctx); err != nil {
		n.log.Printf("end election: %v", err)
	}
	n.registrar.ReleaseRecovery(ctx)

	collector := ringmetrics.GetCollector()
	collector.IncElectionsCompleted()
	collector.IncLeaderChanges()
	if !started.IsZero() {
		collector.ObserveElectionDuration(time.Since(started).Seconds())
	}

	n.events.publish(Event{Type: EventLeaderAnnounced, Detail: fmt.Sprintf("leader %d announced by %d", leaderUID, n.uid), Timestamp: time.Now()})

	msg := LeaderMessage{LeaderUID: leaderUID, OriginUID: n.uid, Epoch: epoch}
	n.dispatchLeader(ctx, msg, succ)
}

// ReceiveLeader implements spec.md §4.3.
func (n *Node) ReceiveLeader(ctx context.Context, msg LeaderMessage) error {
	if !n.alive.Load() {
		return nil
	}

	n.mu.Lock()
	if msg.Epoch < n.epoch {
		n.mu.Unlock()
		return nil
	}
	if msg.Epoch > n.epoch {
		n.epoch = msg.Epoch
	}
	if n.state == StateLeaderAnnounced {
		n.mu.Unlock()
		return nil // absorbs duplicate traversal
	}

	n.leaderUID = msg.LeaderUID
	n.isLeader = msg.LeaderUID == n.uid
	n.state = StateLeaderAnnounced
	n.electionFailed = false
	n.recoveryCoordinated = false
	n.electionRound = 0
	succ := n.successor
	shouldForward := msg.LeaderUID != n.uid
	n.mu.Unlock()

	n.cancelTimeout()
	if err := n.registrar.EndElection(ctx); err != nil {
		n.log.Printf("end election: %v", err)
	}
	n.registrar.ReleaseRecovery(ctx)
	n.events.publish(Event{Type: EventLeaderAnnounced, Detail: fmt.Sprintf("node %d adopted leader %d", n.uid, msg.LeaderUID), Timestamp: time.Now()})

	if shouldForward {
		n.dispatchLeader(ctx, msg, succ)
	}
	return nil
}

// --- forwarding ----------------------------------------------------------

// dispatchElection runs the forward as a separate task, non-blocking with
// respect to the inbound handler (spec.md §5).
func (n *Node) dispatchElection(ctx context.Context, msg ElectionMessage) {
	go n.forwardElection(ctx, msg)
}

func (n *Node) dispatchLeader(ctx context.Context, msg LeaderMessage, succ SuccessorRef) {
	go n.forwardLeader(ctx, msg, succ)
}

func (n *Node) forwardElection(ctx context.Context, msg ElectionMessage) {
	if !n.sleepDelay(ctx) {
		return
	}

	n.mu.Lock()
	succ := n.successor
	n.mu.Unlock()

	if succ.IsZero() {
		n.log.Printf("cannot forward election: no successor")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= n.cfg.ForwardRetries; attempt++ {
		if n.sendElection(ctx, succ, msg) {
			return
		}
		lastErr = ErrTransportFailure
		if !n.sleepRetry(ctx) {
			return
		}
	}

	n.log.Printf("forward election to %s exhausted %d retries: %v", succ, n.cfg.ForwardRetries, lastErr)
	ringmetrics.GetCollector().IncForwardsExhausted()
	n.events.publish(Event{Type: EventMessageForwarded, Detail: fmt.Sprintf("forward to %s failed, requesting rebuild", succ), Timestamp: time.Now()})
	if err := n.registrar.RebuildRing(ctx); err != nil {
		n.log.Printf("rebuild after forward failure: %v", err)
	}
}

func (n *Node) sendElection(ctx context.Context, succ SuccessorRef, msg ElectionMessage) bool {
	handle, err := n.dial(ctx, succ)
	if err != nil {
		return false
	}
	if err := handle.ReceiveElection(ctx, msg); err != nil {
		return false
	}
	return true
}

func (n *Node) forwardLeader(ctx context.Context, msg LeaderMessage, succ SuccessorRef) {
	if !n.sleepDelay(ctx) {
		return
	}

	if succ.IsZero() {
		n.log.Printf("cannot forward leader announce: no successor")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= n.cfg.ForwardRetries; attempt++ {
		handle, err := n.dial(ctx, succ)
		if err == nil {
			if err := handle.ReceiveLeader(ctx, msg); err == nil {
				return
			} else {
				lastErr = err
			}
		} else {
			lastErr = err
		}
		if !n.sleepRetry(ctx) {
			return
		}
	}
	n.log.Printf("forward leader announce to %s exhausted %d retries: %v", succ, n.cfg.ForwardRetries, lastErr)
	ringmetrics.GetCollector().IncForwardsExhausted()
	if err := n.registrar.RebuildRing(ctx); err != nil {
		n.log.Printf("rebuild after forward failure: %v", err)
	}
}

func (n *Node) sleepDelay(ctx context.Context) bool {
	select {
	case <-time.After(n.cfg.NetworkDelay()):
		return true
	case <-ctx.Done():
		return false
	case <-n.stopCh:
		return false
	}
}

func (n *Node) sleepRetry(ctx context.Context) bool {
	select {
	case <-time.After(n.cfg.RetryDelay()):
		return true
	case <-ctx.Done():
		return false
	case <-n.stopCh:
		return false
	}
}

func (n *Node) armTimeout(ctx context.Context, round int) {
	n.timerMu.Lock()
	defer n.timerMu.Unlock()
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	n.electionTimer = time.AfterFunc(n.cfg.ElectionTimeout(), func() {
		n.onElectionTimeout(ctx, round)
	})
}

func (n *Node) cancelTimeout() {
	n.timerMu.Lock()
	defer n.timerMu.Unlock()
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
}

// --- recovery coordination guard (node-local bookkeeping) -----------------

// MarkRecoveryCoordinator records that this node has claimed coordinator
// role for a recovery, mirroring the Registrar's authoritative guard
// (spec.md §3's recoveryCoordinated attribute).
func (n *Node) MarkRecoveryCoordinator(coordinating bool) {
	n.mu.Lock()
	n.recoveryCoordinated = coordinating
	n.mu.Unlock()
}

// RecoveryCoordinator reports this node's local recovery-coordination flag.
func (n *Node) RecoveryCoordinator() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.recoveryCoordinated
}

// Successor returns the node's current successor reference.
func (n *Node) Successor() SuccessorRef {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.successor
}

// LeaderUID returns the last accepted leader UID, or 0 if none.
func (n *Node) LeaderUID() int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderUID
}

// IsLeader reports whether this node is the accepted leader.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isLeader
}

// State returns the node's current election state.
func (n *Node) State() ElectionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}
