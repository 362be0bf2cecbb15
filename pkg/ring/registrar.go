package ring

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ringvote/pkg/config"
	"ringvote/pkg/ringmetrics"
)

// Registrar is the centralized membership and ring-assembly service
// described in spec.md §4.1. Concurrency shape (RWMutex-guarded state,
// config-defaulting constructor) is grounded on
// pkg/cluster/election_memory.go's InMemoryElection.
type Registrar struct {
	cfg config.Config
	log *log.Logger

	mu                 sync.RWMutex
	order              []int32 // insertion order, for GetMembers
	handles            map[int32]NodeHandle
	electionInProgress bool
	recoveryMode       bool
	recoveryInitiated  bool
	epoch              uint64

	rebuildGroup singleflight.Group
	events       broadcaster
}

// NewRegistrar creates a Registrar with the given configuration.
func NewRegistrar(cfg config.Config) *Registrar {
	return &Registrar{
		cfg:     cfg,
		log:     log.New(os.Stderr, "registrar: ", log.LstdFlags),
		handles: make(map[int32]NodeHandle),
	}
}

// Events returns a channel of observable registrar occurrences, for the
// operator console's debug command (SPEC_FULL.md).
func (r *Registrar) Events(ctx context.Context) <-chan Event {
	return r.events.subscribe(ctx)
}

// Register admits uid into the membership, failing with ErrElectionActive
// during an active election or ErrDuplicateUID for a live re-registration
// (spec.md §4.1).
func (r *Registrar) Register(ctx context.Context, uid int32, handle NodeHandle) error {
	r.mu.Lock()
	if r.electionInProgress {
		r.mu.Unlock()
		return ErrElectionActive
	}
	if _, exists := r.handles[uid]; exists {
		r.mu.Unlock()
		return ErrDuplicateUID
	}
	r.order = append(r.order, uid)
	r.handles[uid] = handle
	memberCount := len(r.handles)
	r.mu.Unlock()

	r.events.publish(Event{Type: EventRegistered, Detail: fmt.Sprintf("node %d registered", uid), Timestamp: time.Now()})
	r.log.Printf("registered node %d (%s)", uid, handle.Address())

	if memberCount >= 2 {
		if err := r.RebuildRing(ctx); err != nil {
			r.log.Printf("post-register rebuild: %v", err)
		}
	}
	return nil
}

// Deregister removes uid from the membership on explicit shutdown
// (spec.md §3 Lifecycles), exposed over RPC as Registrar.Deregister so a
// remote node can unbind itself before exiting.
func (r *Registrar) Deregister(ctx context.Context, uid int32) error {
	r.mu.Lock()
	if _, exists := r.handles[uid]; !exists {
		r.mu.Unlock()
		return fmt.Errorf("deregister node %d: %w", uid, ErrNoSuccessor)
	}
	delete(r.handles, uid)
	for i, u := range r.order {
		if u == uid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	remaining := len(r.handles)
	r.mu.Unlock()

	if remaining >= 2 {
		if err := r.RebuildRing(ctx); err != nil {
			r.log.Printf("post-deregister rebuild: %v", err)
		}
	}
	return nil
}

// BeginElection marks an election in progress, gating new registrations.
// A call while one is already in progress is a no-op with a warning log
// (spec.md §4.1). recovery is recorded as the election's recoveryMode; per
// DESIGN.md this is only reachable once the prior election has ended,
// since that is the precondition for electionInProgress being false here.
func (r *Registrar) BeginElection(ctx context.Context, recovery bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.electionInProgress {
		r.log.Printf("duplicate BeginElection call ignored (recovery=%v)", recovery)
		return nil
	}
	r.electionInProgress = true
	r.recoveryMode = recovery
	return nil
}

// EndElection clears the election flags. Idempotent.
func (r *Registrar) EndElection(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.electionInProgress = false
	r.recoveryMode = false
	return nil
}

// IsElectionInProgress reports whether the Registrar currently gates
// registration.
func (r *Registrar) IsElectionInProgress() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.electionInProgress
}

// TryClaimRecovery is the single-writer compare-and-set guard from
// spec.md §9, option (a): exactly one caller among concurrent failure
// detectors observing the same leader failure succeeds.
func (r *Registrar) TryClaimRecovery(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recoveryInitiated {
		return false, nil
	}
	r.recoveryInitiated = true
	return true, nil
}

// ReleaseRecovery resets the recovery guard so another detector may claim
// it on a future failure (spec.md §4.4: reset on AnnounceLeader success or
// on recovery-initiation failure).
func (r *Registrar) ReleaseRecovery(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoveryInitiated = false
}

// LookupAddress returns the address a registered uid was last known to be
// reachable at, for callers (the failure detector's leader probe) that
// only know a peer by UID.
func (r *Registrar) LookupAddress(ctx context.Context, uid int32) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.handles[uid]
	if !ok {
		return "", fmt.Errorf("lookup address for node %d: %w", uid, ErrNoSuccessor)
	}
	return handle.Address(), nil
}

// GetMembers returns an insertion-ordered snapshot of registered UIDs.
func (r *Registrar) GetMembers(ctx context.Context) ([]int32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int32, len(r.order))
	copy(out, r.order)
	return out, nil
}

// Epoch returns the current topology epoch.
func (r *Registrar) Epoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// RebuildRing atomically (re)assembles the ring over every live member,
// ordered ascending by UID, wrapping from largest back to smallest
// (spec.md §4.1). Concurrent callers (multiple failure detectors, or a
// detector racing a node's own forward-failure retry) are coalesced into a
// single rebuild via singleflight, matching golang.org/x/sync's usage in
// the retrieved pack (moby-moby) for request coalescing.
func (r *Registrar) RebuildRing(ctx context.Context) error {
	_, err, _ := r.rebuildGroup.Do("rebuild", func() (interface{}, error) {
		return nil, r.doRebuild(ctx)
	})
	return err
}

func (r *Registrar) doRebuild(ctx context.Context) error {
	r.mu.RLock()
	snapshot := make(map[int32]NodeHandle, len(r.handles))
	for uid, h := range r.handles {
		snapshot[uid] = h
	}
	r.mu.RUnlock()

	// Probe every registered node's liveness concurrently: the ring-mutation
	// lock is not held across these network round trips, only the decision
	// that follows.
	var mu sync.Mutex
	alive := make([]int32, 0, len(snapshot))

	g, gctx := errgroup.WithContext(ctx)
	for uid, handle := range snapshot {
		uid, handle := uid, handle
		g.Go(func() error {
			ok, err := handle.IsAlive(gctx)
			if err != nil {
				r.log.Printf("probe node %d: %v", uid, err)
				return nil
			}
			if ok {
				mu.Lock()
				alive = append(alive, uid)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // probe goroutines never return a non-nil error; see above.

	if len(alive) < 2 {
		r.log.Printf("insufficient members for ring (%d live); topology unchanged", len(alive))
		return ErrInsufficientMembers
	}

	sort.Slice(alive, func(i, j int) bool { return alive[i] < alive[j] })

	r.mu.Lock()
	r.epoch++
	epoch := r.epoch
	r.mu.Unlock()

	roundID := uuid.NewString()
	n := len(alive)
	assignGroup, actx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		uid := alive[i]
		next := alive[(i+1)%n]
		handle := snapshot[uid]
		nextHandle := snapshot[next]
		assignGroup.Go(func() error {
			succ := SuccessorRef{UID: next, Address: nextHandle.Address(), Epoch: epoch}
			if err := handle.SetSuccessor(actx, succ); err != nil {
				r.log.Printf("assign successor for node %d: %v", uid, err)
			}
			return nil
		})
	}
	_ = assignGroup.Wait()

	r.events.publish(Event{
		Type:      EventRingRebuilt,
		Detail:    fmt.Sprintf("ring rebuilt over %d nodes at epoch %d", n, epoch),
		RoundID:   roundID,
		Timestamp: time.Now(),
	})
	ringmetrics.GetCollector().IncRingRebuilds()
	ringmetrics.GetCollector().SetCurrentEpoch(epoch)
	r.log.Printf("ring rebuilt: %v (epoch=%d, round=%s)", alive, epoch, roundID)
	return nil
}
