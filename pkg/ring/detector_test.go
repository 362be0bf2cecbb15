package ring

import (
	"context"
	"testing"
	"time"
)

// TestFailureDetectorLoserResetsWithoutClaiming exercises the "loser" arm
// of onProbeFailure (spec.md §4.4 step 2): a detector that finds the
// recovery guard already claimed clears its node's local state but does
// not start its own election.
func TestFailureDetectorLoserResetsWithoutClaiming(t *testing.T) {
	cfg := testConfig()
	tc := newTestCluster([]int32{2, 5}, cfg)
	tc.registerAll(t)

	ctx := context.Background()
	if err := tc.nodes[2].InitiateElection(ctx); err != nil {
		t.Fatalf("initiate election: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return allAgreeOnLeader(tc.nodes, 5, nil)
	})

	// Pre-claim the guard, simulating another detector having already won
	// the race.
	claimed, err := tc.registrar.TryClaimRecovery(ctx)
	if err != nil || !claimed {
		t.Fatalf("pre-claim: claimed=%v err=%v", claimed, err)
	}

	loser := tc.nodes[2]
	leaderOf := func() (int32, string, bool) {
		return loser.LeaderUID(), tc.nodes[5].Address(), true
	}
	alwaysFails := func(ctx context.Context, addr string) (bool, error) { return false, ErrTransportFailure }
	d := NewFailureDetector(loser, tc.registrar, leaderOf, alwaysFails, cfg)

	d.checkOnce(ctx)

	waitFor(t, time.Second, func() bool {
		return loser.State() == StateIdle && loser.LeaderUID() == noLeader
	})
	if loser.IsElectionInProgress() {
		t.Error("loser should not have started its own election")
	}
}

// TestFailureDetectorIgnoresHealthyLeader confirms a passing probe is a
// no-op: no recovery claim, no state change.
func TestFailureDetectorIgnoresHealthyLeader(t *testing.T) {
	cfg := testConfig()
	tc := newTestCluster([]int32{2, 5}, cfg)
	tc.registerAll(t)

	ctx := context.Background()
	if err := tc.nodes[2].InitiateElection(ctx); err != nil {
		t.Fatalf("initiate election: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return allAgreeOnLeader(tc.nodes, 5, nil)
	})

	follower := tc.nodes[2]
	leaderOf := func() (int32, string, bool) {
		return follower.LeaderUID(), tc.nodes[5].Address(), true
	}
	alwaysHealthy := func(ctx context.Context, addr string) (bool, error) { return true, nil }
	d := NewFailureDetector(follower, tc.registrar, leaderOf, alwaysHealthy, cfg)

	d.checkOnce(ctx)

	claimed, err := tc.registrar.TryClaimRecovery(ctx)
	if err != nil {
		t.Fatalf("claim check: %v", err)
	}
	if !claimed {
		t.Error("expected recovery guard to remain unclaimed after a healthy probe")
	}
}

// TestFailureDetectorStartStopLifecycle exercises the ErrAlreadyRunning /
// ErrNotRunning guards.
func TestFailureDetectorStartStopLifecycle(t *testing.T) {
	cfg := testConfig()
	tc := newTestCluster([]int32{2, 5}, cfg)
	tc.registerAll(t)

	ctx := context.Background()
	n := tc.nodes[2]
	leaderOf := func() (int32, string, bool) { return 0, "", false }
	probe := func(ctx context.Context, addr string) (bool, error) { return true, nil }
	d := NewFailureDetector(n, tc.registrar, leaderOf, probe, cfg)

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Start(ctx); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := d.Stop(); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}
