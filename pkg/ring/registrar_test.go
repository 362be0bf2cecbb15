package ring

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ringvote/pkg/config"
)

// fakeHandle is a minimal NodeHandle for Registrar-only tests that don't
// need the full election state machine, in the style of
// pkg/cluster/election_memory_test.go's direct construction of test
// fixtures rather than a mocking library.
type fakeHandle struct {
	uid     int32
	addr    string
	aliveFn func() bool

	mu   sync.Mutex
	succ SuccessorRef
}

func newFakeHandle(uid int32) *fakeHandle {
	return &fakeHandle{uid: uid, addr: "127.0.0.1:0", aliveFn: func() bool { return true }}
}

func (f *fakeHandle) UID() int32      { return f.uid }
func (f *fakeHandle) Address() string { return f.addr }

func (f *fakeHandle) ReceiveElection(ctx context.Context, msg ElectionMessage) error { return nil }
func (f *fakeHandle) ReceiveLeader(ctx context.Context, msg LeaderMessage) error     { return nil }

func (f *fakeHandle) SetSuccessor(ctx context.Context, succ SuccessorRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succ = succ
	return nil
}

func (f *fakeHandle) successor() SuccessorRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.succ
}

func (f *fakeHandle) IsAlive(ctx context.Context) (bool, error) {
	if !f.aliveFn() {
		return false, ErrTransportFailure
	}
	return true, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.NetworkDelayMs = 1
	cfg.RetryDelayMs = 1
	cfg.ElectionTimeoutMs = 3000
	cfg.HeartbeatIntervalMs = 20
	return cfg
}

func TestRegisterDuplicateUID(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	if err := r.Register(ctx, 5, newFakeHandle(5)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(ctx, 5, newFakeHandle(5)); err != ErrDuplicateUID {
		t.Fatalf("expected ErrDuplicateUID, got %v", err)
	}
}

func TestRegisterDuringElection(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	if err := r.Register(ctx, 2, newFakeHandle(2)); err != nil {
		t.Fatalf("register 2: %v", err)
	}
	if err := r.Register(ctx, 5, newFakeHandle(5)); err != nil {
		t.Fatalf("register 5: %v", err)
	}

	if err := r.BeginElection(ctx, false); err != nil {
		t.Fatalf("begin election: %v", err)
	}

	if err := r.Register(ctx, 7, newFakeHandle(7)); err != ErrElectionActive {
		t.Fatalf("expected ErrElectionActive, got %v", err)
	}

	if err := r.EndElection(ctx); err != nil {
		t.Fatalf("end election: %v", err)
	}
	if err := r.Register(ctx, 7, newFakeHandle(7)); err != nil {
		t.Fatalf("register 7 after election ends: %v", err)
	}
}

func TestRebuildRingWellFormed(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	handles := map[int32]*fakeHandle{}
	for _, uid := range []int32{11, 2, 7, 5} {
		h := newFakeHandle(uid)
		handles[uid] = h
		if err := r.Register(ctx, uid, h); err != nil {
			t.Fatalf("register %d: %v", uid, err)
		}
	}

	if err := r.RebuildRing(ctx); err != nil {
		t.Fatalf("rebuild ring: %v", err)
	}

	expectedSuccessor := map[int32]int32{2: 5, 5: 7, 7: 11, 11: 2}
	for uid, next := range expectedSuccessor {
		got := handles[uid].successor()
		if got.UID != next {
			t.Errorf("node %d: expected successor %d, got %d", uid, next, got.UID)
		}
	}
}

func TestRebuildRingSkipsUnreachable(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	h2 := newFakeHandle(2)
	h5 := newFakeHandle(5)
	h7 := newFakeHandle(7)
	h7.aliveFn = func() bool { return false }

	for _, h := range []*fakeHandle{h2, h5, h7} {
		if err := r.Register(ctx, h.uid, h); err != nil {
			t.Fatalf("register %d: %v", h.uid, err)
		}
	}

	if err := r.RebuildRing(ctx); err != nil {
		t.Fatalf("rebuild ring: %v", err)
	}

	if got := h2.successor().UID; got != 5 {
		t.Errorf("node 2: expected successor 5 (node 7 excluded), got %d", got)
	}
	if got := h5.successor().UID; got != 2 {
		t.Errorf("node 5: expected successor 2 (2-cycle), got %d", got)
	}
}

func TestRebuildRingInsufficientMembers(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	if err := r.Register(ctx, 1, newFakeHandle(1)); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.RebuildRing(ctx); err != ErrInsufficientMembers {
		t.Fatalf("expected ErrInsufficientMembers, got %v", err)
	}
}

func TestTryClaimRecoveryExactlyOne(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	const detectors = 8
	var claims int32
	var wg sync.WaitGroup
	wg.Add(detectors)
	for i := 0; i < detectors; i++ {
		go func() {
			defer wg.Done()
			ok, err := r.TryClaimRecovery(ctx)
			if err != nil {
				t.Errorf("TryClaimRecovery: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&claims, 1)
			}
		}()
	}
	wg.Wait()

	if claims != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", claims)
	}

	r.ReleaseRecovery(ctx)
	ok, err := r.TryClaimRecovery(ctx)
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if !ok {
		t.Fatal("expected claim to succeed again after release")
	}
}

func TestGetMembersInsertionOrder(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	for _, uid := range []int32{11, 2, 7, 5} {
		if err := r.Register(ctx, uid, newFakeHandle(uid)); err != nil {
			t.Fatalf("register %d: %v", uid, err)
		}
	}

	members, err := r.GetMembers(ctx)
	if err != nil {
		t.Fatalf("get members: %v", err)
	}
	want := []int32{11, 2, 7, 5}
	if len(members) != len(want) {
		t.Fatalf("expected %d members, got %d", len(want), len(members))
	}
	for i, uid := range want {
		if members[i] != uid {
			t.Errorf("position %d: expected %d, got %d", i, uid, members[i])
		}
	}
}

func TestBeginElectionDuplicateIsNoOp(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	if err := r.BeginElection(ctx, false); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.BeginElection(ctx, true); err != nil {
		t.Fatalf("duplicate begin should be a no-op, got error: %v", err)
	}
	if !r.IsElectionInProgress() {
		t.Fatal("expected election still in progress")
	}
}

func TestEndElectionIdempotent(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	if err := r.EndElection(ctx); err != nil {
		t.Fatalf("end election on fresh registrar: %v", err)
	}
	if err := r.EndElection(ctx); err != nil {
		t.Fatalf("second end election: %v", err)
	}
}

func TestDeregisterTriggersRebuild(t *testing.T) {
	r := NewRegistrar(testConfig())
	ctx := context.Background()

	h2 := newFakeHandle(2)
	h5 := newFakeHandle(5)
	h7 := newFakeHandle(7)
	for _, h := range []*fakeHandle{h2, h5, h7} {
		if err := r.Register(ctx, h.uid, h); err != nil {
			t.Fatalf("register %d: %v", h.uid, err)
		}
	}

	if err := r.Deregister(ctx, 5); err != nil {
		t.Fatalf("deregister: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h2.successor().UID == 7 && h7.successor().UID == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected 2-cycle after deregistering 5; got 2->%d 7->%d", h2.successor().UID, h7.successor().UID)
}
