package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"ringvote/pkg/config"
	"ringvote/pkg/ring"
)

// freeAddr reserves an ephemeral port by binding and immediately closing,
// so a *ring.Node can be constructed with its own address before its RPC
// listener exists.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestRPCRegistrationAndElection(t *testing.T) {
	cfg := config.Default()
	cfg.NetworkDelayMs = 1
	cfg.RetryDelayMs = 1
	cfg.ElectionTimeoutMs = 5000

	registrar := ring.NewRegistrar(cfg)
	registrarLn, err := ServeRegistrar(registrar, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("serve registrar: %v", err)
	}
	defer registrarLn.Close()
	registrarAddr := registrarLn.Addr().String()

	registrarClient, err := DialRegistrar(registrarAddr)
	if err != nil {
		t.Fatalf("dial registrar: %v", err)
	}
	defer registrarClient.Close()

	addr2 := freeAddr(t)
	addr5 := freeAddr(t)

	node2 := ring.NewNode(2, addr2, cfg, registrarClient, Dialer)
	node5 := ring.NewNode(5, addr5, cfg, registrarClient, Dialer)

	ln2, err := ServeNode(node2, addr2)
	if err != nil {
		t.Fatalf("serve node 2: %v", err)
	}
	defer ln2.Close()
	ln5, err := ServeNode(node5, addr5)
	if err != nil {
		t.Fatalf("serve node 5: %v", err)
	}
	defer ln5.Close()

	ctx := context.Background()
	if err := registrar.Register(ctx, 2, node2); err != nil {
		t.Fatalf("register node 2: %v", err)
	}
	if err := registrar.Register(ctx, 5, node5); err != nil {
		t.Fatalf("register node 5: %v", err)
	}

	if err := node2.InitiateElection(ctx); err != nil {
		t.Fatalf("initiate election: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		return node2.LeaderUID() == 5 && node5.LeaderUID() == 5
	})
}
