package transport

import (
	"context"
	"fmt"
	"net/rpc"
	"time"

	"ringvote/pkg/naming"
	"ringvote/pkg/ring"
)

// dialRetries and dialRetryDelay bound how long a client waits for a peer
// that is mid-startup or between ring rebuilds before giving up, separate
// from the application-level ForwardRetries/RetryDelay a Node applies to
// message forwarding.
const (
	dialRetries    = 5
	dialRetryDelay = 200 * time.Millisecond
)

func dialWithRetry(address string) (*rpc.Client, error) {
	var lastErr error
	for attempt := 1; attempt <= dialRetries; attempt++ {
		client, err := rpc.Dial("tcp", address)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if attempt < dialRetries {
			time.Sleep(dialRetryDelay)
		}
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", address, dialRetries, lastErr)
}

// NodeClient implements ring.NodeHandle over net/rpc, for a Registrar or a
// predecessor Node talking to a remote peer.
type NodeClient struct {
	address string
	uid     int32
	client  *rpc.Client
}

// DialNode connects to a Node's RPC service and fetches its identity.
func DialNode(ctx context.Context, address string) (*NodeClient, error) {
	client, err := dialWithRetry(address)
	if err != nil {
		return nil, err
	}
	var reply DescribeReply
	if err := client.Call("Node.Describe", DescribeArgs{}, &reply); err != nil {
		client.Close()
		return nil, fmt.Errorf("describe %s: %w", address, err)
	}
	return &NodeClient{address: address, uid: reply.UID, client: client}, nil
}

func (c *NodeClient) UID() int32      { return c.uid }
func (c *NodeClient) Address() string { return c.address }

func (c *NodeClient) ReceiveElection(ctx context.Context, msg ring.ElectionMessage) error {
	var reply ReceiveElectionReply
	return c.client.Call("Node.ReceiveElection", ReceiveElectionArgs{Msg: msg}, &reply)
}

func (c *NodeClient) ReceiveLeader(ctx context.Context, msg ring.LeaderMessage) error {
	var reply ReceiveLeaderReply
	return c.client.Call("Node.ReceiveLeader", ReceiveLeaderArgs{Msg: msg}, &reply)
}

func (c *NodeClient) SetSuccessor(ctx context.Context, succ ring.SuccessorRef) error {
	var reply SetSuccessorReply
	return c.client.Call("Node.SetSuccessor", SetSuccessorArgs{Successor: succ}, &reply)
}

func (c *NodeClient) IsAlive(ctx context.Context) (bool, error) {
	var reply IsAliveReply
	err := c.client.Call("Node.IsAlive", IsAliveArgs{}, &reply)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", c.address, err)
	}
	return reply.Alive, nil
}

// Close releases the underlying RPC connection.
func (c *NodeClient) Close() error { return c.client.Close() }

// Dialer is a ring.Dialer backed by NodeClient, resolving a successor
// reference's address directly.
func Dialer(ctx context.Context, ref ring.SuccessorRef) (ring.NodeHandle, error) {
	return DialNode(ctx, ref.Address)
}

// DialerThroughRegistry builds a ring.Dialer that resolves a successor's
// address through a pkg/naming.CachedRegistry instead of trusting
// ref.Address directly, so a forward still lands correctly if the
// registry has a fresher binding than the SuccessorRef the node was last
// handed (e.g. the successor rebound to a new port after a restart).
func DialerThroughRegistry(registry *naming.CachedRegistry) ring.Dialer {
	return func(ctx context.Context, ref ring.SuccessorRef) (ring.NodeHandle, error) {
		addr, err := registry.Lookup(ref.UID)
		if err != nil {
			addr = ref.Address
		}
		return DialNode(ctx, addr)
	}
}

// RegistrarClient implements ring.RegistrarClient over net/rpc, for a Node
// talking to a (possibly remote) Registrar.
type RegistrarClient struct {
	address string
	client  *rpc.Client
}

// DialRegistrar connects to a Registrar's RPC service.
func DialRegistrar(address string) (*RegistrarClient, error) {
	client, err := dialWithRetry(address)
	if err != nil {
		return nil, err
	}
	return &RegistrarClient{address: address, client: client}, nil
}

func (c *RegistrarClient) Register(ctx context.Context, uid int32, handle ring.NodeHandle) error {
	var reply RegisterReply
	return c.client.Call("Registrar.Register", RegisterArgs{UID: uid, Address: handle.Address()}, &reply)
}

func (c *RegistrarClient) Deregister(ctx context.Context, uid int32) error {
	var reply DeregisterReply
	return c.client.Call("Registrar.Deregister", DeregisterArgs{UID: uid}, &reply)
}

func (c *RegistrarClient) BeginElection(ctx context.Context, recovery bool) error {
	var reply BeginElectionReply
	return c.client.Call("Registrar.BeginElection", BeginElectionArgs{Recovery: recovery}, &reply)
}

func (c *RegistrarClient) EndElection(ctx context.Context) error {
	var reply EndElectionReply
	return c.client.Call("Registrar.EndElection", EndElectionArgs{}, &reply)
}

func (c *RegistrarClient) RebuildRing(ctx context.Context) error {
	var reply RebuildRingReply
	return c.client.Call("Registrar.RebuildRing", RebuildRingArgs{}, &reply)
}

func (c *RegistrarClient) TryClaimRecovery(ctx context.Context) (bool, error) {
	var reply TryClaimRecoveryReply
	err := c.client.Call("Registrar.TryClaimRecovery", TryClaimRecoveryArgs{}, &reply)
	return reply.Claimed, err
}

func (c *RegistrarClient) ReleaseRecovery(ctx context.Context) {
	var reply ReleaseRecoveryReply
	_ = c.client.Call("Registrar.ReleaseRecovery", ReleaseRecoveryArgs{}, &reply)
}

func (c *RegistrarClient) LookupAddress(ctx context.Context, uid int32) (string, error) {
	var reply LookupAddressReply
	err := c.client.Call("Registrar.LookupAddress", LookupAddressArgs{UID: uid}, &reply)
	return reply.Address, err
}

func (c *RegistrarClient) GetMembers(ctx context.Context) ([]int32, error) {
	var reply GetMembersReply
	err := c.client.Call("Registrar.GetMembers", GetMembersArgs{}, &reply)
	return reply.Members, err
}

// Close releases the underlying RPC connection.
func (c *RegistrarClient) Close() error { return c.client.Close() }
