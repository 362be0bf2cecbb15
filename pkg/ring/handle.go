package ring

import "context"

// NodeHandle is the remote-callable surface of a Node, as seen by its
// predecessor (for forwarding) and by the Registrar (for liveness probing
// and successor assignment during RebuildRing). In a networked deployment
// it is implemented by pkg/transport's RPC client; tests implement it
// directly over an in-process *Node.
type NodeHandle interface {
	UID() int32
	Address() string
	ReceiveElection(ctx context.Context, msg ElectionMessage) error
	ReceiveLeader(ctx context.Context, msg LeaderMessage) error
	SetSuccessor(ctx context.Context, succ SuccessorRef) error
	IsAlive(ctx context.Context) (bool, error)
}

// RegistrarClient is the surface of the Registrar as seen by a Node. In a
// networked deployment it is implemented by pkg/transport's RPC client;
// tests implement it directly over an in-process *Registrar.
type RegistrarClient interface {
	Register(ctx context.Context, uid int32, handle NodeHandle) error
	BeginElection(ctx context.Context, recovery bool) error
	EndElection(ctx context.Context) error
	RebuildRing(ctx context.Context) error
	TryClaimRecovery(ctx context.Context) (bool, error)
	ReleaseRecovery(ctx context.Context)
	GetMembers(ctx context.Context) ([]int32, error)
}
