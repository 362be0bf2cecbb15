// Package transport carries ring election traffic over the network: a
// net/rpc service pair for the Node and Registrar RPC surfaces from
// spec.md §6, plus a gorilla/mux HTTP health endpoint the failure detector
// probes. net/rpc is used in place of the retrieved pack's one gRPC
// precedent (jkk2000-distributed-dns) because that precedent depends on
// protoc-generated stubs this exercise cannot regenerate; see DESIGN.md.
package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"os"

	"ringvote/pkg/ring"
)

// NodeService exposes a *ring.Node's RPC surface over net/rpc. net/rpc
// requires exported methods of the exact form func(Args, *Reply) error, so
// context.Context is not part of the wire signature; handlers use
// context.Background() internally since a single RPC call has no
// meaningful deadline to propagate beyond the call itself.
type NodeService struct {
	node *ring.Node
}

// NewNodeService wraps node for RPC registration.
func NewNodeService(node *ring.Node) *NodeService {
	return &NodeService{node: node}
}

type ReceiveElectionArgs struct{ Msg ring.ElectionMessage }
type ReceiveElectionReply struct{}

func (s *NodeService) ReceiveElection(args ReceiveElectionArgs, reply *ReceiveElectionReply) error {
	return s.node.ReceiveElection(context.Background(), args.Msg)
}

type ReceiveLeaderArgs struct{ Msg ring.LeaderMessage }
type ReceiveLeaderReply struct{}

func (s *NodeService) ReceiveLeader(args ReceiveLeaderArgs, reply *ReceiveLeaderReply) error {
	return s.node.ReceiveLeader(context.Background(), args.Msg)
}

type SetSuccessorArgs struct{ Successor ring.SuccessorRef }
type SetSuccessorReply struct{}

func (s *NodeService) SetSuccessor(args SetSuccessorArgs, reply *SetSuccessorReply) error {
	return s.node.SetSuccessor(context.Background(), args.Successor)
}

type IsAliveArgs struct{}
type IsAliveReply struct{ Alive bool }

func (s *NodeService) IsAlive(args IsAliveArgs, reply *IsAliveReply) error {
	alive, err := s.node.IsAlive(context.Background())
	reply.Alive = alive
	return err
}

type DescribeArgs struct{}
type DescribeReply struct {
	UID     int32
	Address string
}

func (s *NodeService) Describe(args DescribeArgs, reply *DescribeReply) error {
	reply.UID = s.node.UID()
	reply.Address = s.node.Address()
	return nil
}

// RegistrarService exposes a *ring.Registrar's RPC surface over net/rpc.
// Register cannot carry a live ring.NodeHandle over the wire, so it takes
// the caller's UID and address and dials back a NodeClient, matching how a
// Registrar must behave in a genuinely distributed deployment.
type RegistrarService struct {
	registrar *ring.Registrar
	log       *log.Logger
}

// NewRegistrarService wraps registrar for RPC registration.
func NewRegistrarService(registrar *ring.Registrar) *RegistrarService {
	return &RegistrarService{registrar: registrar, log: log.New(os.Stderr, "registrar-rpc: ", log.LstdFlags)}
}

type RegisterArgs struct {
	UID     int32
	Address string
}
type RegisterReply struct{}

func (s *RegistrarService) Register(args RegisterArgs, reply *RegisterReply) error {
	handle, err := DialNode(context.Background(), args.Address)
	if err != nil {
		return fmt.Errorf("dial back registering node %d at %s: %w", args.UID, args.Address, err)
	}
	return s.registrar.Register(context.Background(), args.UID, handle)
}

type DeregisterArgs struct{ UID int32 }
type DeregisterReply struct{}

func (s *RegistrarService) Deregister(args DeregisterArgs, reply *DeregisterReply) error {
	return s.registrar.Deregister(context.Background(), args.UID)
}

type BeginElectionArgs struct{ Recovery bool }
type BeginElectionReply struct{}

func (s *RegistrarService) BeginElection(args BeginElectionArgs, reply *BeginElectionReply) error {
	return s.registrar.BeginElection(context.Background(), args.Recovery)
}

type EndElectionArgs struct{}
type EndElectionReply struct{}

func (s *RegistrarService) EndElection(args EndElectionArgs, reply *EndElectionReply) error {
	return s.registrar.EndElection(context.Background())
}

type RebuildRingArgs struct{}
type RebuildRingReply struct{}

func (s *RegistrarService) RebuildRing(args RebuildRingArgs, reply *RebuildRingReply) error {
	return s.registrar.RebuildRing(context.Background())
}

type TryClaimRecoveryArgs struct{}
type TryClaimRecoveryReply struct{ Claimed bool }

func (s *RegistrarService) TryClaimRecovery(args TryClaimRecoveryArgs, reply *TryClaimRecoveryReply) error {
	claimed, err := s.registrar.TryClaimRecovery(context.Background())
	reply.Claimed = claimed
	return err
}

type ReleaseRecoveryArgs struct{}
type ReleaseRecoveryReply struct{}

func (s *RegistrarService) ReleaseRecovery(args ReleaseRecoveryArgs, reply *ReleaseRecoveryReply) error {
	s.registrar.ReleaseRecovery(context.Background())
	return nil
}

type LookupAddressArgs struct{ UID int32 }
type LookupAddressReply struct{ Address string }

func (s *RegistrarService) LookupAddress(args LookupAddressArgs, reply *LookupAddressReply) error {
	addr, err := s.registrar.LookupAddress(context.Background(), args.UID)
	reply.Address = addr
	return err
}

type GetMembersArgs struct{}
type GetMembersReply struct{ Members []int32 }

func (s *RegistrarService) GetMembers(args GetMembersArgs, reply *GetMembersReply) error {
	members, err := s.registrar.GetMembers(context.Background())
	reply.Members = members
	return err
}

// ServeNode registers node's RPC service and accepts connections on addr
// until the listener is closed. The returned listener lets the caller
// shut the server down.
func ServeNode(node *ring.Node, addr string) (net.Listener, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("Node", NewNodeService(node)); err != nil {
		return nil, fmt.Errorf("register node service: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	go server.Accept(ln)
	return ln, nil
}

// ServeRegistrar registers registrar's RPC service and accepts connections
// on addr until the listener is closed.
func ServeRegistrar(registrar *ring.Registrar, addr string) (net.Listener, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("Registrar", NewRegistrarService(registrar)); err != nil {
		return nil, fmt.Errorf("register registrar service: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	go server.Accept(ln)
	return ln, nil
}
