// Package ring implements the coordinated Chang–Roberts leader election
// described for this deployment: a central Registrar that tracks
// membership and assembles a unidirectional ring, and Nodes that run the
// election/leader-announce protocol over that ring and detect failures of
// the elected leader.
package ring

import (
	"errors"
	"fmt"
)

// ElectionState is a Node's position in the election state machine.
type ElectionState string

const (
	StateIdle            ElectionState = "IDLE"
	StateInProgress      ElectionState = "ELECTION_IN_PROGRESS"
	StateLeaderAnnounced ElectionState = "LEADER_ANNOUNCED"
	StateDead            ElectionState = "DEAD"
)

// noLeader is the sentinel value of leaderUID when no leader has been
// accepted yet. UIDs are positive by contract (spec.md §3), so 0 is safe.
const noLeader int32 = 0

// Sentinel errors for the catalog in spec.md §7.
var (
	ErrDuplicateUID        = errors.New("ring: duplicate uid")
	ErrElectionActive      = errors.New("ring: election active")
	ErrNoSuccessor         = errors.New("ring: no successor")
	ErrTransportFailure    = errors.New("ring: transport failure")
	ErrElectionTimeout     = errors.New("ring: election timeout")
	ErrElectionFailed      = errors.New("ring: election failed")
	ErrStaleMessage        = errors.New("ring: stale message")
	ErrInsufficientMembers = errors.New("ring: insufficient members")
	ErrNotRunning          = errors.New("ring: not running")
	ErrAlreadyRunning      = errors.New("ring: already running")
)

// SuccessorRef is a non-owning handle to a node's successor: a network
// address plus the UID it was last known to hold, tagged with the
// topology epoch it was resolved under (spec.md §9, "topology epochs").
type SuccessorRef struct {
	UID     int32
	Address string
	Epoch   uint64
}

func (s SuccessorRef) String() string {
	return fmt.Sprintf("Node%d@%s(epoch=%d)", s.UID, s.Address, s.Epoch)
}

// IsZero reports whether the ref is unset.
func (s SuccessorRef) IsZero() bool {
	return s.UID == 0 && s.Address == ""
}
