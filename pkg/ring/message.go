package ring

// ElectionMessage carries a candidate UID around the ring, along with the
// UID that originated this token and the topology epoch it was sent under.
type ElectionMessage struct {
	CandidateUID int32
	OriginUID    int32
	Epoch        uint64
}

// LeaderMessage announces the winner of a completed election, traversing
// the ring exactly once.
type LeaderMessage struct {
	LeaderUID int32
	OriginUID int32
	Epoch     uint64
}
