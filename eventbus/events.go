package eventbus

import (
	"github.com/annchain/dagconsensus/types"
)

const (
	NewBlockEventType EventType = iota + 1
	NewRoundEventType
	CommitEventType
)

// NewBlockEvent carries a block proposed by this authority, ready to broadcast.
type NewBlockEvent struct {
	Block *types.VerifiedBlock
}

func (e *NewBlockEvent) GetEventType() EventType { return NewBlockEventType }

// NewRoundEvent is raised when the threshold clock advances.
type NewRoundEvent struct {
	Round types.Round
}

func (e *NewRoundEvent) GetEventType() EventType { return NewRoundEventType }

// CommitEvent is raised once a sub dag has been persisted.
type CommitEvent struct {
	SubDag *types.CommittedSubDag
}

func (e *CommitEvent) GetEventType() EventType { return CommitEventType }
