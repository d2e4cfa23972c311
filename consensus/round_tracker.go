package consensus

import (
	"sync"

	"github.com/annchain/dagconsensus/types"
)

// RoundTracker records the highest round seen from every authority, both
// as received from the network and as accepted into the DAG.
type RoundTracker struct {
	mu              sync.RWMutex
	highestReceived []types.Round
	highestAccepted []types.Round
}

func NewRoundTracker(size int) *RoundTracker {
	return &RoundTracker{
		highestReceived: make([]types.Round, size),
		highestAccepted: make([]types.Round, size),
	}
}

func (r *RoundTracker) UpdateReceived(block *types.VerifiedBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if block.Round() > r.highestReceived[block.Author()] {
		r.highestReceived[block.Author()] = block.Round()
	}
}

func (r *RoundTracker) UpdateAccepted(blocks []*types.VerifiedBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range blocks {
		if b.Round() > r.highestAccepted[b.Author()] {
			r.highestAccepted[b.Author()] = b.Round()
		}
		if b.Round() > r.highestReceived[b.Author()] {
			r.highestReceived[b.Author()] = b.Round()
		}
	}
}

func (r *RoundTracker) HighestReceivedRounds() []types.Round {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Round(nil), r.highestReceived...)
}

func (r *RoundTracker) HighestAcceptedRounds() []types.Round {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Round(nil), r.highestAccepted...)
}

// Lag is how many rounds authority's accepted blocks trail the highest
// accepted round of any authority.
func (r *RoundTracker) Lag(authority types.AuthorityIndex) types.Round {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var highest types.Round
	for _, round := range r.highestAccepted {
		if round > highest {
			highest = round
		}
	}
	return highest - r.highestAccepted[authority]
}
