package consensus

import (
	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/types"
)

// ThresholdClock tracks the round this authority may propose in. It moves
// to R+1 once blocks of round R from a stake quorum have been accepted and
// never moves backwards.
type ThresholdClock struct {
	committee  *committee.Committee
	aggregator *committee.StakeAggregator
	round      types.Round
}

func NewThresholdClock(c *committee.Committee, round types.Round) *ThresholdClock {
	return &ThresholdClock{
		committee:  c,
		aggregator: committee.NewStakeAggregator(committee.QuorumThreshold),
		round:      round,
	}
}

// AddBlock observes the stake of an accepted block and reports whether the
// clock advanced.
func (t *ThresholdClock) AddBlock(ref types.BlockRef) bool {
	switch {
	case ref.Round < t.round:
		return false
	case ref.Round == t.round:
		if t.aggregator.Add(ref.Author, t.committee) {
			t.aggregator.Clear()
			t.round = ref.Round + 1
			return true
		}
		return false
	default:
		// Blocks of a higher round imply a quorum for the round before it.
		t.aggregator.Clear()
		if t.aggregator.Add(ref.Author, t.committee) {
			t.aggregator.Clear()
			t.round = ref.Round + 1
		} else {
			t.round = ref.Round
		}
		return true
	}
}

// AddBlocks returns the new round when the clock advanced.
func (t *ThresholdClock) AddBlocks(refs []types.BlockRef) (types.Round, bool) {
	before := t.round
	for _, ref := range refs {
		t.AddBlock(ref)
	}
	return t.round, t.round > before
}

func (t *ThresholdClock) Round() types.Round {
	return t.round
}
