package committee

import (
	"github.com/annchain/dagconsensus/types"
)

type ThresholdKind int

const (
	QuorumThreshold ThresholdKind = iota
	ValidityThreshold
)

// StakeAggregator accumulates the stake of distinct authorities voting on one
// question. A second vote from the same authority is ignored.
type StakeAggregator struct {
	kind  ThresholdKind
	votes map[types.AuthorityIndex]struct{}
	stake Stake
}

func NewStakeAggregator(kind ThresholdKind) *StakeAggregator {
	return &StakeAggregator{
		kind:  kind,
		votes: make(map[types.AuthorityIndex]struct{}),
	}
}

// Add records the vote and reports true only on the call that makes the
// accumulated stake cross the threshold.
func (s *StakeAggregator) Add(vote types.AuthorityIndex, c *Committee) bool {
	if _, ok := s.votes[vote]; ok {
		return false
	}
	before := s.reached(c)
	s.votes[vote] = struct{}{}
	s.stake += c.Stake(vote)
	return !before && s.reached(c)
}

// Reached reports whether the threshold has been met so far.
func (s *StakeAggregator) Reached(c *Committee) bool {
	return s.reached(c)
}

func (s *StakeAggregator) reached(c *Committee) bool {
	switch s.kind {
	case ValidityThreshold:
		return c.ReachedValidity(s.stake)
	default:
		return c.ReachedQuorum(s.stake)
	}
}

func (s *StakeAggregator) Stake() Stake { return s.stake }

func (s *StakeAggregator) Contains(vote types.AuthorityIndex) bool {
	_, ok := s.votes[vote]
	return ok
}

func (s *StakeAggregator) Voters() []types.AuthorityIndex {
	voters := make([]types.AuthorityIndex, 0, len(s.votes))
	for v := range s.votes {
		voters = append(voters, v)
	}
	return voters
}

func (s *StakeAggregator) Clear() {
	s.votes = make(map[types.AuthorityIndex]struct{})
	s.stake = 0
}
