package consensus

import (
	"sort"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
)

// AncestorSelector picks the ancestors of a new proposal. Equivocating and
// stale authorities are left out unless their blocks are needed to reach a
// quorum at the previous round.
type AncestorSelector struct {
	context      *Context
	dagState     *DagState
	lastIncluded []types.BlockRef
	logger       *logrus.Entry
}

func NewAncestorSelector(context *Context, dagState *DagState) *AncestorSelector {
	s := &AncestorSelector{
		context:      context,
		dagState:     dagState,
		lastIncluded: make([]types.BlockRef, context.Committee.Size()),
		logger:       context.moduleLogger("ancestor"),
	}
	// ancestors of the last own block are already included
	own := dagState.LastBlockForAuthority(context.OwnIndex)
	for _, a := range own.Ancestors() {
		s.lastIncluded[a.Author] = a
	}
	return s
}

func (s *AncestorSelector) excluded(block *types.VerifiedBlock, quorumRound types.Round, equivocators map[types.AuthorityIndex]struct{}) bool {
	if _, ok := equivocators[block.Author()]; ok {
		return true
	}
	return block.Round()+types.Round(s.context.Parameters.AncestorStalenessRounds) < quorumRound
}

// Select returns the ancestors for a block at round, own previous block
// first, or nil when the previous round cannot reach a quorum.
func (s *AncestorSelector) Select(round types.Round, ownLast *types.VerifiedBlock) []*types.VerifiedBlock {
	c := s.context.Committee
	quorumRound := round - 1
	cached := s.dagState.GetLastCachedBlockPerAuthority(round)
	equivocators := make(map[types.AuthorityIndex]struct{})
	for _, a := range s.dagState.Equivocators() {
		equivocators[a] = struct{}{}
	}

	ancestors := []*types.VerifiedBlock{ownLast}
	stake := committee.NewStakeAggregator(committee.QuorumThreshold)
	if ownLast.Round() == quorumRound {
		stake.Add(ownLast.Author(), c)
	}
	var held []*types.VerifiedBlock
	for i, b := range cached {
		if types.AuthorityIndex(i) == s.context.OwnIndex || b == nil {
			continue
		}
		if b.Round() <= s.lastIncluded[i].Round && s.lastIncluded[i] != (types.BlockRef{}) {
			continue
		}
		if s.excluded(b, quorumRound, equivocators) {
			if b.Round() == quorumRound {
				held = append(held, b)
			}
			continue
		}
		ancestors = append(ancestors, b)
		if b.Round() == quorumRound {
			stake.Add(b.Author(), c)
		}
	}
	sort.Slice(held, func(i, j int) bool {
		si, sj := c.Stake(held[i].Author()), c.Stake(held[j].Author())
		if si != sj {
			return si > sj
		}
		return held[i].Author() < held[j].Author()
	})
	for _, b := range held {
		if stake.Reached(c) {
			break
		}
		ancestors = append(ancestors, b)
		stake.Add(b.Author(), c)
	}
	if !stake.Reached(c) {
		s.logger.WithFields(logrus.Fields{
			"round": round,
			"stake": stake.Stake(),
		}).Debug("not enough ancestors at the previous round")
		return nil
	}
	for _, b := range ancestors {
		s.lastIncluded[b.Author()] = b.Ref()
	}
	return ancestors
}
