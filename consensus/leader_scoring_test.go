package consensus

import (
	"testing"

	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
)

// committedSubDags commits the leaders of rounds 1 and 2 over a full DAG.
func committedSubDags(t *testing.T, strategy ScoringStrategy) (*ReputationScorer, []*types.CommittedSubDag) {
	ctx, keys := newTestContext(t, 4, 0)
	ctx.Parameters.ScoringStrategy = strategy
	ctx.Parameters.LeaderScoringWindow = 2
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	b.layers(1, 3)
	b.persist(dag)
	linearizer := NewLinearizer(ctx, dag, NewLeaderSchedule(ctx, nil))
	return NewReputationScorer(ctx), linearizer.HandleCommit([]*types.VerifiedBlock{b.at(1, 1), b.at(2, 2)})
}

func TestReputationScorer_Vote(t *testing.T) {
	scorer, subDags := committedSubDags(t, ScoringVote)
	scorer.AddSubDag(subDags[0])
	assert.Equal(t, []uint64{0, 0, 0, 0}, scorer.Scores())
	scorer.AddSubDag(subDags[1])
	// only the round 2 leader block references the committed round 1 leader
	assert.Equal(t, []uint64{0, 0, 1, 0}, scorer.Scores())
}

func TestReputationScorer_Inclusion(t *testing.T) {
	scorer, subDags := committedSubDags(t, ScoringInclusion)
	for _, s := range subDags {
		scorer.AddSubDag(s)
	}
	assert.Equal(t, []uint64{1, 1, 2, 1}, scorer.Scores())
}

func TestReputationScorer_Window(t *testing.T) {
	scorer, subDags := committedSubDags(t, ScoringInclusion)
	assert.Equal(t, uint32(2), scorer.CommitsUntilUpdate())
	scorer.AddSubDag(subDags[0])
	assert.Equal(t, uint32(1), scorer.CommitsUntilUpdate())
	scorer.AddSubDag(subDags[1])
	assert.Zero(t, scorer.CommitsUntilUpdate())

	assert.Equal(t, []uint64{1, 1, 2, 1}, scorer.TakeScores())
	assert.Equal(t, uint32(2), scorer.CommitsUntilUpdate())
	assert.Equal(t, []uint64{0, 0, 0, 0}, scorer.Scores())
}

func TestReputationScorer_VotesForPreviousWindowLeaders(t *testing.T) {
	scorer, subDags := committedSubDags(t, ScoringVote)
	scorer.AddSubDag(subDags[0])
	scorer.TakeScores()
	scorer.AddSubDag(subDags[1])
	assert.Equal(t, []uint64{0, 0, 0, 0}, scorer.Scores())
}
