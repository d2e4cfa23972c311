package consensus

import (
	"testing"

	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommitter(ctx *Context, dag *DagState) *UniversalCommitter {
	return NewUniversalCommitter(ctx, NewLeaderSchedule(ctx, nil), dag)
}

func genesisSlot() types.Slot {
	return types.NewSlot(types.GenesisRound, 0)
}

func TestUniversalCommitter_DirectCommit(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	committer := newTestCommitter(ctx, dag)

	b.layers(1, 2)
	b.persist(dag)
	assert.Empty(t, committer.TryDecide(genesisSlot()), "no decision round yet")

	b.layers(3, 3)
	b.persist(dag)
	decided := committer.TryDecide(genesisSlot())
	require.Len(t, decided, 1)
	assert.Equal(t, LeaderCommit, decided[0].Kind)
	assert.True(t, decided[0].Direct)
	assert.Equal(t, b.at(1, 1).Ref(), decided[0].Block.Ref())

	// nothing new after the decided slot
	assert.Empty(t, committer.TryDecide(decided[0].Slot))
}

func TestUniversalCommitter_SkipCrashedLeader(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	committer := newTestCommitter(ctx, dag)

	// authority 1 leads round 5 and stops after round 4
	crashed := types.AuthorityIndex(1)
	require.Equal(t, crashed, committer.GetLeaders(5)[0].Authority)
	b.layers(1, 4)
	alive := []types.AuthorityIndex{0, 2, 3}
	for r := types.Round(5); r <= 9; r++ {
		b.layer(r, alive, nil)
	}
	b.persist(dag)

	decided := committer.TryDecide(genesisSlot())
	require.Len(t, decided, 7)
	for i, status := range decided {
		round := types.Round(i + 1)
		assert.Equal(t, round, status.Round())
		if round == 5 {
			assert.Equal(t, LeaderSkip, status.Kind)
			assert.True(t, status.Direct)
			assert.Equal(t, crashed, status.Slot.Authority)
			continue
		}
		assert.Equal(t, LeaderCommit, status.Kind, "round %d", round)
		assert.Equal(t, b.at(round, types.AuthorityIndex(round%4)).Ref(), status.Block.Ref())
	}
}

func TestUniversalCommitter_Equivocation(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	committer := newTestCommitter(ctx, dag)

	b.layer(1, b.authors(), nil)
	leader := b.at(1, 1)
	twin := b.block(1, 1, leader.Ancestors(), 7)
	require.NotEqual(t, leader.Ref(), twin.Ref())

	var round2 []*types.VerifiedBlock
	for _, a := range []types.AuthorityIndex{0, 1, 2} {
		round2 = append(round2, b.block(2, a, b.defaultAncestors(2, a, nil), 0))
	}
	round2 = append(round2, b.block(2, 3, []types.BlockRef{
		b.at(1, 3).Ref(), twin.Ref(), b.at(1, 0).Ref(), b.at(1, 2).Ref(),
	}, 0))
	b.commitLayer(round2)
	b.layers(3, 3)
	b.persist(dag)

	assert.True(t, dag.IsEquivocator(1))
	assert.Len(t, dag.EquivocationEvidence()[types.NewSlot(1, 1)], 2)

	decided := committer.TryDecide(genesisSlot())
	require.Len(t, decided, 1)
	assert.Equal(t, LeaderCommit, decided[0].Kind)
	assert.Equal(t, leader.Ref(), decided[0].Block.Ref())
}

func TestUniversalCommitter_IndirectCommit(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	committer := newTestCommitter(ctx, dag)

	b.layers(1, 1)
	// authority 3 does not vote for the round 1 leader
	var round2 []*types.VerifiedBlock
	for _, a := range []types.AuthorityIndex{0, 1, 2} {
		round2 = append(round2, b.block(2, a, b.defaultAncestors(2, a, nil), 0))
	}
	round2 = append(round2, b.block(2, 3, b.defaultAncestors(2, 3, map[types.AuthorityIndex]bool{1: true}), 0))
	b.commitLayer(round2)

	// only authority 0 certifies the round 1 leader
	excluded := map[types.AuthorityIndex]types.AuthorityIndex{0: 3, 1: 2, 2: 1, 3: 0}
	var round3 []*types.VerifiedBlock
	for _, a := range b.authors() {
		exclude := map[types.AuthorityIndex]bool{excluded[a]: true}
		round3 = append(round3, b.block(3, a, b.defaultAncestors(3, a, exclude), 0))
	}
	b.commitLayer(round3)
	b.persist(dag)

	assert.Empty(t, committer.TryDecide(genesisSlot()), "round 1 leader is undecided")

	b.layers(4, 6)
	b.persist(dag)
	decided := committer.TryDecide(genesisSlot())
	require.Len(t, decided, 4)
	assert.Equal(t, LeaderCommit, decided[0].Kind)
	assert.False(t, decided[0].Direct)
	assert.Equal(t, b.at(1, 1).Ref(), decided[0].Block.Ref())
	for i, status := range decided[1:] {
		round := types.Round(i + 2)
		assert.Equal(t, LeaderCommit, status.Kind, "round %d", round)
		assert.True(t, status.Direct, "round %d", round)
		assert.Equal(t, round, status.Round())
	}
}

func TestUniversalCommitter_MultipleLeaders(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	ctx.Parameters.NumLeadersPerRound = 2
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	committer := newTestCommitter(ctx, dag)

	assert.Equal(t, []types.Slot{types.NewSlot(1, 1), types.NewSlot(1, 2)}, committer.GetLeaders(1))

	b.layers(1, 3)
	b.persist(dag)
	decided := committer.TryDecide(genesisSlot())
	require.Len(t, decided, 2)
	assert.Equal(t, b.at(1, 1).Ref(), decided[0].Block.Ref())
	assert.Equal(t, b.at(1, 2).Ref(), decided[1].Block.Ref())
}

func TestUniversalCommitter_WithoutPipeline(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	ctx.Parameters.Pipeline = false
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	committer := newTestCommitter(ctx, dag)

	assert.Empty(t, committer.GetLeaders(1))
	assert.Len(t, committer.GetLeaders(3), 1)

	b.layers(1, 5)
	b.persist(dag)
	decided := committer.TryDecide(genesisSlot())
	require.Len(t, decided, 1)
	assert.Equal(t, types.Round(3), decided[0].Round())
}
