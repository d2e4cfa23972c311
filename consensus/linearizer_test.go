package consensus

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refsOf(blocks []*types.VerifiedBlock) []types.BlockRef {
	refs := make([]types.BlockRef, len(blocks))
	for i, b := range blocks {
		refs[i] = b.Ref()
	}
	return refs
}

func TestLinearizer_HandleCommit(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	b.layers(1, 3)
	b.persist(dag)
	linearizer := NewLinearizer(ctx, dag, NewLeaderSchedule(ctx, nil))

	first := linearizer.HandleCommit([]*types.VerifiedBlock{b.at(1, 1)})
	require.Len(t, first, 1)
	assert.Equal(t, []types.BlockRef{b.at(1, 1).Ref()}, refsOf(first[0].Blocks))
	assert.Equal(t, types.CommitIndex(1), first[0].CommitRef.Index)
	assert.Equal(t, uint64(100), first[0].TimestampMs)
	assert.Equal(t, []uint64{0, 0, 0, 0}, first[0].ReputationScores)

	second := linearizer.HandleCommit([]*types.VerifiedBlock{b.at(2, 2)})
	require.Len(t, second, 1)
	expected := []types.BlockRef{b.at(1, 0).Ref(), b.at(1, 2).Ref(), b.at(1, 3).Ref(), b.at(2, 2).Ref()}
	assert.Equal(t, expected, refsOf(second[0].Blocks))
	assert.Equal(t, types.CommitIndex(2), second[0].CommitRef.Index)
	assert.Equal(t, b.at(2, 2).Ref(), second[0].Leader)
	assert.Equal(t, uint64(200), second[0].TimestampMs)
	assert.Equal(t, second[0].CommitRef.Digest, dag.LastCommitDigest())

	for _, r := range expected {
		assert.True(t, dag.IsCommitted(r))
	}
	assert.False(t, dag.IsCommitted(b.at(2, 0).Ref()))
}

func TestLinearizer_TimestampNeverDecreases(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	b.layers(1, 2)
	// a late leader carrying an older timestamp than the previous commit
	signed, err := types.SignBlock(types.Block{
		Epoch:       ctx.Epoch(),
		Round:       3,
		Author:      3,
		TimestampMs: 50,
		Ancestors:   b.defaultAncestors(3, 3, nil),
	}, ctx.Signer, keys[3])
	require.NoError(t, err)
	late, err := types.NewVerifiedBlock(signed)
	require.NoError(t, err)
	b.persist(dag)
	dag.AcceptBlock(late)

	linearizer := NewLinearizer(ctx, dag, NewLeaderSchedule(ctx, nil))
	subDags := linearizer.HandleCommit([]*types.VerifiedBlock{b.at(2, 2), late})
	require.Len(t, subDags, 2)
	assert.Equal(t, uint64(200), subDags[0].TimestampMs)
	assert.Equal(t, uint64(200), subDags[1].TimestampMs)
	// everything reachable from the late leader is committed exactly once
	total := len(subDags[0].Blocks) + len(subDags[1].Blocks)
	assert.Equal(t, 9, total)
}

func TestLinearizer_CommitTwicePanics(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	b.layers(1, 1)
	b.persist(dag)
	linearizer := NewLinearizer(ctx, dag, NewLeaderSchedule(ctx, nil))

	linearizer.HandleCommit([]*types.VerifiedBlock{b.at(1, 1)})
	assert.Panics(t, func() { linearizer.HandleCommit([]*types.VerifiedBlock{b.at(1, 1)}) })
}

func assertSameSubDag(t *testing.T, expected, actual *types.CommittedSubDag) {
	t.Helper()
	assert.Equal(t, expected.Leader, actual.Leader)
	assert.Equal(t, expected.CommitRef, actual.CommitRef)
	assert.Equal(t, expected.TimestampMs, actual.TimestampMs)
	assert.Equal(t, expected.ReputationScores, actual.ReputationScores)
	require.Equal(t, refsOf(expected.Blocks), refsOf(actual.Blocks))
	for i := range expected.Blocks {
		assert.Equal(t, expected.Blocks[i].Serialized(), actual.Blocks[i].Serialized())
	}
}

func TestLinearizer_LinearizeStoredCommit(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	store := newTestStore(t)
	dag := NewDagState(ctx, store)
	b := newDagBuilder(t, ctx, keys)
	b.layers(1, 4)
	b.persist(dag)
	linearizer := NewLinearizer(ctx, dag, NewLeaderSchedule(ctx, nil))

	subDags := linearizer.HandleCommit([]*types.VerifiedBlock{b.at(1, 1), b.at(3, 3)})
	require.Len(t, subDags, 2)
	dag.Flush()
	commits, err := store.ScanCommits(1, 2)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	for i, c := range commits {
		first, err := linearizer.LinearizeSubDag(c)
		require.NoError(t, err)
		assertSameSubDag(t, subDags[i], first)
		second, err := linearizer.LinearizeSubDag(c)
		require.NoError(t, err)
		assertSameSubDag(t, first, second)
	}

	// a fresh dag state over the same store rebuilds the same sub dags
	restored := NewDagState(ctx, store)
	relinearizer := NewLinearizer(ctx, restored, NewLeaderSchedule(ctx, nil))
	for i, c := range commits {
		again, err := relinearizer.LinearizeSubDag(c)
		require.NoError(t, err)
		assertSameSubDag(t, subDags[i], again)
	}
}

func TestLinearizer_LinearizeInconsistentCommit(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	dag := newTestDagState(t, ctx)
	b := newDagBuilder(t, ctx, keys)
	b.layers(1, 3)
	b.persist(dag)
	linearizer := NewLinearizer(ctx, dag, NewLeaderSchedule(ctx, nil))

	cases := map[string]*types.Commit{
		"leader outside blocks": {
			Index:  1,
			Leader: b.at(2, 2).Ref(),
			Blocks: []types.BlockRef{b.at(1, 0).Ref()},
		},
		"block not below leader": {
			Index:  1,
			Leader: b.at(2, 2).Ref(),
			Blocks: []types.BlockRef{b.at(1, 0).Ref(), b.at(2, 0).Ref(), b.at(2, 2).Ref()},
		},
	}
	for name, commit := range cases {
		trusted, err := types.NewTrustedCommit(commit)
		require.NoError(t, err)
		_, err = linearizer.LinearizeSubDag(trusted)
		assert.True(t, errors.Is(err, ErrInconsistentCommit), name)
	}
}

// decideAndLinearize feeds blocks one at a time in the given order, then
// commits every decided leader.
func decideAndLinearize(t *testing.T, ctx *Context, blocks []*types.VerifiedBlock) []*types.CommittedSubDag {
	t.Helper()
	dag := newTestDagState(t, ctx)
	manager := NewBlockManager(ctx, dag)
	for _, block := range blocks {
		manager.TryAcceptBlocks([]*types.VerifiedBlock{block})
	}
	require.Zero(t, manager.SuspendedBlocksCount())

	var leaders []*types.VerifiedBlock
	for _, status := range newTestCommitter(ctx, dag).TryDecide(genesisSlot()) {
		if status.Kind == LeaderCommit {
			leaders = append(leaders, status.Block)
		}
	}
	require.NotEmpty(t, leaders)
	return NewLinearizer(ctx, dag, NewLeaderSchedule(ctx, nil)).HandleCommit(leaders)
}

func TestLinearizer_DeterministicAcrossDeliveryOrder(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	b := newDagBuilder(t, ctx, keys)
	b.layers(1, 5)
	// authority 2 misses round 6, which skips its leader slot
	b.layer(6, []types.AuthorityIndex{0, 1, 3}, nil)
	b.layers(7, 12)
	all := b.all()

	shuffled := func(seed int64) []*types.VerifiedBlock {
		blocks := append([]*types.VerifiedBlock(nil), all...)
		rand.New(rand.NewSource(seed)).Shuffle(len(blocks), func(i, j int) { blocks[i], blocks[j] = blocks[j], blocks[i] })
		// one block arrives last, after everything that depends on it
		withheld := b.at(3, 1)
		for i, block := range blocks {
			if block == withheld {
				blocks = append(blocks[:i], blocks[i+1:]...)
				break
			}
		}
		return append(blocks, withheld)
	}

	expected := decideAndLinearize(t, ctx, all)
	for _, seed := range []int64{1, 7, 42} {
		actual := decideAndLinearize(t, ctx, shuffled(seed))
		require.Len(t, actual, len(expected), "seed %d", seed)
		for i := range expected {
			assertSameSubDag(t, expected[i], actual[i])
		}
	}
}
