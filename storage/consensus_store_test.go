package storage

import (
	"testing"

	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlock(t *testing.T, round types.Round, author types.AuthorityIndex, ts uint64) *types.VerifiedBlock {
	vb, err := types.NewVerifiedBlock(&types.SignedBlock{
		Block: types.Block{
			Round:        round,
			Author:       author,
			TimestampMs:  ts,
			Transactions: []types.Transaction{[]byte("payload payload payload payload")},
		},
	})
	require.NoError(t, err)
	return vb
}

func testCommit(t *testing.T, index types.CommitIndex, leader types.BlockRef) *types.TrustedCommit {
	c, err := types.NewTrustedCommit(&types.Commit{
		Index:       index,
		TimestampMs: uint64(index) * 10,
		Leader:      leader,
		Blocks:      []types.BlockRef{leader},
	})
	require.NoError(t, err)
	return c
}

func TestConsensusStore_Blocks(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	b1 := testBlock(t, 1, 0, 1)
	b2 := testBlock(t, 2, 0, 2)
	b3 := testBlock(t, 3, 0, 3)
	other := testBlock(t, 2, 1, 2)
	require.NoError(t, store.Write(consensus_interface.WriteBatch{
		Blocks: []*types.VerifiedBlock{b1, b2, b3, other},
	}))

	missing := testBlock(t, 9, 3, 9)
	blocks, err := store.ReadBlocks([]types.BlockRef{b2.Ref(), missing.Ref(), other.Ref()})
	require.NoError(t, err)
	assert.Equal(t, b2.Ref(), blocks[0].Ref())
	assert.Nil(t, blocks[1])
	assert.Equal(t, other.Ref(), blocks[2].Ref())

	exist, err := store.ContainsBlocks([]types.BlockRef{b1.Ref(), missing.Ref()})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, exist)

	scanned, err := store.ScanBlocksByAuthor(0, 2)
	require.NoError(t, err)
	require.Len(t, scanned, 2)
	assert.Equal(t, b2.Ref(), scanned[0].Ref())
	assert.Equal(t, b3.Ref(), scanned[1].Ref())

	last, ok, err := store.ReadLastBlockRefByAuthor(0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, b3.Ref(), last)

	_, ok, err = store.ReadLastBlockRefByAuthor(2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsensusStore_CommitsAndSchedule(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	last, err := store.ReadLastCommit()
	require.NoError(t, err)
	assert.Nil(t, last)

	var batch consensus_interface.WriteBatch
	for i := types.CommitIndex(1); i <= 5; i++ {
		batch.Commits = append(batch.Commits, testCommit(t, i, testBlock(t, types.Round(i), 0, 0).Ref()))
	}
	batch.ScheduleVersions = []types.ScheduleVersion{
		{StartRound: 300, Scores: []uint64{1, 2, 3, 4}},
		{StartRound: 1, Scores: []uint64{0, 0, 0, 0}},
	}
	require.NoError(t, store.Write(batch))

	last, err = store.ReadLastCommit()
	require.NoError(t, err)
	assert.Equal(t, types.CommitIndex(5), last.Index())
	assert.Equal(t, batch.Commits[4].Digest(), last.Digest())

	commits, err := store.ScanCommits(2, 4)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, types.CommitIndex(2), commits[0].Index())
	assert.Equal(t, types.CommitIndex(4), commits[2].Index())

	versions, err := store.ReadScheduleVersions()
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, types.Round(1), versions[0].StartRound)
	assert.Equal(t, types.Round(300), versions[1].StartRound)
}

func TestConsensusStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(LevelDBConfig{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	store := NewConsensusStore(db, 16)
	b := testBlock(t, 4, 2, 44)
	require.NoError(t, store.Write(consensus_interface.WriteBatch{
		Blocks:  []*types.VerifiedBlock{b},
		Commits: []*types.TrustedCommit{testCommit(t, 1, b.Ref())},
	}))
	require.NoError(t, store.Close())

	db, err = NewLevelDB(LevelDBConfig{Path: dir})
	require.NoError(t, err)
	store = NewConsensusStore(db, 16)
	defer store.Close()

	blocks, err := store.ReadBlocks([]types.BlockRef{b.Ref()})
	require.NoError(t, err)
	require.NotNil(t, blocks[0])
	assert.Equal(t, uint64(44), blocks[0].TimestampMs())

	last, err := store.ReadLastCommit()
	require.NoError(t, err)
	assert.Equal(t, b.Ref(), last.Leader())
}
