package consensus

import (
	"testing"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
)

func ref(round types.Round, author types.AuthorityIndex) types.BlockRef {
	return types.BlockRef{Round: round, Author: author, Digest: types.BlockDigest{byte(round), byte(author)}}
}

func TestThresholdClock_Advance(t *testing.T) {
	c, _ := committee.MustLocalCommittee(0, committee.EqualStakes(4))
	clock := NewThresholdClock(c, 0)

	assert.False(t, clock.AddBlock(ref(0, 0)))
	assert.False(t, clock.AddBlock(ref(0, 1)))
	assert.True(t, clock.AddBlock(ref(0, 2)))
	assert.Equal(t, types.Round(1), clock.Round())

	// lower rounds are ignored
	assert.False(t, clock.AddBlock(ref(0, 3)))
	assert.Equal(t, types.Round(1), clock.Round())

	// duplicated authors do not count twice
	clock.AddBlock(ref(1, 0))
	clock.AddBlock(ref(1, 0))
	clock.AddBlock(ref(1, 1))
	assert.Equal(t, types.Round(1), clock.Round())
	clock.AddBlock(ref(1, 3))
	assert.Equal(t, types.Round(2), clock.Round())
}

func TestThresholdClock_JumpForward(t *testing.T) {
	c, _ := committee.MustLocalCommittee(0, committee.EqualStakes(4))
	clock := NewThresholdClock(c, 1)

	assert.True(t, clock.AddBlock(ref(5, 2)))
	assert.Equal(t, types.Round(5), clock.Round())

	// two more blocks at round 5 complete the quorum
	clock.AddBlock(ref(5, 0))
	assert.Equal(t, types.Round(5), clock.Round())
	clock.AddBlock(ref(5, 1))
	assert.Equal(t, types.Round(6), clock.Round())

	round, advanced := clock.AddBlocks([]types.BlockRef{ref(3, 0), ref(4, 1)})
	assert.False(t, advanced)
	assert.Equal(t, types.Round(6), round)
}

func TestThresholdClock_WeightedStake(t *testing.T) {
	// total 10, quorum 7
	c, _ := committee.MustLocalCommittee(0, []committee.Stake{7, 1, 1, 1})
	clock := NewThresholdClock(c, 0)
	assert.True(t, clock.AddBlock(ref(3, 0)))
	assert.Equal(t, types.Round(4), clock.Round())
}
