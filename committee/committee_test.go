package committee

import (
	"path/filepath"
	"testing"

	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommittee_Thresholds(t *testing.T) {
	cases := []struct {
		stakes   []Stake
		quorum   Stake
		validity Stake
	}{
		{EqualStakes(1), 1, 1},
		{EqualStakes(4), 3, 2},
		{EqualStakes(5), 4, 2},
		{EqualStakes(7), 5, 3},
		{EqualStakes(10), 7, 4},
		{[]Stake{10, 20, 30, 40}, 67, 34},
	}
	for _, c := range cases {
		committee, _ := MustLocalCommittee(0, c.stakes)
		assert.Equal(t, c.quorum, committee.QuorumThreshold(), "stakes %v", c.stakes)
		assert.Equal(t, c.validity, committee.ValidityThreshold(), "stakes %v", c.stakes)
	}
}

// Two quorums always overlap by at least the validity threshold, so they
// share at least one honest authority.
func TestCommittee_QuorumIntersection(t *testing.T) {
	for total := Stake(1); total <= 200; total++ {
		f := (total - 1) / 3
		assert.True(t, 3*f < total)
		quorum := total - f
		overlap := 2*quorum - total
		assert.True(t, overlap >= f+1, "total %d", total)
	}
}

func TestCommittee_Lookup(t *testing.T) {
	committee, keys := MustLocalCommittee(5, []Stake{1, 2, 3})
	assert.Equal(t, uint64(5), committee.Epoch())
	assert.Equal(t, 3, committee.Size())
	assert.Equal(t, Stake(6), committee.TotalStake())
	assert.Equal(t, Stake(2), committee.Stake(1))
	assert.Equal(t, Stake(0), committee.Stake(9))

	_, err := committee.Authority(3)
	assert.ErrorIs(t, err, ErrUnknownAuthority)

	a, err := committee.Authority(2)
	require.NoError(t, err)
	idx, err := committee.IndexOf(a.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, types.AuthorityIndex(2), idx)
	assert.Len(t, keys, 3)

	_, err = NewCommittee(0, []Authority{{Stake: 0}})
	assert.Error(t, err)
}

func TestCommittee_FileRoundTrip(t *testing.T) {
	committee, _ := MustLocalCommittee(2, []Stake{1, 1, 2, 5})
	path := filepath.Join(t.TempDir(), "committee.yaml")
	require.NoError(t, WriteCommitteeFile(path, committee))

	loaded, err := LoadCommitteeFile(path)
	require.NoError(t, err)
	assert.Equal(t, committee.Epoch(), loaded.Epoch())
	assert.Equal(t, committee.QuorumThreshold(), loaded.QuorumThreshold())
	for i, a := range committee.Authorities() {
		b := loaded.Authorities()[i]
		assert.Equal(t, a.Hostname, b.Hostname)
		assert.Equal(t, a.Stake, b.Stake)
		assert.Equal(t, a.PublicKey.Bytes, b.PublicKey.Bytes)
	}

	_, err = ParseCommittee([]byte("authorities:\n  - hostname: a\n    stake: 1\n    public_key: zz\n"))
	assert.Error(t, err)
}
