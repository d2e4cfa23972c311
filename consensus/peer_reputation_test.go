package consensus

import (
	"errors"
	"sync"
	"testing"

	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
)

func TestPeerReputation_ConcurrentPenalties(t *testing.T) {
	ctx, _ := newTestContext(t, 4, 0)
	ctx.Parameters.PeerPenaltyThreshold = 200
	reputation := NewPeerReputation(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reputation.Penalize(1, errors.New("bad block"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, reputation.count(1))
	assert.True(t, reputation.IsPenalized(1))
	assert.False(t, reputation.IsPenalized(types.AuthorityIndex(2)))
}
