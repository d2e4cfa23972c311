package consensus

import (
	"sort"
	"sync"
	"testing"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/common/crypto"
	"github.com/annchain/dagconsensus/storage"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type manualClock struct {
	mu  sync.Mutex
	now uint64
}

func (c *manualClock) TimestampMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(ms uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

// newTestContext builds an equal stake committee of n with a round robin
// leader schedule so tests can predict leaders.
func newTestContext(t *testing.T, n int, own types.AuthorityIndex) (*Context, []crypto.PrivateKey) {
	t.Helper()
	c, keys, err := committee.NewLocalCommittee(0, committee.EqualStakes(n))
	require.NoError(t, err)
	params := DefaultParameters()
	params.LeaderSwapStrategy = LeaderSwapRoundRobin
	ctx := NewContext(own, c, params, keys[own], testLogger())
	ctx.Clock = &manualClock{now: 1000000}
	return ctx, keys
}

func newTestDagState(t *testing.T, ctx *Context) *DagState {
	t.Helper()
	return NewDagState(ctx, newTestStore(t))
}

// newTestStore returns a memory store that is closed when the test ends.
func newTestStore(t *testing.T) *storage.ConsensusStore {
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// verifyNoLeaks checks for leaked goroutines once every cleanup registered
// after it has run.
func verifyNoLeaks(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })
}

// dagBuilder creates signed blocks layer by layer. By default a block
// references its author's previous block first and then every block of the
// previous round.
type dagBuilder struct {
	t       *testing.T
	context *Context
	keys    []crypto.PrivateKey
	genesis []*types.VerifiedBlock
	blocks  map[types.BlockRef]*types.VerifiedBlock
	// last holds the most recent block of every authority.
	last []*types.VerifiedBlock
	// byRound lists the blocks of every round in creation order.
	byRound map[types.Round][]*types.VerifiedBlock
}

func newDagBuilder(t *testing.T, ctx *Context, keys []crypto.PrivateKey) *dagBuilder {
	genesis := types.GenesisBlocks(ctx.Epoch(), ctx.Committee.Size())
	b := &dagBuilder{
		t:       t,
		context: ctx,
		keys:    keys,
		genesis: genesis,
		blocks:  make(map[types.BlockRef]*types.VerifiedBlock),
		last:    append([]*types.VerifiedBlock(nil), genesis...),
		byRound: make(map[types.Round][]*types.VerifiedBlock),
	}
	b.byRound[types.GenesisRound] = genesis
	return b
}

func (b *dagBuilder) authors() []types.AuthorityIndex {
	var all []types.AuthorityIndex
	for i := 0; i < b.context.Committee.Size(); i++ {
		all = append(all, types.AuthorityIndex(i))
	}
	return all
}

// block signs a block with explicit ancestors. salt makes equivocating
// blocks of the same slot distinct.
func (b *dagBuilder) block(round types.Round, author types.AuthorityIndex, ancestors []types.BlockRef, salt byte) *types.VerifiedBlock {
	var txs []types.Transaction
	if salt != 0 {
		txs = []types.Transaction{{salt}}
	}
	signed, err := types.SignBlock(types.Block{
		Epoch:        b.context.Epoch(),
		Round:        round,
		Author:       author,
		TimestampMs:  uint64(round) * 100,
		Ancestors:    ancestors,
		Transactions: txs,
	}, b.context.Signer, b.keys[author])
	require.NoError(b.t, err)
	vb, err := types.NewVerifiedBlock(signed)
	require.NoError(b.t, err)
	b.blocks[vb.Ref()] = vb
	b.byRound[round] = append(b.byRound[round], vb)
	return vb
}

// defaultAncestors is the author's previous block followed by the latest
// block of every other authority at round-1, skipping excluded authors.
func (b *dagBuilder) defaultAncestors(round types.Round, author types.AuthorityIndex, exclude map[types.AuthorityIndex]bool) []types.BlockRef {
	refs := []types.BlockRef{b.last[author].Ref()}
	for _, other := range b.authors() {
		if other == author || exclude[other] {
			continue
		}
		if prev := b.last[other]; prev.Round()+1 == round {
			refs = append(refs, prev.Ref())
		}
	}
	return refs
}

// layer creates one block per author at round. Authors not listed produce
// nothing; exclude removes authors from everyone's ancestors.
func (b *dagBuilder) layer(round types.Round, authors []types.AuthorityIndex, exclude map[types.AuthorityIndex]bool) []*types.VerifiedBlock {
	var created []*types.VerifiedBlock
	for _, a := range authors {
		created = append(created, b.block(round, a, b.defaultAncestors(round, a, exclude), 0))
	}
	b.commitLayer(created)
	return created
}

// commitLayer makes the blocks the latest of their authors.
func (b *dagBuilder) commitLayer(blocks []*types.VerifiedBlock) {
	for _, vb := range blocks {
		b.last[vb.Author()] = vb
	}
}

// layers creates fully connected rounds from..to inclusive.
func (b *dagBuilder) layers(from, to types.Round) []*types.VerifiedBlock {
	var created []*types.VerifiedBlock
	for r := from; r <= to; r++ {
		created = append(created, b.layer(r, b.authors(), nil)...)
	}
	return created
}

func (b *dagBuilder) at(round types.Round, author types.AuthorityIndex) *types.VerifiedBlock {
	for _, vb := range b.byRound[round] {
		if vb.Author() == author {
			return vb
		}
	}
	b.t.Fatalf("no block at round %d from %d", round, author)
	return nil
}

// all returns every non genesis block ordered by ref.
func (b *dagBuilder) all() []*types.VerifiedBlock {
	var blocks []*types.VerifiedBlock
	for _, vb := range b.blocks {
		blocks = append(blocks, vb)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Ref().Less(blocks[j].Ref()) })
	return blocks
}

func (b *dagBuilder) persist(d *DagState) {
	for _, vb := range b.all() {
		d.AcceptBlock(vb)
	}
}
