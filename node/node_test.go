package node

import (
	"sync"
	"testing"
	"time"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/consensus"
	"github.com/annchain/dagconsensus/network"
	"github.com/annchain/dagconsensus/storage"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commitLog struct {
	mu      sync.Mutex
	commits []*types.CommittedSubDag
}

func (l *commitLog) collect(ch chan *types.CommittedSubDag, quit chan struct{}) {
	for {
		select {
		case s := <-ch:
			l.mu.Lock()
			l.commits = append(l.commits, s)
			l.mu.Unlock()
		case <-quit:
			return
		}
	}
}

func (l *commitLog) refs() []types.CommitRef {
	l.mu.Lock()
	defer l.mu.Unlock()
	refs := make([]types.CommitRef, len(l.commits))
	for i, s := range l.commits {
		refs[i] = s.CommitRef
	}
	return refs
}

type testCommittee struct {
	hub   *network.LoopbackHub
	nodes []*AuthorityNode
	logs  []*commitLog
	quit  chan struct{}
}

func fastParameters() consensus.Parameters {
	p := consensus.DefaultParameters()
	p.LeaderTimeout = 100 * time.Millisecond
	p.MinRoundDelay = 10 * time.Millisecond
	p.SyncInterval = 100 * time.Millisecond
	p.FetchBackoffInitial = 10 * time.Millisecond
	p.FetchBackoffMax = 50 * time.Millisecond
	p.BroadcastTimeout = 100 * time.Millisecond
	p.LeaderScoringWindow = 10
	return p
}

func startCommittee(t *testing.T, n int) *testCommittee {
	c, keys := committee.MustLocalCommittee(0, committee.EqualStakes(n))
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	tc := &testCommittee{hub: network.NewLoopbackHub(), quit: make(chan struct{})}
	for i := 0; i < n; i++ {
		own := types.AuthorityIndex(i)
		commits := make(chan *types.CommittedSubDag, 1000)
		node, err := NewAuthorityNode(NodeConfig{
			Own:          own,
			Committee:    c,
			PrivateKey:   keys[i],
			Parameters:   fastParameters(),
			Store:        storage.NewMemoryStore(),
			Network:      tc.hub.Network(own, logger),
			CommitSender: commits,
			Logger:       logger,
		})
		require.NoError(t, err)
		log := &commitLog{}
		go log.collect(commits, tc.quit)
		tc.nodes = append(tc.nodes, node)
		tc.logs = append(tc.logs, log)
	}
	for _, node := range tc.nodes {
		node.Start()
	}
	t.Cleanup(func() {
		for _, node := range tc.nodes {
			node.Stop()
		}
		close(tc.quit)
	})
	return tc
}

func (tc *testCommittee) waitForCommits(t *testing.T, authorities []int, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, i := range authorities {
			if len(tc.logs[i].refs()) < count {
				return false
			}
		}
		return true
	}, 20*time.Second, 20*time.Millisecond)
}

// assertSamePrefix checks that every authority committed the same sequence.
func (tc *testCommittee) assertSamePrefix(t *testing.T, authorities []int, count int) {
	t.Helper()
	reference := tc.logs[authorities[0]].refs()[:count]
	for i, ref := range reference {
		assert.Equal(t, types.CommitIndex(i+1), ref.Index)
	}
	for _, i := range authorities[1:] {
		assert.Equal(t, reference, tc.logs[i].refs()[:count], "authority %d diverged", i)
	}
}

func TestAuthorityNode_CommitteeCommits(t *testing.T) {
	tc := startCommittee(t, 4)
	all := []int{0, 1, 2, 3}
	tc.waitForCommits(t, all, 10)
	tc.assertSamePrefix(t, all, 10)

	h, err := tc.nodes[1].TransactionClient.Submit(contextWithTimeout(t), []types.Transaction{[]byte("payload")})
	require.NoError(t, err)
	status, err := h.Wait(contextWithTimeout(t), consensus.TransactionCommitted)
	require.NoError(t, err)
	assert.Equal(t, consensus.TransactionCommitted, status.Kind)
	assert.Equal(t, types.AuthorityIndex(1), status.Block.Author)
}

func TestAuthorityNode_CommitsWithOneCrashed(t *testing.T) {
	tc := startCommittee(t, 4)
	all := []int{0, 1, 2, 3}
	tc.waitForCommits(t, all, 3)

	tc.nodes[3].Stop()
	crashedAt := len(tc.logs[3].refs())
	live := []int{0, 1, 2}
	tc.waitForCommits(t, live, crashedAt+10)
	tc.assertSamePrefix(t, live, crashedAt+10)
	tc.assertSamePrefix(t, all, crashedAt)
}

func TestAuthorityNode_RejectsBadConfig(t *testing.T) {
	c, keys := committee.MustLocalCommittee(0, committee.EqualStakes(4))
	hub := network.NewLoopbackHub()
	config := NodeConfig{
		Own:          7,
		Committee:    c,
		PrivateKey:   keys[0],
		Parameters:   consensus.DefaultParameters(),
		Store:        storage.NewMemoryStore(),
		Network:      hub.Network(0, nil),
		CommitSender: make(chan *types.CommittedSubDag),
	}
	_, err := NewAuthorityNode(config)
	assert.Error(t, err)

	config.Own = 0
	config.Parameters.WaveLength = 2
	_, err = NewAuthorityNode(config)
	assert.Error(t, err)

	config.Parameters = consensus.DefaultParameters()
	config.Network = nil
	_, err = NewAuthorityNode(config)
	assert.Error(t, err)
}
