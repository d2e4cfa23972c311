package wserver

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annchain/dagconsensus/eventbus"
	"github.com/annchain/dagconsensus/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, url string, topic string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+serverDefaultWSPath, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(RegisterMessage{Event: topic}))
	return conn
}

func TestServer_PushesCommits(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	s.Start()
	defer s.Stop()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	commits := dial(t, ts.URL, TopicCommits)
	defer commits.Close()
	blocks := dial(t, ts.URL, TopicOwnBlocks)
	defer blocks.Close()
	require.Eventually(t, func() bool { return s.Subscribers() == 2 }, 2*time.Second, 5*time.Millisecond)

	genesis := types.GenesisBlocks(0, 4)
	s.HandleEvent(&eventbus.CommitEvent{SubDag: &types.CommittedSubDag{
		Leader:      genesis[1].Ref(),
		Blocks:      genesis[:2],
		TimestampMs: 42,
		CommitRef:   types.CommitRef{Index: 7},
	}})
	s.HandleEvent(&eventbus.NewBlockEvent{Block: genesis[0]})
	// not pushed
	s.HandleEvent(&eventbus.NewRoundEvent{Round: 3})

	require.NoError(t, commits.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := commits.ReadMessage()
	require.NoError(t, err)
	var m CommitMessage
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, TopicCommits, m.Type)
	assert.Equal(t, uint32(7), m.Index)
	assert.Equal(t, uint64(42), m.TimestampMs)
	assert.Equal(t, uint32(1), m.Leader.Author)
	assert.Len(t, m.Blocks, 2)

	require.NoError(t, blocks.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err = blocks.ReadMessage()
	require.NoError(t, err)
	var b BlockMessage
	require.NoError(t, json.Unmarshal(data, &b))
	assert.Equal(t, TopicOwnBlocks, b.Type)
	assert.Equal(t, genesis[0].Digest().Hex(), b.Block.Digest)
}

func TestServer_DropsWhenQueueIsFull(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	s.queue = make(chan outgoing, 1)
	genesis := types.GenesisBlocks(0, 4)
	s.HandleEvent(&eventbus.NewBlockEvent{Block: genesis[0]})
	s.HandleEvent(&eventbus.NewBlockEvent{Block: genesis[1]})
	assert.Equal(t, uint64(1), s.dropped.Load())
	assert.Equal(t, 1, s.GetBenchmarks()["queue"])
}

func TestSubscriptions(t *testing.T) {
	subs := newSubscriptions()
	a := &Conn{id: "a"}
	b := &Conn{id: "b"}
	subs.add(TopicCommits, a)
	subs.add(TopicOwnBlocks, a)
	subs.add(TopicCommits, b)
	assert.Len(t, subs.get(TopicCommits), 2)
	assert.Equal(t, 2, subs.count())

	subs.removeAll(a)
	assert.Equal(t, []*Conn{b}, subs.get(TopicCommits))
	assert.Empty(t, subs.get(TopicOwnBlocks))
}
