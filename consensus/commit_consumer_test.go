package consensus

import (
	"testing"
	"time"

	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestCommitConsumerMonitor(t *testing.T) {
	consumer := NewCommitConsumer(make(chan *types.CommittedSubDag), 3)
	monitor := consumer.Monitor()
	assert.Equal(t, types.CommitIndex(3), monitor.HighestHandledCommit())

	monitor.SetHighestHandledCommit(5)
	monitor.SetHighestHandledCommit(4)
	assert.Equal(t, types.CommitIndex(5), monitor.HighestHandledCommit())
}

func TestCommitForwarder_KeepsOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	out := make(chan *types.CommittedSubDag)
	forwarder := newCommitForwarder(out)
	defer forwarder.stop()

	var subDags []*types.CommittedSubDag
	for i := 1; i <= 10; i++ {
		subDags = append(subDags, &types.CommittedSubDag{CommitRef: types.CommitRef{Index: types.CommitIndex(i)}})
	}
	// nobody reads yet, pushes must not block
	forwarder.push(subDags[:6]...)
	forwarder.push(subDags[6:]...)
	forwarder.push()

	for i := 1; i <= 10; i++ {
		select {
		case s := <-out:
			assert.Equal(t, types.CommitIndex(i), s.CommitRef.Index)
		case <-time.After(time.Second):
			t.Fatalf("commit %d not forwarded", i)
		}
	}
	assert.Zero(t, forwarder.pending())
}

func TestCommitForwarder_StopWhileBlocked(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	forwarder := newCommitForwarder(make(chan *types.CommittedSubDag))
	forwarder.push(&types.CommittedSubDag{})
	forwarder.stop()
	forwarder.stop()
}
