package consensus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/annchain/dagconsensus/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionClient_SubmitAndInclude(t *testing.T) {
	ctx, _ := newTestContext(t, 4, 0)
	client, consumer := NewTransactionClient(ctx, nil)

	first, err := client.Submit(context.Background(), []types.Transaction{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	second, err := client.Submit(context.Background(), []types.Transaction{[]byte("c")})
	require.NoError(t, err)
	assert.Equal(t, TransactionPending, first.Status().Kind)

	found, ok := client.Lookup(first.ID)
	require.True(t, ok)
	assert.Same(t, first, found)
	_, ok = client.Lookup(uuid.New())
	assert.False(t, ok)

	txs, ack := consumer.Next()
	assert.Equal(t, []types.Transaction{[]byte("a"), []byte("b"), []byte("c")}, txs)
	block := ref(3, 0)
	ack(block)
	assert.Equal(t, TransactionIncluded, first.Status().Kind)
	assert.Equal(t, block, second.Status().Block)
	assert.Equal(t, 1, consumer.InflightBlocks())

	txs, ack = consumer.Next()
	assert.Empty(t, txs)
	ack(ref(4, 0))
	assert.Equal(t, 1, consumer.InflightBlocks())
}

func TestTransactionClient_Rejected(t *testing.T) {
	ctx, _ := newTestContext(t, 4, 0)
	ctx.Parameters.MaxTransactionSizeBytes = 4
	client, consumer := NewTransactionClient(ctx, nil)

	for _, batch := range [][]types.Transaction{
		nil,
		{[]byte("too large")},
	} {
		h, err := client.Submit(context.Background(), batch)
		require.NoError(t, err)
		assert.Equal(t, TransactionRejected, h.Status().Kind)
		assert.NotEmpty(t, h.Status().Reason)
	}

	strict, _ := NewTransactionClient(ctx, rejectAllTransactions{})
	h, err := strict.Submit(context.Background(), []types.Transaction{[]byte("ok")})
	require.NoError(t, err)
	status, err := h.Wait(context.Background(), TransactionCommitted)
	require.NoError(t, err)
	assert.Equal(t, TransactionRejected, status.Kind)

	txs, _ := consumer.Next()
	assert.Empty(t, txs)
}

func TestTransactionConsumer_BlockLimits(t *testing.T) {
	ctx, _ := newTestContext(t, 4, 0)
	ctx.Parameters.MaxNumTransactionsInBlock = 3
	client, consumer := NewTransactionClient(ctx, nil)
	for _, batch := range [][]types.Transaction{
		{[]byte("1"), []byte("2")},
		{[]byte("3"), []byte("4")},
		{[]byte("5")},
	} {
		_, err := client.Submit(context.Background(), batch)
		require.NoError(t, err)
	}

	// batches are never split across blocks
	txs, ack := consumer.Next()
	ack(ref(1, 0))
	assert.Len(t, txs, 2)
	txs, ack = consumer.Next()
	ack(ref(2, 0))
	assert.Len(t, txs, 3)
	txs, _ = consumer.Next()
	assert.Empty(t, txs)
}

func TestTransactionConsumer_CommittedAndCollected(t *testing.T) {
	ctx, keys := newTestContext(t, 4, 0)
	b := newDagBuilder(t, ctx, keys)
	client, consumer := NewTransactionClient(ctx, nil)
	b.layers(1, 2)

	committed, _ := client.Submit(context.Background(), []types.Transaction{[]byte("x")})
	_, ack := consumer.Next()
	ack(b.at(1, 0).Ref())
	collected, _ := client.Submit(context.Background(), []types.Transaction{[]byte("y")})
	_, ack = consumer.Next()
	ack(b.at(2, 0).Ref())

	consumer.NotifyCommitted([]*types.CommittedSubDag{{
		Leader:    b.at(1, 1).Ref(),
		Blocks:    []*types.VerifiedBlock{b.at(1, 0), b.at(1, 1)},
		CommitRef: types.CommitRef{Index: 1},
	}})
	status := committed.Status()
	assert.Equal(t, TransactionCommitted, status.Kind)
	assert.Equal(t, types.CommitIndex(1), status.CommitIndex)

	consumer.NotifyGarbageCollected(2)
	assert.Equal(t, TransactionRejected, collected.Status().Kind)
	assert.Zero(t, consumer.InflightBlocks())

	// final states stick
	consumer.NotifyGarbageCollected(5)
	assert.Equal(t, TransactionCommitted, committed.Status().Kind)
}

func TestTransactionHandle_Wait(t *testing.T) {
	ctx, _ := newTestContext(t, 4, 0)
	client, consumer := NewTransactionClient(ctx, nil)
	h, err := client.Submit(context.Background(), []types.Transaction{[]byte("z")})
	require.NoError(t, err)

	done := make(chan TransactionStatus, 1)
	go func() {
		s, _ := h.Wait(context.Background(), TransactionIncluded)
		done <- s
	}()
	_, ack := consumer.Next()
	ack(ref(1, 0))
	select {
	case s := <-done:
		assert.Equal(t, TransactionIncluded, s.Kind)
	case <-time.After(time.Second):
		t.Fatal("wait did not return")
	}

	timeout, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Wait(timeout, TransactionCommitted)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTransactionClient_Closed(t *testing.T) {
	ctx, _ := newTestContext(t, 4, 0)
	ctx.Parameters.TransactionQueueSize = 1
	client, _ := NewTransactionClient(ctx, nil)
	_, err := client.Submit(context.Background(), []types.Transaction{[]byte("1")})
	require.NoError(t, err)

	client.Close()
	client.Close()
	_, err = client.Submit(context.Background(), []types.Transaction{[]byte("2")})
	assert.True(t, errors.Is(err, ErrTransactionClosed))
}
