// Copyright © 2019 Annchain Authors <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/types"
	"github.com/annchain/gcache"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type TransactionStatusKind int

const (
	TransactionPending TransactionStatusKind = iota
	TransactionIncluded
	TransactionCommitted
	TransactionRejected
)

func (k TransactionStatusKind) String() string {
	switch k {
	case TransactionIncluded:
		return "included"
	case TransactionCommitted:
		return "committed"
	case TransactionRejected:
		return "rejected"
	default:
		return "pending"
	}
}

type TransactionStatus struct {
	Kind        TransactionStatusKind
	Block       types.BlockRef
	CommitIndex types.CommitIndex
	Reason      string
}

func (s TransactionStatus) String() string {
	switch s.Kind {
	case TransactionIncluded:
		return fmt.Sprintf("included in %s", s.Block)
	case TransactionCommitted:
		return fmt.Sprintf("committed in %s at commit %d", s.Block, s.CommitIndex)
	case TransactionRejected:
		return "rejected: " + s.Reason
	default:
		return "pending"
	}
}

// TransactionHandle tracks a batch submitted together. The batch always
// lands in a single block.
type TransactionHandle struct {
	ID           uuid.UUID
	Transactions []types.Transaction

	mu      sync.Mutex
	status  TransactionStatus
	changed chan struct{}
}

func newTransactionHandle(txs []types.Transaction) *TransactionHandle {
	return &TransactionHandle{
		ID:           uuid.New(),
		Transactions: txs,
		changed:      make(chan struct{}),
	}
}

func (h *TransactionHandle) Status() TransactionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *TransactionHandle) update(s TransactionStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.Kind == TransactionCommitted || h.status.Kind == TransactionRejected {
		return
	}
	h.status = s
	close(h.changed)
	h.changed = make(chan struct{})
}

// Wait blocks until the status reaches kind or the batch is rejected.
func (h *TransactionHandle) Wait(ctx context.Context, kind TransactionStatusKind) (TransactionStatus, error) {
	for {
		h.mu.Lock()
		status, changed := h.status, h.changed
		h.mu.Unlock()
		if status.Kind >= kind || status.Kind == TransactionRejected {
			return status, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return status, ctx.Err()
		}
	}
}

// TransactionClient is how applications submit transactions to this
// authority's proposals.
type TransactionClient struct {
	context  *Context
	verifier consensus_interface.TransactionVerifier
	sender   chan *TransactionHandle
	handles  gcache.Cache
	quit     chan struct{}
	once     sync.Once
	logger   *logrus.Entry
}

const transactionHandleRetention = 10 * time.Minute

func NewTransactionClient(context *Context, verifier consensus_interface.TransactionVerifier) (*TransactionClient, *TransactionConsumer) {
	if verifier == nil {
		verifier = NoopTransactionVerifier{}
	}
	sender := make(chan *TransactionHandle, context.Parameters.TransactionQueueSize)
	client := &TransactionClient{
		context:  context,
		verifier: verifier,
		sender:   sender,
		handles: gcache.New(context.Parameters.TransactionQueueSize * 4).LRU().
			Expiration(transactionHandleRetention).Build(),
		quit:   make(chan struct{}),
		logger: context.moduleLogger("tx_client"),
	}
	return client, newTransactionConsumer(context, sender)
}

// Submit queues a batch for inclusion. Batches that can never be included
// come back already rejected.
func (c *TransactionClient) Submit(ctx context.Context, txs []types.Transaction) (*TransactionHandle, error) {
	h := newTransactionHandle(txs)
	_ = c.handles.Set(h.ID, h)
	if reason := c.validate(txs); reason != "" {
		h.update(TransactionStatus{Kind: TransactionRejected, Reason: reason})
		return h, nil
	}
	select {
	case c.sender <- h:
		return h, nil
	case <-c.quit:
		return nil, ErrTransactionClosed
	case <-ctx.Done():
		c.handles.Remove(h.ID)
		return nil, ctx.Err()
	}
}

func (c *TransactionClient) validate(txs []types.Transaction) string {
	params := c.context.Parameters
	if len(txs) == 0 {
		return "empty batch"
	}
	if len(txs) > params.MaxNumTransactionsInBlock {
		return fmt.Sprintf("batch of %d transactions exceeds the block limit %d", len(txs), params.MaxNumTransactionsInBlock)
	}
	total := 0
	for _, tx := range txs {
		if len(tx) > params.MaxTransactionSizeBytes {
			return fmt.Sprintf("transaction of %d bytes exceeds %d", len(tx), params.MaxTransactionSizeBytes)
		}
		total += len(tx)
	}
	if total > params.MaxTransactionsInBlockBytes {
		return fmt.Sprintf("batch of %d bytes exceeds the block limit %d", total, params.MaxTransactionsInBlockBytes)
	}
	if err := c.verifier.VerifyBatch(txs); err != nil {
		return err.Error()
	}
	return ""
}

// Lookup finds a recently submitted handle.
func (c *TransactionClient) Lookup(id uuid.UUID) (*TransactionHandle, bool) {
	v, err := c.handles.GetIFPresent(id)
	if err != nil {
		return nil, false
	}
	return v.(*TransactionHandle), true
}

func (c *TransactionClient) Close() {
	c.once.Do(func() { close(c.quit) })
}

// TransactionConsumer hands queued batches to the core when it proposes and
// follows them until they are committed or garbage collected.
// It is owned by the core thread.
type TransactionConsumer struct {
	context  *Context
	receiver chan *TransactionHandle
	pending  *TransactionHandle
	inflight map[types.BlockRef][]*TransactionHandle
	logger   *logrus.Entry
}

func newTransactionConsumer(context *Context, receiver chan *TransactionHandle) *TransactionConsumer {
	return &TransactionConsumer{
		context:  context,
		receiver: receiver,
		inflight: make(map[types.BlockRef][]*TransactionHandle),
		logger:   context.moduleLogger("tx_consumer"),
	}
}

// Next drains queued batches up to the block limits without blocking. The
// returned ack must be called with the proposed block's ref.
func (t *TransactionConsumer) Next() ([]types.Transaction, func(types.BlockRef)) {
	params := t.context.Parameters
	var txs []types.Transaction
	var handles []*TransactionHandle
	size := 0
	for {
		h := t.pending
		t.pending = nil
		if h == nil {
			select {
			case h = <-t.receiver:
			default:
			}
		}
		if h == nil {
			break
		}
		batchSize := 0
		for _, tx := range h.Transactions {
			batchSize += len(tx)
		}
		if len(txs)+len(h.Transactions) > params.MaxNumTransactionsInBlock || size+batchSize > params.MaxTransactionsInBlockBytes {
			t.pending = h
			break
		}
		txs = append(txs, h.Transactions...)
		handles = append(handles, h)
		size += batchSize
	}
	ack := func(ref types.BlockRef) {
		if len(handles) == 0 {
			return
		}
		t.inflight[ref] = handles
		for _, h := range handles {
			h.update(TransactionStatus{Kind: TransactionIncluded, Block: ref})
		}
	}
	return txs, ack
}

// NotifyCommitted marks batches of own blocks in the sub dags committed.
func (t *TransactionConsumer) NotifyCommitted(subDags []*types.CommittedSubDag) {
	for _, s := range subDags {
		for _, b := range s.Blocks {
			handles, ok := t.inflight[b.Ref()]
			if !ok {
				continue
			}
			delete(t.inflight, b.Ref())
			for _, h := range handles {
				h.update(TransactionStatus{Kind: TransactionCommitted, Block: b.Ref(), CommitIndex: s.CommitRef.Index})
			}
		}
	}
}

// NotifyGarbageCollected rejects batches of own blocks that can no longer be
// committed.
func (t *TransactionConsumer) NotifyGarbageCollected(gcRound types.Round) {
	for ref, handles := range t.inflight {
		if ref.Round > gcRound {
			continue
		}
		delete(t.inflight, ref)
		for _, h := range handles {
			h.update(TransactionStatus{Kind: TransactionRejected, Block: ref, Reason: "garbage collected"})
		}
		t.logger.WithFields(logrus.Fields{
			"block":   ref,
			"batches": len(handles),
		}).Warn("own block garbage collected before commit")
	}
}

func (t *TransactionConsumer) InflightBlocks() int {
	return len(t.inflight)
}
