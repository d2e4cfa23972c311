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
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/annchain/dagconsensus/common/goroutine"
	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/types"
	"github.com/annchain/gcache"
	"github.com/cenkalti/backoff/v5"
	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type fetchTask struct {
	refs      []types.BlockRef
	preferred types.AuthorityIndex
	ctx       context.Context
	cancel    context.CancelFunc
}

// Synchronizer fetches blocks this authority is missing. Requests from the
// network path go through a bounded queue and are never blocking; a periodic
// pass asks the core for whatever is still missing.
type Synchronizer struct {
	context    *Context
	client     consensus_interface.NetworkClient
	dispatcher CoreThreadDispatcher
	verifier   BlockVerifier
	dagState   *DagState
	reputation *PeerReputation
	logger     *logrus.Entry

	queue chan *fetchTask
	// inflightMu serializes the dedup check with marking refs in flight.
	inflightMu        sync.Mutex
	inflight          mapset.Set
	recentlyRequested gcache.Cache
	sem               *semaphore.Weighted
	syncing           *atomic.Bool

	tasksMu sync.Mutex
	tasks   map[*fetchTask]struct{}

	rootCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewSynchronizer(context *Context, client consensus_interface.NetworkClient, dispatcher CoreThreadDispatcher,
	verifier BlockVerifier, dagState *DagState, reputation *PeerReputation) *Synchronizer {
	params := context.Parameters
	return &Synchronizer{
		context:    context,
		client:     client,
		dispatcher: dispatcher,
		verifier:   verifier,
		dagState:   dagState,
		reputation: reputation,
		logger:     context.moduleLogger("synchronizer"),
		queue:      make(chan *fetchTask, params.FetchQueueSize),
		inflight:   mapset.NewSet(),
		recentlyRequested: gcache.New(params.MaxBlocksPerFetch * params.FetchConcurrency).Simple().
			Expiration(params.FetchDedupExpiration).Build(),
		sem:     semaphore.NewWeighted(int64(params.FetchConcurrency)),
		syncing: atomic.NewBool(false),
		tasks:   make(map[*fetchTask]struct{}),
	}
}

func (s *Synchronizer) Start() {
	s.rootCtx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	goroutine.New(s.loop)
}

func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
	s.logger.Info("synchronizer stopped")
}

func (s *Synchronizer) Name() string {
	return "Synchronizer"
}

// FetchBlocks schedules a fetch of refs, preferably from peer. It returns
// ErrSynchronizerBusy instead of waiting when the queue is full.
func (s *Synchronizer) FetchBlocks(refs []types.BlockRef, peer types.AuthorityIndex) error {
	gcRound := s.dagState.GcRound()
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	var wanted []types.BlockRef
	for _, r := range refs {
		if r.Round <= gcRound || s.inflight.Contains(r) {
			continue
		}
		if _, err := s.recentlyRequested.GetIFPresent(r); err == nil {
			continue
		}
		wanted = append(wanted, r)
		if len(wanted) == s.context.Parameters.MaxBlocksPerFetch {
			break
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	// marked before the send so a concurrent caller cannot queue the same refs
	s.markInflight(wanted)
	task := &fetchTask{refs: wanted, preferred: peer}
	select {
	case s.queue <- task:
		return nil
	default:
		s.unmarkInflightLocked(wanted, true)
		return ErrSynchronizerBusy
	}
}

// markInflight must be called with inflightMu held.
func (s *Synchronizer) markInflight(refs []types.BlockRef) {
	for _, r := range refs {
		s.inflight.Add(r)
		_ = s.recentlyRequested.Set(r, struct{}{})
	}
}

func (s *Synchronizer) unmarkInflight(refs []types.BlockRef) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	s.unmarkInflightLocked(refs, false)
}

// unmarkInflightLocked clears refs from the in flight set. forget also drops
// them from the dedup cache, for refs that were never sent.
func (s *Synchronizer) unmarkInflightLocked(refs []types.BlockRef, forget bool) {
	for _, r := range refs {
		s.inflight.Remove(r)
		if forget {
			s.recentlyRequested.Remove(r)
		}
	}
}

func (s *Synchronizer) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.context.Parameters.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.rootCtx.Done():
			return
		case task := <-s.queue:
			if err := s.sem.Acquire(s.rootCtx, 1); err != nil {
				s.unmarkInflight(task.refs)
				return
			}
			task.ctx, task.cancel = context.WithCancel(s.rootCtx)
			s.tasksMu.Lock()
			s.tasks[task] = struct{}{}
			s.tasksMu.Unlock()
			s.wg.Add(1)
			goroutine.New(func() {
				defer s.wg.Done()
				defer s.sem.Release(1)
				s.runTask(task)
			})
		case <-ticker.C:
			s.cancelBelowGcRound()
			if s.syncing.CAS(false, true) {
				s.wg.Add(1)
				goroutine.New(func() {
					defer s.wg.Done()
					defer s.syncing.Store(false)
					s.syncMissingBlocks()
				})
			}
		}
	}
}

func (s *Synchronizer) runTask(task *fetchTask) {
	defer func() {
		task.cancel()
		s.unmarkInflight(task.refs)
		s.tasksMu.Lock()
		delete(s.tasks, task)
		s.tasksMu.Unlock()
	}()
	s.fetchAndProcess(task.ctx, task.refs, task.preferred, true)
}

// cancelBelowGcRound drops fetches that can no longer matter.
func (s *Synchronizer) cancelBelowGcRound() {
	gcRound := s.dagState.GcRound()
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	for task := range s.tasks {
		obsolete := true
		for _, r := range task.refs {
			if r.Round > gcRound {
				obsolete = false
				break
			}
		}
		if obsolete {
			s.logger.WithField("refs", len(task.refs)).Debug("cancelling fetch below gc round")
			task.cancel()
		}
	}
}

// syncMissingBlocks asks random peers for everything the core still misses.
func (s *Synchronizer) syncMissingBlocks() {
	ctx, cancel := context.WithTimeout(s.rootCtx, s.context.Parameters.SyncInterval+s.context.Parameters.FetchTimeout)
	defer cancel()
	missing, err := s.dispatcher.GetMissingBlocks(ctx)
	if err != nil {
		if !errors.Is(err, ErrShutdown) && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Warn("failed to get missing blocks")
		}
		return
	}
	gcRound := s.dagState.GcRound()
	var wanted []types.BlockRef
	for _, r := range missing {
		if r.Round > gcRound && !s.inflight.Contains(r) {
			wanted = append(wanted, r)
		}
	}
	if len(wanted) == 0 {
		return
	}
	s.logger.WithField("missing", len(wanted)).Debug("periodic sync of missing blocks")
	s.markInflight(wanted)
	defer s.unmarkInflight(wanted)

	g, gctx := errgroup.WithContext(ctx)
	chunk := s.context.Parameters.MaxBlocksPerFetch
	for start := 0; start < len(wanted); start += chunk {
		end := start + chunk
		if end > len(wanted) {
			end = len(wanted)
		}
		refs := wanted[start:end]
		g.Go(func() error {
			if err := s.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer s.sem.Release(1)
			s.fetchAndProcess(gctx, refs, s.context.OwnIndex, false)
			return nil
		})
	}
	_ = g.Wait()
}

// fetchAndProcess retries with exponential backoff, rotating peers, and
// feeds the verified blocks to the core. Ancestors the core still misses are
// requested from the peer that served the blocks.
func (s *Synchronizer) fetchAndProcess(ctx context.Context, refs []types.BlockRef, preferred types.AuthorityIndex, usePreferred bool) {
	params := s.context.Parameters
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = params.FetchBackoffInitial
	b.MaxInterval = params.FetchBackoffMax

	attempt := 0
	var served types.AuthorityIndex
	operation := func() ([]*types.VerifiedBlock, error) {
		peer, ok := s.pickPeer(preferred, usePreferred && attempt == 0)
		attempt++
		if !ok {
			return nil, backoff.Permanent(ErrNoAvailablePeer)
		}
		fetchCtx, cancel := context.WithTimeout(ctx, params.FetchTimeout)
		defer cancel()
		raw, err := s.client.FetchBlocks(fetchCtx, peer, refs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("fetch from %d: %w", peer, err)
		}
		blocks, err := s.verifyFetched(peer, refs, raw)
		if err != nil {
			s.reputation.Penalize(peer, err)
			return nil, err
		}
		served = peer
		return blocks, nil
	}
	blocks, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(params.FetchMaxRetries)))
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).WithField("refs", types.BlockRefsToString(refs)).Warn("failed to fetch blocks")
		}
		return
	}
	if len(blocks) == 0 {
		return
	}
	missing, err := s.dispatcher.AddBlocks(ctx, blocks)
	if err != nil {
		if !errors.Is(err, ErrShutdown) && ctx.Err() == nil {
			s.logger.WithError(err).Warn("failed to add fetched blocks")
		}
		return
	}
	s.logger.WithFields(logrus.Fields{
		"peer":    served,
		"fetched": len(blocks),
		"missing": len(missing),
	}).Debug("fetched blocks")
	if len(missing) > 0 {
		if err := s.FetchBlocks(missing, served); err != nil {
			s.logger.WithError(err).Debug("could not schedule fetch of missing ancestors")
		}
	}
}

func (s *Synchronizer) verifyFetched(peer types.AuthorityIndex, refs []types.BlockRef, raw [][]byte) ([]*types.VerifiedBlock, error) {
	if len(raw) > len(refs) {
		return nil, fmt.Errorf("%w: %d blocks returned for %d refs", ErrTooManyFetchRefs, len(raw), len(refs))
	}
	requested := make(map[types.BlockRef]struct{}, len(refs))
	for _, r := range refs {
		requested[r] = struct{}{}
	}
	blocks := make([]*types.VerifiedBlock, 0, len(raw))
	for _, data := range raw {
		block, err := types.NewVerifiedBlockFromBytes(data)
		if err != nil {
			return nil, verificationError(VerificationMalformed, "from peer %d: %v", peer, err)
		}
		if _, ok := requested[block.Ref()]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedBlock, block.Ref())
		}
		if err := s.verifier.Verify(block.Signed()); err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// pickPeer returns the preferred peer when allowed, otherwise a random one
// that is not penalized.
func (s *Synchronizer) pickPeer(preferred types.AuthorityIndex, usePreferred bool) (types.AuthorityIndex, bool) {
	own := s.context.OwnIndex
	if usePreferred && preferred != own && !s.reputation.IsPenalized(preferred) {
		return preferred, true
	}
	var candidates []types.AuthorityIndex
	for i := 0; i < s.context.Committee.Size(); i++ {
		peer := types.AuthorityIndex(i)
		if peer != own && !s.reputation.IsPenalized(peer) {
			candidates = append(candidates, peer)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[rand.Intn(len(candidates))], true
}
