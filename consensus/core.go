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
	"time"

	"github.com/annchain/dagconsensus/eventbus"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
)

// Core is the single-threaded state machine of one authority. It accepts
// blocks, proposes its own and runs the commit rule. All calls must come
// from one goroutine, normally the CoreThread.
type Core struct {
	context          *Context
	dagState         *DagState
	blockManager     *BlockManager
	thresholdClock   *ThresholdClock
	roundTracker     *RoundTracker
	ancestorSelector *AncestorSelector
	leaderSchedule   *LeaderSchedule
	scorer           *ReputationScorer
	committer        *UniversalCommitter
	commitObserver   *CommitObserver
	txConsumer       *TransactionConsumer
	eventBus         eventbus.EventBus
	logger           *logrus.Entry

	lastProposedBlock *types.VerifiedBlock
	lastDecidedLeader types.Slot
}

type CoreComponents struct {
	DagState            *DagState
	LeaderSchedule      *LeaderSchedule
	Scorer              *ReputationScorer
	CommitObserver      *CommitObserver
	RoundTracker        *RoundTracker
	TransactionConsumer *TransactionConsumer
	EventBus            eventbus.EventBus
}

func NewCore(context *Context, components CoreComponents) *Core {
	c := &Core{
		context:          context,
		dagState:         components.DagState,
		blockManager:     NewBlockManager(context, components.DagState),
		thresholdClock:   NewThresholdClock(context.Committee, types.GenesisRound),
		roundTracker:     components.RoundTracker,
		ancestorSelector: NewAncestorSelector(context, components.DagState),
		leaderSchedule:   components.LeaderSchedule,
		scorer:           components.Scorer,
		committer:        NewUniversalCommitter(context, components.LeaderSchedule, components.DagState),
		commitObserver:   components.CommitObserver,
		txConsumer:       components.TransactionConsumer,
		eventBus:         components.EventBus,
		logger:           context.moduleLogger("core"),
	}
	c.recover()
	return c
}

func (c *Core) recover() {
	c.lastProposedBlock = c.dagState.LastBlockForAuthority(c.context.OwnIndex)
	c.lastDecidedLeader = c.dagState.LastCommitLeader()

	// the two highest rounds are enough to restore the threshold clock
	highest := c.dagState.HighestAcceptedRound()
	var recent []*types.VerifiedBlock
	if highest > types.GenesisRound {
		recent = append(recent, c.dagState.GetBlocksAtRound(highest-1)...)
	}
	recent = append(recent, c.dagState.GetBlocksAtRound(highest)...)
	c.addAccepted(recent)

	c.tryCommit()
	if block := c.tryPropose(true); block == nil && c.lastProposedBlock.Round() > types.GenesisRound {
		// make sure peers have the last proposal
		c.route(&eventbus.NewBlockEvent{Block: c.lastProposedBlock})
	}
	c.logger.WithFields(logrus.Fields{
		"round":        c.thresholdClock.Round(),
		"lastProposed": c.lastProposedBlock.Ref(),
		"lastDecided":  c.lastDecidedLeader,
	}).Info("core recovered")
}

// AddBlocks feeds verified blocks and returns the ancestors to fetch.
func (c *Core) AddBlocks(blocks []*types.VerifiedBlock) []types.BlockRef {
	for _, b := range blocks {
		c.roundTracker.UpdateReceived(b)
	}
	accepted, missing := c.blockManager.TryAcceptBlocks(blocks)
	if len(accepted) > 0 {
		c.addAccepted(accepted)
		c.tryCommit()
		c.tryPropose(false)
	}
	if len(missing) > 0 {
		c.logger.WithFields(logrus.Fields{
			"missing": types.BlockRefsToString(missing),
		}).Debug("blocks suspended on missing ancestors")
	}
	return missing
}

func (c *Core) addAccepted(blocks []*types.VerifiedBlock) {
	if len(blocks) == 0 {
		return
	}
	c.roundTracker.UpdateAccepted(blocks)
	refs := make([]types.BlockRef, len(blocks))
	for i, b := range blocks {
		refs[i] = b.Ref()
	}
	if round, advanced := c.thresholdClock.AddBlocks(refs); advanced {
		c.logger.WithField("round", round).Debug("threshold clock advanced")
		c.route(&eventbus.NewRoundEvent{Round: round})
	}
}

// NewBlock proposes at round unless a block for it was already proposed.
func (c *Core) NewBlock(round types.Round, force bool) *types.VerifiedBlock {
	if c.lastProposedBlock.Round() >= round {
		return nil
	}
	return c.tryPropose(force)
}

func (c *Core) tryPropose(force bool) *types.VerifiedBlock {
	block := c.tryNewBlock(force)
	if block == nil {
		return nil
	}
	c.route(&eventbus.NewBlockEvent{Block: block})
	c.tryCommit()
	return block
}

func (c *Core) tryNewBlock(force bool) *types.VerifiedBlock {
	round := c.thresholdClock.Round()
	if round <= c.lastProposedBlock.Round() {
		return nil
	}
	now := c.context.Clock.TimestampMs()
	if !force {
		if !c.leadersExist(round - 1) {
			return nil
		}
		minDelay := uint64(c.context.Parameters.MinRoundDelay.Milliseconds())
		if now < c.lastProposedBlock.TimestampMs()+minDelay {
			return nil
		}
	}

	ancestors := c.ancestorSelector.Select(round, c.lastProposedBlock)
	if ancestors == nil {
		return nil
	}
	refs := make([]types.BlockRef, len(ancestors))
	timestamp := now
	for i, a := range ancestors {
		refs[i] = a.Ref()
		if a.TimestampMs() > timestamp {
			timestamp = a.TimestampMs()
		}
	}
	txs, ack := c.txConsumer.Next()
	signed, err := types.SignBlock(types.Block{
		Epoch:        c.context.Epoch(),
		Round:        round,
		Author:       c.context.OwnIndex,
		TimestampMs:  timestamp,
		Ancestors:    refs,
		Transactions: txs,
	}, c.context.Signer, c.context.PrivateKey)
	if err != nil {
		c.logger.WithError(err).Panic("failed to sign own block")
	}
	block, err := types.NewVerifiedBlock(signed)
	if err != nil {
		c.logger.WithError(err).Panic("failed to serialize own block")
	}

	c.dagState.AcceptBlock(block)
	c.addAccepted([]*types.VerifiedBlock{block})
	c.lastProposedBlock = block
	ack(block.Ref())
	// own blocks are durable before anyone else sees them
	c.dagState.Flush()

	c.logger.WithFields(logrus.Fields{
		"block": block.Ref(),
		"txs":   len(txs),
		"force": force,
	}).Debug("created block")
	return block
}

func (c *Core) leadersExist(round types.Round) bool {
	for _, slot := range c.committer.GetLeaders(round) {
		if !c.dagState.ContainsBlockAtSlot(slot) {
			return false
		}
	}
	return true
}

// tryCommit runs the commit rule until nothing more is decided. Decisions
// stop at the end of a scoring window so the next leaders are elected with
// the updated schedule.
func (c *Core) tryCommit() []*types.CommittedSubDag {
	var committed []*types.CommittedSubDag
	for {
		until := c.scorer.CommitsUntilUpdate()
		if until == 0 {
			c.updateLeaderSchedule()
			until = c.scorer.CommitsUntilUpdate()
		}
		decided := c.committer.TryDecide(c.lastDecidedLeader)
		truncated := false
		if uint32(len(decided)) > until {
			decided = decided[:until]
			truncated = true
		}
		if len(decided) == 0 {
			break
		}
		c.lastDecidedLeader = decided[len(decided)-1].Slot

		var leaders []*types.VerifiedBlock
		for _, d := range decided {
			c.logger.WithField("decision", d).Debug("leader decided")
			if d.Kind == LeaderCommit {
				leaders = append(leaders, d.Block)
			}
		}
		if len(leaders) == 0 {
			if truncated {
				continue
			}
			break
		}
		subDags := c.commitObserver.HandleCommit(leaders)
		committed = append(committed, subDags...)
		c.txConsumer.NotifyCommitted(subDags)
		c.txConsumer.NotifyGarbageCollected(c.dagState.GcRound())
		c.addAccepted(c.blockManager.TryUnsuspendBlocksForLatestGcRound())
	}
	return committed
}

func (c *Core) updateLeaderSchedule() {
	scores := c.scorer.TakeScores()
	version := c.leaderSchedule.UpdateLeaderSchedule(c.lastDecidedLeader.Round+1, scores)
	c.dagState.AddScheduleVersion(version)
}

// GetMissingBlocks prunes stalled suspended blocks first.
func (c *Core) GetMissingBlocks() []types.BlockRef {
	c.blockManager.PruneStalled(time.Now())
	return c.blockManager.MissingBlocks()
}

func (c *Core) LastProposedRound() types.Round {
	return c.lastProposedBlock.Round()
}

func (c *Core) Status() Status {
	snapshot := c.dagState.Snapshot()
	return Status{
		Authority:             c.context.OwnIndex,
		Epoch:                 c.context.Epoch(),
		ClockRound:            c.thresholdClock.Round(),
		LastProposedRound:     c.lastProposedBlock.Round(),
		LastDecidedLeader:     c.lastDecidedLeader,
		HighestAcceptedRound:  snapshot.HighestAcceptedRound,
		GcRound:               snapshot.GcRound,
		LastCommitIndex:       snapshot.LastCommitIndex,
		LastCommitLeader:      snapshot.LastCommitLeader,
		SuspendedBlocks:       c.blockManager.SuspendedBlocksCount(),
		MissingBlocks:         len(c.blockManager.MissingBlocks()),
		InflightTransactions:  c.txConsumer.InflightBlocks(),
		PendingCommits:        c.commitObserver.PendingDeliveries(),
		Equivocators:          c.dagState.Equivocators(),
		HighestReceivedRounds: c.roundTracker.HighestReceivedRounds(),
		HighestAcceptedRounds: c.roundTracker.HighestAcceptedRounds(),
		LeaderScores:          c.leaderSchedule.LastVersion().Scores,
		CurrentScores:         c.scorer.Scores(),
	}
}

// route publishes ev when the core runs with an event bus.
func (c *Core) route(ev eventbus.Event) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Route(ev)
}
