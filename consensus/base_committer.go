package consensus

import (
	"fmt"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
)

type LeaderStatusKind int

const (
	LeaderUndecided LeaderStatusKind = iota
	LeaderCommit
	LeaderSkip
)

func (k LeaderStatusKind) String() string {
	switch k {
	case LeaderCommit:
		return "Commit"
	case LeaderSkip:
		return "Skip"
	default:
		return "Undecided"
	}
}

// LeaderStatus is the outcome of the commit rule for one leader slot.
// Block is set only for LeaderCommit.
type LeaderStatus struct {
	Kind   LeaderStatusKind
	Slot   types.Slot
	Block  *types.VerifiedBlock
	Direct bool
}

func (s LeaderStatus) Round() types.Round { return s.Slot.Round }

func (s LeaderStatus) IsDecided() bool { return s.Kind != LeaderUndecided }

func (s LeaderStatus) String() string {
	how := "indirect"
	if s.Direct {
		how = "direct"
	}
	if s.Kind == LeaderCommit {
		return fmt.Sprintf("%s(%s,%s)", s.Kind, s.Block.Ref(), how)
	}
	return fmt.Sprintf("%s(%s,%s)", s.Kind, s.Slot, how)
}

func undecided(slot types.Slot) LeaderStatus {
	return LeaderStatus{Kind: LeaderUndecided, Slot: slot}
}

type BaseCommitterOptions struct {
	WaveLength   uint32
	LeaderOffset uint32
	RoundOffset  uint32
}

// BaseCommitter applies the commit rule to the leaders of one
// (leader offset, round offset) pair. A wave spans WaveLength rounds: the
// leader round first, the decision round last. Blocks of the round after
// the leader round are votes when they support the leader block, blocks of
// the decision round are certificates when a quorum of their ancestors vote.
type BaseCommitter struct {
	context        *Context
	options        BaseCommitterOptions
	leaderSchedule *LeaderSchedule
	dagState       *DagState
	logger         *logrus.Entry
}

func NewBaseCommitter(context *Context, leaderSchedule *LeaderSchedule, dagState *DagState, options BaseCommitterOptions) *BaseCommitter {
	return &BaseCommitter{
		context:        context,
		options:        options,
		leaderSchedule: leaderSchedule,
		dagState:       dagState,
		logger: context.moduleLogger("committer").WithFields(logrus.Fields{
			"leaderOffset": options.LeaderOffset,
			"roundOffset":  options.RoundOffset,
		}),
	}
}

func (b *BaseCommitter) waveNumber(round types.Round) uint32 {
	r := uint32(round)
	if r < b.options.RoundOffset {
		return 0
	}
	return (r - b.options.RoundOffset) / b.options.WaveLength
}

func (b *BaseCommitter) leaderRound(wave uint32) types.Round {
	return types.Round(wave*b.options.WaveLength + b.options.RoundOffset)
}

func (b *BaseCommitter) decisionRound(wave uint32) types.Round {
	return types.Round(wave*b.options.WaveLength + b.options.WaveLength - 1 + b.options.RoundOffset)
}

// ElectLeader returns false when round is not a leader round of this committer.
func (b *BaseCommitter) ElectLeader(round types.Round) (types.Slot, bool) {
	wave := b.waveNumber(round)
	if b.leaderRound(wave) != round {
		return types.Slot{}, false
	}
	return types.NewSlot(round, b.leaderSchedule.ElectLeader(round, b.options.LeaderOffset)), true
}

// TryDirectDecide skips the leader when a quorum of the voting round does
// not reference it, and commits it when a quorum of the decision round
// certifies one of its blocks.
func (b *BaseCommitter) TryDirectDecide(leader types.Slot) LeaderStatus {
	votingRound := leader.Round + 1
	if b.enoughLeaderBlame(votingRound, leader.Authority) {
		return LeaderStatus{Kind: LeaderSkip, Slot: leader, Direct: true}
	}
	decisionRound := b.decisionRound(b.waveNumber(leader.Round))
	var supported []*types.VerifiedBlock
	for _, lb := range b.dagState.GetUncommittedBlocksAtSlot(leader) {
		if b.enoughLeaderSupport(decisionRound, lb) {
			supported = append(supported, lb)
		}
	}
	if len(supported) > 1 {
		b.logger.WithField("slot", leader).Panic("more than one certified block for leader slot")
	}
	if len(supported) == 1 {
		return LeaderStatus{Kind: LeaderCommit, Slot: leader, Block: supported[0], Direct: true}
	}
	return undecided(leader)
}

// TryIndirectDecide decides the leader from the first committed anchor at or
// after the round following its decision round. leaders must be ordered by
// round. An undecided leader before any anchor leaves the slot undecided.
func (b *BaseCommitter) TryIndirectDecide(leader types.Slot, leaders []LeaderStatus) LeaderStatus {
	for _, anchor := range leaders {
		if anchor.Round() < leader.Round+types.Round(b.options.WaveLength) {
			continue
		}
		switch anchor.Kind {
		case LeaderCommit:
			return b.decideLeaderFromAnchor(anchor.Block, leader)
		case LeaderUndecided:
			return undecided(leader)
		}
	}
	return undecided(leader)
}

func (b *BaseCommitter) decideLeaderFromAnchor(anchor *types.VerifiedBlock, leader types.Slot) LeaderStatus {
	leaderBlocks := b.dagState.GetUncommittedBlocksAtSlot(leader)
	if len(leaderBlocks) > 1 {
		b.logger.WithField("slot", leader).Warn("multiple blocks found for leader slot")
	}
	decisionRound := b.decisionRound(b.waveNumber(leader.Round))
	potentialCertificates := b.dagState.AncestorsAtRound(anchor, decisionRound)

	var certified []*types.VerifiedBlock
	for _, lb := range leaderBlocks {
		votes := make(map[types.BlockRef]bool)
		for _, pc := range potentialCertificates {
			if b.isCertificate(pc, lb, votes) {
				certified = append(certified, lb)
				break
			}
		}
	}
	if len(certified) > 1 {
		b.logger.WithFields(logrus.Fields{
			"slot":   leader,
			"anchor": anchor.Ref(),
		}).Panic("more than one certified block for leader slot")
	}
	if len(certified) == 1 {
		return LeaderStatus{Kind: LeaderCommit, Slot: leader, Block: certified[0]}
	}
	return LeaderStatus{Kind: LeaderSkip, Slot: leader}
}

// findSupportedBlock returns the block at slot that from votes for. A block
// supports at most one block per slot, the first found depth first through
// its ancestors in order.
func (b *BaseCommitter) findSupportedBlock(slot types.Slot, from *types.VerifiedBlock) (types.BlockRef, bool) {
	if from.Round() < slot.Round {
		return types.BlockRef{}, false
	}
	for _, ancestor := range from.Ancestors() {
		if ancestor.Slot() == slot {
			return ancestor, true
		}
		if ancestor.Round <= slot.Round {
			continue
		}
		block := b.dagState.GetBlock(ancestor)
		if block == nil {
			b.logger.WithField("block", ancestor).Panic("ancestor missing from dag")
		}
		if support, ok := b.findSupportedBlock(slot, block); ok {
			return support, true
		}
	}
	return types.BlockRef{}, false
}

func (b *BaseCommitter) isVote(potentialVote *types.VerifiedBlock, leaderBlock *types.VerifiedBlock) bool {
	support, ok := b.findSupportedBlock(leaderBlock.Slot(), potentialVote)
	return ok && support == leaderBlock.Ref()
}

// isCertificate reports whether a quorum of the ancestors of
// potentialCertificate vote for leaderBlock. votes caches decisions for
// this leader block only.
func (b *BaseCommitter) isCertificate(potentialCertificate *types.VerifiedBlock, leaderBlock *types.VerifiedBlock,
	votes map[types.BlockRef]bool) bool {
	gcRound := b.dagState.GcRound()
	aggregator := committee.NewStakeAggregator(committee.QuorumThreshold)
	for _, r := range potentialCertificate.Ancestors() {
		isVote, ok := votes[r]
		if !ok {
			if r.Round > gcRound {
				potentialVote := b.dagState.GetBlock(r)
				if potentialVote == nil {
					b.logger.WithField("block", r).Panic("ancestor missing from dag")
				}
				isVote = b.isVote(potentialVote, leaderBlock)
			}
			votes[r] = isVote
		}
		if isVote && aggregator.Add(r.Author, b.context.Committee) {
			return true
		}
	}
	return false
}

func (b *BaseCommitter) enoughLeaderBlame(votingRound types.Round, leader types.AuthorityIndex) bool {
	aggregator := committee.NewStakeAggregator(committee.QuorumThreshold)
	for _, vb := range b.dagState.GetBlocksAtRound(votingRound) {
		blames := true
		for _, a := range vb.Ancestors() {
			if a.Author == leader {
				blames = false
				break
			}
		}
		if blames && aggregator.Add(vb.Author(), b.context.Committee) {
			return true
		}
	}
	return false
}

func (b *BaseCommitter) enoughLeaderSupport(decisionRound types.Round, leaderBlock *types.VerifiedBlock) bool {
	decisionBlocks := b.dagState.GetBlocksAtRound(decisionRound)
	var total committee.Stake
	for _, db := range decisionBlocks {
		total += b.context.Committee.Stake(db.Author())
	}
	if !b.context.Committee.ReachedQuorum(total) {
		return false
	}
	aggregator := committee.NewStakeAggregator(committee.QuorumThreshold)
	votes := make(map[types.BlockRef]bool)
	for _, db := range decisionBlocks {
		if b.isCertificate(db, leaderBlock, votes) && aggregator.Add(db.Author(), b.context.Committee) {
			return true
		}
	}
	return false
}

func (b *BaseCommitter) String() string {
	return fmt.Sprintf("Committer-L%d-R%d", b.options.LeaderOffset, b.options.RoundOffset)
}
