package consensus

import (
	"fmt"
	"sort"

	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
)

// Linearizer turns committed leaders into an ordered sequence of commits.
type Linearizer struct {
	context        *Context
	dagState       *DagState
	leaderSchedule *LeaderSchedule
	logger         *logrus.Entry
}

func NewLinearizer(context *Context, dagState *DagState, leaderSchedule *LeaderSchedule) *Linearizer {
	return &Linearizer{
		context:        context,
		dagState:       dagState,
		leaderSchedule: leaderSchedule,
		logger:         context.moduleLogger("linearizer"),
	}
}

// linearizeSubDag collects every not yet committed block reachable from the
// leader above the gc round, marks them committed and orders them by
// (round, author).
func (l *Linearizer) linearizeSubDag(leader *types.VerifiedBlock) []*types.VerifiedBlock {
	gcRound := l.dagState.GcRound()
	if !l.dagState.SetCommitted(leader.Ref()) {
		l.logger.WithField("leader", leader.Ref()).Panic("leader block committed twice")
	}
	buffer := []*types.VerifiedBlock{leader}
	var toCommit []*types.VerifiedBlock
	for len(buffer) > 0 {
		x := buffer[len(buffer)-1]
		buffer = buffer[:len(buffer)-1]
		toCommit = append(toCommit, x)

		var refs []types.BlockRef
		for _, a := range x.Ancestors() {
			if a.Round > gcRound && !l.dagState.IsCommitted(a) {
				refs = append(refs, a)
			}
		}
		for i, ancestor := range l.dagState.GetBlocks(refs) {
			if ancestor == nil {
				l.logger.WithField("block", refs[i]).Panic("uncommitted ancestor missing from dag")
			}
			if !l.dagState.SetCommitted(ancestor.Ref()) {
				l.logger.WithField("block", ancestor.Ref()).Panic("block committed twice")
			}
			buffer = append(buffer, ancestor)
		}
	}
	sort.Slice(toCommit, func(i, j int) bool { return toCommit[i].Ref().Less(toCommit[j].Ref()) })
	return toCommit
}

// LinearizeSubDag rebuilds the sub dag of an existing commit. The walk starts
// at the leader and stays inside the commit's blocks, so committed flags are
// not consulted and the output is the same every time.
func (l *Linearizer) LinearizeSubDag(commit *types.TrustedCommit) (*types.CommittedSubDag, error) {
	boundary := make(map[types.BlockRef]bool, len(commit.Blocks()))
	for _, r := range commit.Blocks() {
		boundary[r] = true
	}
	leader := commit.Leader()
	if !boundary[leader] {
		return nil, fmt.Errorf("%w: commit %d lacks its leader %s", ErrInconsistentCommit, commit.Index(), leader)
	}
	visited := map[types.BlockRef]bool{leader: true}
	buffer := []types.BlockRef{leader}
	blocks := make([]*types.VerifiedBlock, 0, len(boundary))
	for len(buffer) > 0 {
		ref := buffer[len(buffer)-1]
		buffer = buffer[:len(buffer)-1]
		block := l.dagState.GetBlock(ref)
		if block == nil {
			return nil, fmt.Errorf("commit %d: block %s not found", commit.Index(), ref)
		}
		blocks = append(blocks, block)
		for _, a := range block.Ancestors() {
			if boundary[a] && !visited[a] {
				visited[a] = true
				buffer = append(buffer, a)
			}
		}
	}
	if len(blocks) != len(boundary) {
		return nil, fmt.Errorf("%w: commit %d reaches %d of %d blocks", ErrInconsistentCommit,
			commit.Index(), len(blocks), len(boundary))
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Ref().Less(blocks[j].Ref()) })
	return &types.CommittedSubDag{
		Leader:           leader,
		Blocks:           blocks,
		TimestampMs:      commit.TimestampMs(),
		CommitRef:        commit.Reference(),
		ReputationScores: l.leaderSchedule.ScoresAt(leader.Round),
	}, nil
}

// HandleCommit builds and buffers the commit of every leader, in order.
func (l *Linearizer) HandleCommit(leaders []*types.VerifiedBlock) []*types.CommittedSubDag {
	subDags := make([]*types.CommittedSubDag, 0, len(leaders))
	for _, leader := range leaders {
		lastTimestamp := l.dagState.LastCommitTimestampMs()
		timestamp := leader.TimestampMs()
		if timestamp < lastTimestamp {
			timestamp = lastTimestamp
		}
		blocks := l.linearizeSubDag(leader)
		refs := make([]types.BlockRef, len(blocks))
		for i, b := range blocks {
			refs[i] = b.Ref()
		}
		commit, err := types.NewTrustedCommit(&types.Commit{
			Index:          l.dagState.LastCommitIndex() + 1,
			PreviousDigest: l.dagState.LastCommitDigest(),
			TimestampMs:    timestamp,
			Leader:         leader.Ref(),
			Blocks:         refs,
		})
		if err != nil {
			l.logger.WithError(err).Panic("failed to serialize commit")
		}
		l.dagState.AddCommit(commit)
		subDags = append(subDags, &types.CommittedSubDag{
			Leader:           leader.Ref(),
			Blocks:           blocks,
			TimestampMs:      timestamp,
			CommitRef:        commit.Reference(),
			ReputationScores: l.leaderSchedule.ScoresAt(leader.Round()),
		})
		l.logger.WithFields(logrus.Fields{
			"index":  commit.Index(),
			"leader": leader.Ref(),
			"blocks": len(blocks),
		}).Debug("sub dag linearized")
	}
	return subDags
}
