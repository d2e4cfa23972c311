package consensus

import (
	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/eventbus"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
)

// CommitObserver turns decided leaders into persisted commits and hands the
// resulting sub dags to the execution layer.
type CommitObserver struct {
	context        *Context
	dagState       *DagState
	store          consensus_interface.Store
	linearizer     *Linearizer
	leaderSchedule *LeaderSchedule
	scorer         *ReputationScorer
	eventBus       eventbus.EventBus
	forwarder      *commitForwarder
	logger         *logrus.Entry
}

func NewCommitObserver(context *Context, dagState *DagState, store consensus_interface.Store,
	leaderSchedule *LeaderSchedule, scorer *ReputationScorer, eventBus eventbus.EventBus,
	consumer *CommitConsumer) *CommitObserver {
	o := &CommitObserver{
		context:        context,
		dagState:       dagState,
		store:          store,
		linearizer:     NewLinearizer(context, dagState, leaderSchedule),
		leaderSchedule: leaderSchedule,
		scorer:         scorer,
		eventBus:       eventBus,
		forwarder:      newCommitForwarder(consumer.Sender),
		logger:         context.moduleLogger("commit_observer"),
	}
	o.recoverScores()
	o.RecoverAndSendCommits(consumer.LastProcessedCommitIndex)
	return o
}

// HandleCommit persists the commits of the given leaders before any of them
// leaves this authority.
func (o *CommitObserver) HandleCommit(leaders []*types.VerifiedBlock) []*types.CommittedSubDag {
	subDags := o.linearizer.HandleCommit(leaders)
	o.dagState.Flush()
	for _, s := range subDags {
		o.scorer.AddSubDag(s)
		o.logger.WithFields(logrus.Fields{
			"commit": s.CommitRef,
			"leader": s.Leader,
			"blocks": len(s.Blocks),
		}).Info("committed")
		if o.eventBus != nil {
			o.eventBus.Route(&eventbus.CommitEvent{SubDag: s})
		}
	}
	o.forwarder.push(subDags...)
	return subDags
}

// RecoverAndSendCommits replays stored commits after lastProcessed.
func (o *CommitObserver) RecoverAndSendCommits(lastProcessed types.CommitIndex) {
	last, err := o.store.ReadLastCommit()
	if err != nil {
		o.logger.WithError(err).Panic("failed to read last commit")
	}
	if last == nil || last.Index() == lastProcessed {
		return
	}
	if lastProcessed > last.Index() {
		o.logger.WithFields(logrus.Fields{
			"processed": lastProcessed,
			"last":      last.Index(),
		}).Panic("consumer is ahead of the stored commits")
	}
	commits, err := o.store.ScanCommits(lastProcessed+1, last.Index())
	if err != nil {
		o.logger.WithError(err).Panic("failed to scan commits")
	}
	next := lastProcessed + 1
	for _, c := range commits {
		if c.Index() != next {
			o.logger.WithFields(logrus.Fields{
				"expected": next,
				"got":      c.Index(),
			}).Panic("stored commits are not continuous")
		}
		o.forwarder.push(o.loadSubDag(c))
		next++
	}
	o.logger.WithFields(logrus.Fields{
		"from": lastProcessed + 1,
		"to":   last.Index(),
	}).Info("replayed commits to consumer")
}

func (o *CommitObserver) loadSubDag(c *types.TrustedCommit) *types.CommittedSubDag {
	subDag, err := o.linearizer.LinearizeSubDag(c)
	if err != nil {
		o.logger.WithError(err).Panic("failed to load committed sub dag")
	}
	return subDag
}

// recoverScores replays the commits of the unfinished scoring window.
func (o *CommitObserver) recoverScores() {
	lastIndex := o.dagState.LastCommitIndex()
	if lastIndex == types.GenesisCommitIndex {
		return
	}
	window := types.CommitIndex(o.context.Parameters.LeaderScoringWindow)
	inWindow := lastIndex % window
	if inWindow == 0 {
		// the window closed with the last commit; replay it unless the
		// schedule update made it to storage
		lastLeader := o.dagState.LastCommitLeader()
		if o.leaderSchedule.LastVersion().StartRound > lastLeader.Round {
			return
		}
		inWindow = window
	}
	commits, err := o.store.ScanCommits(lastIndex-inWindow+1, lastIndex)
	if err != nil {
		o.logger.WithError(err).Panic("failed to scan commits")
	}
	for _, c := range commits {
		o.scorer.AddSubDag(o.loadSubDag(c))
	}
	o.logger.WithField("commits", len(commits)).Debug("recovered reputation scores")
}

func (o *CommitObserver) PendingDeliveries() int {
	return o.forwarder.pending()
}

func (o *CommitObserver) Stop() {
	o.forwarder.stop()
}
