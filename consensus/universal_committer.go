package consensus

import (
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
)

// UniversalCommitter combines one BaseCommitter per (round offset, leader
// offset). With pipelining every round is a leader round.
type UniversalCommitter struct {
	context    *Context
	dagState   *DagState
	committers []*BaseCommitter
	logger     *logrus.Entry
}

func NewUniversalCommitter(context *Context, leaderSchedule *LeaderSchedule, dagState *DagState) *UniversalCommitter {
	params := context.Parameters
	pipeline := uint32(1)
	if params.Pipeline {
		pipeline = params.WaveLength
	}
	u := &UniversalCommitter{
		context:  context,
		dagState: dagState,
		logger:   context.moduleLogger("universal_committer"),
	}
	for roundOffset := uint32(0); roundOffset < pipeline; roundOffset++ {
		for leaderOffset := 0; leaderOffset < params.NumLeadersPerRound; leaderOffset++ {
			u.committers = append(u.committers, NewBaseCommitter(context, leaderSchedule, dagState, BaseCommitterOptions{
				WaveLength:   params.WaveLength,
				LeaderOffset: uint32(leaderOffset),
				RoundOffset:  roundOffset,
			}))
		}
	}
	return u
}

// TryDecide returns the longest prefix of decided leaders after lastDecided,
// in (round, leader offset) order.
func (u *UniversalCommitter) TryDecide(lastDecided types.Slot) []LeaderStatus {
	highest := u.dagState.HighestAcceptedRound()
	if highest < 2 || highest-2 < lastDecided.Round {
		return nil
	}
	// leaders holds the statuses of rounds above the current one, ascending.
	var leaders []LeaderStatus
outer:
	for round := highest - 2; ; round-- {
		for i := len(u.committers) - 1; i >= 0; i-- {
			committer := u.committers[i]
			slot, ok := committer.ElectLeader(round)
			if !ok {
				continue
			}
			if slot == lastDecided {
				break outer
			}
			status := committer.TryDirectDecide(slot)
			if !status.IsDecided() {
				status = committer.TryIndirectDecide(slot, leaders)
			}
			u.logger.WithFields(logrus.Fields{
				"slot":   slot,
				"status": status,
			}).Trace("leader status")
			leaders = append([]LeaderStatus{status}, leaders...)
		}
		if round == lastDecided.Round || round == types.GenesisRound {
			break
		}
	}

	var decided []LeaderStatus
	for _, status := range leaders {
		if status.Round() == types.GenesisRound {
			continue
		}
		if !status.IsDecided() {
			break
		}
		decided = append(decided, status)
	}
	return decided
}

// GetLeaders returns the leader slots of round, one per leader offset.
func (u *UniversalCommitter) GetLeaders(round types.Round) []types.Slot {
	var slots []types.Slot
	for _, c := range u.committers {
		if slot, ok := c.ElectLeader(round); ok {
			slots = append(slots, slot)
		}
	}
	return slots
}
