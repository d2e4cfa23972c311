package consensus

import (
	"github.com/annchain/dagconsensus/types"
)

// Status is a point in time summary of one authority, served over rpc.
type Status struct {
	Authority             types.AuthorityIndex   `json:"authority"`
	Epoch                 uint64                 `json:"epoch"`
	ClockRound            types.Round            `json:"clock_round"`
	LastProposedRound     types.Round            `json:"last_proposed_round"`
	LastDecidedLeader     types.Slot             `json:"last_decided_leader"`
	HighestAcceptedRound  types.Round            `json:"highest_accepted_round"`
	GcRound               types.Round            `json:"gc_round"`
	LastCommitIndex       types.CommitIndex      `json:"last_commit_index"`
	LastCommitLeader      types.Slot             `json:"last_commit_leader"`
	SuspendedBlocks       int                    `json:"suspended_blocks"`
	MissingBlocks         int                    `json:"missing_blocks"`
	InflightTransactions  int                    `json:"inflight_transaction_blocks"`
	PendingCommits        int                    `json:"pending_commits"`
	Equivocators          []types.AuthorityIndex `json:"equivocators"`
	HighestReceivedRounds []types.Round          `json:"highest_received_rounds"`
	HighestAcceptedRounds []types.Round          `json:"highest_accepted_rounds"`
	LeaderScores          []uint64               `json:"leader_scores"`
	CurrentScores         []uint64               `json:"current_scores"`
}
