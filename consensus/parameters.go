package consensus

import (
	"errors"
	"fmt"
	"time"
)

// Parameters are the operational knobs of one authority. They are read once
// at startup and never change during an epoch.
type Parameters struct {
	// Proposal pacing.
	LeaderTimeout       time.Duration
	MinRoundDelay       time.Duration
	MaxForwardTimeDrift time.Duration

	// Block content limits.
	MaxTransactionsInBlockBytes int
	MaxNumTransactionsInBlock   int
	MaxTransactionSizeBytes     int
	TransactionQueueSize        int

	// DAG retention.
	GcDepth uint32

	// Commit rule.
	WaveLength         uint32
	NumLeadersPerRound int
	Pipeline           bool

	// Leader schedule.
	LeaderSwapStrategy     LeaderSwapStrategy
	ScoringStrategy        ScoringStrategy
	LeaderScoringWindow    uint32
	LeaderMinWeightPercent uint64

	// Ancestor selection.
	AncestorStalenessRounds uint32

	// Block manager.
	MaxSuspendedBlocks    int
	SuspendedBlockTimeout time.Duration

	CommandQueueSize int

	// Synchronizer.
	MaxBlocksPerFetch    int
	FetchQueueSize       int
	FetchConcurrency     int
	FetchTimeout         time.Duration
	FetchMaxRetries      int
	FetchBackoffInitial  time.Duration
	FetchBackoffMax      time.Duration
	FetchDedupExpiration time.Duration
	SyncInterval         time.Duration

	// Broadcaster.
	BroadcastQueueSize int
	BroadcastTimeout   time.Duration
	BroadcastRetries   int

	// Peer penalties.
	PeerPenaltyThreshold  int
	PeerPenaltyExpiration time.Duration
}

func DefaultParameters() Parameters {
	return Parameters{
		LeaderTimeout:       250 * time.Millisecond,
		MinRoundDelay:       50 * time.Millisecond,
		MaxForwardTimeDrift: 500 * time.Millisecond,

		MaxTransactionsInBlockBytes: 512 * 1024,
		MaxNumTransactionsInBlock:   512,
		MaxTransactionSizeBytes:     256 * 1024,
		TransactionQueueSize:        4096,

		GcDepth: 50,

		WaveLength:         3,
		NumLeadersPerRound: 1,
		Pipeline:           true,

		LeaderSwapStrategy:     LeaderSwapReputationWeighted,
		ScoringStrategy:        ScoringVote,
		LeaderScoringWindow:    300,
		LeaderMinWeightPercent: 10,

		AncestorStalenessRounds: 20,

		MaxSuspendedBlocks:    10000,
		SuspendedBlockTimeout: 60 * time.Second,

		CommandQueueSize: 1024,

		MaxBlocksPerFetch:    1000,
		FetchQueueSize:       256,
		FetchConcurrency:     8,
		FetchTimeout:         2 * time.Second,
		FetchMaxRetries:      5,
		FetchBackoffInitial:  100 * time.Millisecond,
		FetchBackoffMax:      2 * time.Second,
		FetchDedupExpiration: 2 * time.Second,
		SyncInterval:         time.Second,

		BroadcastQueueSize: 64,
		BroadcastTimeout:   2 * time.Second,
		BroadcastRetries:   3,

		PeerPenaltyThreshold:  10,
		PeerPenaltyExpiration: time.Minute,
	}
}

const MinimumWaveLength uint32 = 3

func (p *Parameters) Validate(committeeSize int) error {
	if p.WaveLength < MinimumWaveLength {
		return fmt.Errorf("wave length %d is below the minimum %d", p.WaveLength, MinimumWaveLength)
	}
	if p.NumLeadersPerRound < 1 || p.NumLeadersPerRound > committeeSize {
		return fmt.Errorf("number of leaders per round %d must be within [1, %d]", p.NumLeadersPerRound, committeeSize)
	}
	if p.LeaderScoringWindow == 0 {
		return errors.New("leader scoring window must be positive")
	}
	if p.LeaderMinWeightPercent < 1 || p.LeaderMinWeightPercent > 100 {
		return fmt.Errorf("leader min weight percent %d must be within [1, 100]", p.LeaderMinWeightPercent)
	}
	if p.GcDepth == 0 {
		return errors.New("gc depth must be positive")
	}
	if p.MaxNumTransactionsInBlock <= 0 || p.MaxTransactionsInBlockBytes <= 0 {
		return errors.New("block transaction limits must be positive")
	}
	if p.MaxTransactionSizeBytes <= 0 || p.MaxTransactionSizeBytes > p.MaxTransactionsInBlockBytes {
		return fmt.Errorf("max transaction size %d must be within (0, %d]", p.MaxTransactionSizeBytes, p.MaxTransactionsInBlockBytes)
	}
	if p.FetchConcurrency <= 0 || p.MaxBlocksPerFetch <= 0 || p.FetchQueueSize <= 0 {
		return errors.New("synchronizer limits must be positive")
	}
	if p.CommandQueueSize <= 0 || p.BroadcastQueueSize <= 0 || p.TransactionQueueSize <= 0 {
		return errors.New("queue sizes must be positive")
	}
	return nil
}
