package consensus_interface

import (
	"context"

	"github.com/annchain/dagconsensus/types"
)

// NetworkClient is the outbound side of the transport. Peers are addressed by
// their committee index and the transport authenticates the sender.
type NetworkClient interface {
	// SendBlock pushes a serialized signed block to one peer.
	SendBlock(ctx context.Context, peer types.AuthorityIndex, serializedBlock []byte) error
	// FetchBlocks asks one peer for the given blocks, answers are serialized blocks.
	FetchBlocks(ctx context.Context, peer types.AuthorityIndex, refs []types.BlockRef) ([][]byte, error)
}

// NetworkService is the inbound side, implemented by the consensus core.
type NetworkService interface {
	HandleSendBlock(ctx context.Context, peer types.AuthorityIndex, serializedBlock []byte) error
	HandleFetchBlocks(ctx context.Context, peer types.AuthorityIndex, refs []types.BlockRef) ([][]byte, error)
}

type NetworkManager interface {
	Client() NetworkClient
	InstallService(service NetworkService)
	Start()
	Stop()
	Name() string
}

// TransactionVerifier is plugged in by the host to check transaction content.
type TransactionVerifier interface {
	VerifyBatch(batch []types.Transaction) error
}

// WriteBatch groups everything that must become durable together.
type WriteBatch struct {
	Blocks           []*types.VerifiedBlock
	Commits          []*types.TrustedCommit
	ScheduleVersions []types.ScheduleVersion
}

func (w WriteBatch) Empty() bool {
	return len(w.Blocks) == 0 && len(w.Commits) == 0 && len(w.ScheduleVersions) == 0
}

// Store is the durable block and commit storage used for crash recovery.
// Reads must observe every completed Write.
type Store interface {
	Write(batch WriteBatch) error
	// ReadBlocks returns one entry per ref, nil when the block is unknown.
	ReadBlocks(refs []types.BlockRef) ([]*types.VerifiedBlock, error)
	ContainsBlocks(refs []types.BlockRef) ([]bool, error)
	// ScanBlocksByAuthor returns blocks of the author with round >= startRound, ordered by round.
	ScanBlocksByAuthor(author types.AuthorityIndex, startRound types.Round) ([]*types.VerifiedBlock, error)
	// ReadLastBlockRefByAuthor returns false when the author has no stored block.
	ReadLastBlockRefByAuthor(author types.AuthorityIndex) (types.BlockRef, bool, error)
	// ReadLastCommit returns nil when nothing has been committed.
	ReadLastCommit() (*types.TrustedCommit, error)
	// ScanCommits returns commits with start <= index <= end.
	ScanCommits(start types.CommitIndex, end types.CommitIndex) ([]*types.TrustedCommit, error)
	ReadScheduleVersions() ([]types.ScheduleVersion, error)
	Close() error
}
