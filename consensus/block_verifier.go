package consensus

import (
	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/types"
)

// BlockVerifier validates blocks received from peers before they reach the
// block manager.
type BlockVerifier interface {
	Verify(block *types.SignedBlock) error
}

type SignedBlockVerifier struct {
	context             *Context
	transactionVerifier consensus_interface.TransactionVerifier
	genesis             map[types.BlockRef]struct{}
}

func NewSignedBlockVerifier(context *Context, txVerifier consensus_interface.TransactionVerifier) *SignedBlockVerifier {
	genesis := make(map[types.BlockRef]struct{})
	for _, b := range types.GenesisBlocks(context.Epoch(), context.Committee.Size()) {
		genesis[b.Ref()] = struct{}{}
	}
	if txVerifier == nil {
		txVerifier = NoopTransactionVerifier{}
	}
	return &SignedBlockVerifier{
		context:             context,
		transactionVerifier: txVerifier,
		genesis:             genesis,
	}
}

func (v *SignedBlockVerifier) Verify(signed *types.SignedBlock) error {
	c := v.context.Committee
	params := v.context.Parameters
	block := &signed.Block

	if block.Epoch != c.Epoch() {
		return verificationError(VerificationWrongEpoch, "block epoch %d, committee epoch %d", block.Epoch, c.Epoch())
	}
	if !c.IsValidIndex(block.Author) {
		return verificationError(VerificationUnknownAuthority, "author %d", block.Author)
	}
	if block.Round == types.GenesisRound {
		return verificationError(VerificationGenesisRound, "")
	}
	authority, err := c.Authority(block.Author)
	if err != nil {
		return verificationError(VerificationUnknownAuthority, "author %d", block.Author)
	}
	if !signed.VerifySignature(v.context.Signer, authority.PublicKey) {
		return verificationError(VerificationInvalidSignature, "block %s", block.Slot())
	}

	if len(block.Ancestors) == 0 || len(block.Ancestors) > c.Size() {
		return verificationError(VerificationTooManyAncestors, "%d ancestors", len(block.Ancestors))
	}
	seen := make(map[types.AuthorityIndex]struct{}, len(block.Ancestors))
	parentStake := committee.NewStakeAggregator(committee.QuorumThreshold)
	for i, ancestor := range block.Ancestors {
		if !c.IsValidIndex(ancestor.Author) {
			return verificationError(VerificationUnknownAuthority, "ancestor author %d", ancestor.Author)
		}
		if _, ok := seen[ancestor.Author]; ok {
			return verificationError(VerificationDuplicateAncestorAuthor, "authority %d", ancestor.Author)
		}
		seen[ancestor.Author] = struct{}{}
		if ancestor.Round >= block.Round {
			return verificationError(VerificationInvalidAncestorRound, "ancestor %s in block round %d", ancestor, block.Round)
		}
		if i == 0 && ancestor.Author != block.Author {
			return verificationError(VerificationInvalidAncestorPosition, "first ancestor %s", ancestor)
		}
		if ancestor.Round == types.GenesisRound {
			if _, ok := v.genesis[ancestor]; !ok {
				return verificationError(VerificationInvalidGenesisAncestor, "%s", ancestor)
			}
		}
		if ancestor.Round+1 == block.Round {
			parentStake.Add(ancestor.Author, c)
		}
	}
	if !parentStake.Reached(c) {
		return verificationError(VerificationInsufficientParentStake, "stake %d, quorum %d", parentStake.Stake(), c.QuorumThreshold())
	}

	if len(block.Transactions) > params.MaxNumTransactionsInBlock {
		return verificationError(VerificationTooManyTransactions, "%d transactions", len(block.Transactions))
	}
	if size := block.TransactionsBytes(); size > params.MaxTransactionsInBlockBytes {
		return verificationError(VerificationTransactionsTooLarge, "%d bytes", size)
	}
	for _, tx := range block.Transactions {
		if len(tx) > params.MaxTransactionSizeBytes {
			return verificationError(VerificationTransactionsTooLarge, "transaction of %d bytes", len(tx))
		}
	}
	if err := v.transactionVerifier.VerifyBatch(block.Transactions); err != nil {
		return verificationError(VerificationInvalidTransactions, "%v", err)
	}

	maxTimestamp := v.context.Clock.TimestampMs() + uint64(params.MaxForwardTimeDrift.Milliseconds())
	if block.TimestampMs > maxTimestamp {
		return verificationError(VerificationTimestampInFuture, "timestamp %d, limit %d", block.TimestampMs, maxTimestamp)
	}
	return nil
}

// NoopTransactionVerifier accepts every batch.
type NoopTransactionVerifier struct{}

func (NoopTransactionVerifier) VerifyBatch([]types.Transaction) error { return nil }
