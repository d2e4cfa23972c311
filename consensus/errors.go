package consensus

import (
	"errors"
	"fmt"
)

var (
	ErrShutdown           = errors.New("consensus is shutting down")
	ErrSynchronizerBusy   = errors.New("synchronizer fetch queue is full")
	ErrTooManyFetchRefs   = errors.New("too many blocks requested")
	ErrNoAvailablePeer    = errors.New("no peer available to fetch from")
	ErrUnexpectedBlock    = errors.New("fetched block was not requested")
	ErrTransactionClosed  = errors.New("transaction client is closed")
	ErrInconsistentCommit = errors.New("commit blocks do not form the leader's sub dag")
)

type VerificationErrorKind int

const (
	VerificationMalformed VerificationErrorKind = iota
	VerificationWrongEpoch
	VerificationUnknownAuthority
	VerificationWrongSender
	VerificationGenesisRound
	VerificationInvalidSignature
	VerificationTooManyAncestors
	VerificationDuplicateAncestorAuthor
	VerificationInvalidAncestorRound
	VerificationInvalidAncestorPosition
	VerificationInvalidGenesisAncestor
	VerificationInsufficientParentStake
	VerificationTooManyTransactions
	VerificationTransactionsTooLarge
	VerificationInvalidTransactions
	VerificationTimestampInFuture
)

var verificationErrorNames = map[VerificationErrorKind]string{
	VerificationMalformed:               "malformed block",
	VerificationWrongEpoch:              "wrong epoch",
	VerificationUnknownAuthority:        "unknown authority",
	VerificationWrongSender:             "block not sent by its author",
	VerificationGenesisRound:            "genesis round is not accepted from peers",
	VerificationInvalidSignature:        "invalid signature",
	VerificationTooManyAncestors:        "too many ancestors",
	VerificationDuplicateAncestorAuthor: "more than one ancestor from the same authority",
	VerificationInvalidAncestorRound:    "ancestor round is not below block round",
	VerificationInvalidAncestorPosition: "first ancestor must be the author's own previous block",
	VerificationInvalidGenesisAncestor:  "unknown genesis ancestor",
	VerificationInsufficientParentStake: "ancestors of the previous round do not reach quorum",
	VerificationTooManyTransactions:     "too many transactions",
	VerificationTransactionsTooLarge:    "transactions too large",
	VerificationInvalidTransactions:     "transactions rejected by verifier",
	VerificationTimestampInFuture:       "timestamp too far in the future",
}

func (k VerificationErrorKind) String() string {
	if s, ok := verificationErrorNames[k]; ok {
		return s
	}
	return fmt.Sprintf("verification error %d", int(k))
}

// BlockVerificationError rejects a single block. It never stops the node.
type BlockVerificationError struct {
	Kind   VerificationErrorKind
	Detail string
}

func (e *BlockVerificationError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

// Is matches any verification error of the same kind.
func (e *BlockVerificationError) Is(target error) bool {
	t, ok := target.(*BlockVerificationError)
	return ok && t.Kind == e.Kind
}

func verificationError(kind VerificationErrorKind, format string, args ...interface{}) error {
	return &BlockVerificationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func IsVerificationError(err error) bool {
	var v *BlockVerificationError
	return errors.As(err, &v)
}
