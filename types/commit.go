package types

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

//go:generate msgp -io=false
//msgp:tuple Commit ScheduleVersion

// CommitIndex counts commits, not rounds. The first commit has index 1.
type CommitIndex uint32

const GenesisCommitIndex CommitIndex = 0

type CommitDigest [DigestLength]byte

func (d CommitDigest) String() string { return BlockDigest(d).String() }

func (d CommitDigest) Hex() string { return BlockDigest(d).Hex() }

// Commit records one committed leader and the blocks linearized with it.
type Commit struct {
	Index          CommitIndex
	PreviousDigest CommitDigest
	TimestampMs    uint64
	Leader         BlockRef
	Blocks         []BlockRef
}

type CommitRef struct {
	Index  CommitIndex
	Digest CommitDigest
}

func (r CommitRef) String() string {
	return fmt.Sprintf("C%d(%s)", r.Index, r.Digest)
}

// TrustedCommit is a commit produced locally or read back from storage.
type TrustedCommit struct {
	commit     *Commit
	serialized []byte
	digest     CommitDigest
}

func NewTrustedCommit(commit *Commit) (*TrustedCommit, error) {
	serialized, err := commit.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}
	return &TrustedCommit{
		commit:     commit,
		serialized: serialized,
		digest:     CommitDigest(sha3.Sum256(serialized)),
	}, nil
}

func TrustedCommitFromBytes(serialized []byte) (*TrustedCommit, error) {
	commit := &Commit{}
	if _, err := commit.UnmarshalMsg(serialized); err != nil {
		return nil, err
	}
	return &TrustedCommit{
		commit:     commit,
		serialized: serialized,
		digest:     CommitDigest(sha3.Sum256(serialized)),
	}, nil
}

func (c *TrustedCommit) Index() CommitIndex           { return c.commit.Index }
func (c *TrustedCommit) Leader() BlockRef             { return c.commit.Leader }
func (c *TrustedCommit) Blocks() []BlockRef           { return c.commit.Blocks }
func (c *TrustedCommit) TimestampMs() uint64          { return c.commit.TimestampMs }
func (c *TrustedCommit) PreviousDigest() CommitDigest { return c.commit.PreviousDigest }
func (c *TrustedCommit) Digest() CommitDigest         { return c.digest }
func (c *TrustedCommit) Serialized() []byte           { return c.serialized }
func (c *TrustedCommit) Commit() *Commit              { return c.commit }

func (c *TrustedCommit) Reference() CommitRef {
	return CommitRef{Index: c.commit.Index, Digest: c.digest}
}

// CommittedSubDag is what the execution layer consumes: the committed
// leader and every block newly ordered by it.
type CommittedSubDag struct {
	Leader           BlockRef
	Blocks           []*VerifiedBlock
	TimestampMs      uint64
	CommitRef        CommitRef
	ReputationScores []uint64
}

func (s *CommittedSubDag) String() string {
	var refs []string
	for _, b := range s.Blocks {
		refs = append(refs, b.Ref().String())
	}
	return fmt.Sprintf("SubDag(%s leader=%s ts=%d blocks=[%s])", s.CommitRef, s.Leader, s.TimestampMs,
		strings.Join(refs, ", "))
}

// ScheduleVersion is one entry of the append-only leader schedule history.
// It applies to rounds >= StartRound until the next version.
type ScheduleVersion struct {
	StartRound Round
	Scores     []uint64
}
