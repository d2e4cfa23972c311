package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

//go:generate msgp -io=false
//msgp:tuple BlockRef

// Round is the logical time step of the DAG.
type Round uint32

// AuthorityIndex is the position of a validator in the committee.
type AuthorityIndex uint32

const GenesisRound Round = 0

const DigestLength = 32

// BlockDigest is the sha3-256 hash of a serialized signed block.
type BlockDigest [DigestLength]byte

var MinBlockDigest = BlockDigest{}
var MaxBlockDigest = BlockDigest{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

func (d BlockDigest) Hex() string { return hex.EncodeToString(d[:]) }

func (d BlockDigest) String() string { return d.Hex()[:10] }

func (d BlockDigest) Compare(o BlockDigest) int { return bytes.Compare(d[:], o[:]) }

// BlockRef identifies a block. Within an epoch the digest alone is unique,
// round and author are carried along so most lookups need no block body.
type BlockRef struct {
	Round  Round
	Author AuthorityIndex
	Digest BlockDigest
}

func NewBlockRef(round Round, author AuthorityIndex, digest BlockDigest) BlockRef {
	return BlockRef{Round: round, Author: author, Digest: digest}
}

// MinRefAtRound returns the smallest possible ref of the given round and author,
// used as a lower bound for range scans.
func MinRefAtRound(round Round, author AuthorityIndex) BlockRef {
	return BlockRef{Round: round, Author: author, Digest: MinBlockDigest}
}

func MaxRefAtRound(round Round, author AuthorityIndex) BlockRef {
	return BlockRef{Round: round, Author: author, Digest: MaxBlockDigest}
}

// Compare orders refs by (round, author, digest).
func (r BlockRef) Compare(o BlockRef) int {
	switch {
	case r.Round < o.Round:
		return -1
	case r.Round > o.Round:
		return 1
	case r.Author < o.Author:
		return -1
	case r.Author > o.Author:
		return 1
	}
	return r.Digest.Compare(o.Digest)
}

func (r BlockRef) Less(o BlockRef) bool { return r.Compare(o) < 0 }

func (r BlockRef) Slot() Slot { return Slot{Round: r.Round, Authority: r.Author} }

func (r BlockRef) String() string {
	return fmt.Sprintf("B%d(%d,%s)", r.Round, r.Author, r.Digest)
}

func BlockRefsToString(refs []BlockRef) string {
	var strs []string
	for _, v := range refs {
		strs = append(strs, v.String())
	}
	return strings.Join(strs, ", ")
}

// Slot is the (round, authority) position used for leader election.
type Slot struct {
	Round     Round
	Authority AuthorityIndex
}

func NewSlot(round Round, authority AuthorityIndex) Slot {
	return Slot{Round: round, Authority: authority}
}

func (s Slot) Less(o Slot) bool {
	if s.Round != o.Round {
		return s.Round < o.Round
	}
	return s.Authority < o.Authority
}

func (s Slot) String() string {
	return fmt.Sprintf("S%d(%d)", s.Round, s.Authority)
}
