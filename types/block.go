// Copyright © 2019 Annchain Authors <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/annchain/dagconsensus/common/crypto"
	"golang.org/x/crypto/sha3"
)

//go:generate msgp -io=false
//msgp:tuple Block SignedBlock

var ErrNonCanonicalEncoding = errors.New("block is not canonically encoded")

// Transaction is an opaque payload, its content is checked by the host.
type Transaction []byte

// Block is the unsigned content proposed by one authority in one round.
type Block struct {
	Epoch        uint64
	Round        Round
	Author       AuthorityIndex
	TimestampMs  uint64
	Ancestors    []BlockRef
	Transactions []Transaction
}

type SignedBlock struct {
	Block     Block
	Signature []byte
}

func (b *Block) Slot() Slot {
	return Slot{Round: b.Round, Authority: b.Author}
}

// SigningDigest is the message covered by the author signature.
func (b *Block) SigningDigest() ([]byte, error) {
	bts, err := b.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}
	d := sha3.Sum256(bts)
	return d[:], nil
}

func (b *Block) TransactionsBytes() (n int) {
	for _, tx := range b.Transactions {
		n += len(tx)
	}
	return
}

func (b *Block) String() string {
	return fmt.Sprintf("Block[r=%d a=%d ts=%d anc=%d txs=%d]", b.Round, b.Author, b.TimestampMs,
		len(b.Ancestors), len(b.Transactions))
}

// SignBlock signs the block content with the author key.
func SignBlock(block Block, signer crypto.Signer, privKey crypto.PrivateKey) (*SignedBlock, error) {
	msg, err := block.SigningDigest()
	if err != nil {
		return nil, err
	}
	sig := signer.Sign(privKey, msg)
	return &SignedBlock{Block: block, Signature: sig.Bytes}, nil
}

func (s *SignedBlock) VerifySignature(signer crypto.Signer, pubKey crypto.PublicKey) bool {
	msg, err := s.Block.SigningDigest()
	if err != nil {
		return false
	}
	return signer.Verify(pubKey, crypto.SignatureFromBytes(signer.GetCryptoType(), s.Signature), msg)
}

// VerifiedBlock is an immutable signed block together with its serialized
// form and reference. Once built it is shared by pointer and never modified.
type VerifiedBlock struct {
	signed     *SignedBlock
	serialized []byte
	ref        BlockRef
}

func NewVerifiedBlock(signed *SignedBlock) (*VerifiedBlock, error) {
	serialized, err := signed.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}
	return newVerifiedBlock(signed, serialized), nil
}

// NewVerifiedBlockFromBytes decodes a serialized signed block. Only the
// canonical encoding is accepted so that a block has exactly one digest.
func NewVerifiedBlockFromBytes(serialized []byte) (*VerifiedBlock, error) {
	signed := &SignedBlock{}
	rest, err := signed.UnmarshalMsg(serialized)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after block", len(rest))
	}
	canonical, err := signed.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(canonical, serialized) {
		return nil, ErrNonCanonicalEncoding
	}
	return newVerifiedBlock(signed, canonical), nil
}

func newVerifiedBlock(signed *SignedBlock, serialized []byte) *VerifiedBlock {
	digest := BlockDigest(sha3.Sum256(serialized))
	return &VerifiedBlock{
		signed:     signed,
		serialized: serialized,
		ref:        BlockRef{Round: signed.Block.Round, Author: signed.Block.Author, Digest: digest},
	}
}

func (v *VerifiedBlock) Ref() BlockRef               { return v.ref }
func (v *VerifiedBlock) Digest() BlockDigest         { return v.ref.Digest }
func (v *VerifiedBlock) Round() Round                { return v.ref.Round }
func (v *VerifiedBlock) Author() AuthorityIndex      { return v.ref.Author }
func (v *VerifiedBlock) Slot() Slot                  { return v.ref.Slot() }
func (v *VerifiedBlock) Epoch() uint64               { return v.signed.Block.Epoch }
func (v *VerifiedBlock) TimestampMs() uint64         { return v.signed.Block.TimestampMs }
func (v *VerifiedBlock) Ancestors() []BlockRef       { return v.signed.Block.Ancestors }
func (v *VerifiedBlock) Transactions() []Transaction { return v.signed.Block.Transactions }
func (v *VerifiedBlock) Signed() *SignedBlock        { return v.signed }
func (v *VerifiedBlock) Serialized() []byte          { return v.serialized }

func (v *VerifiedBlock) String() string {
	return fmt.Sprintf("%s ts=%d anc=[%s] txs=%d", v.ref, v.TimestampMs(),
		BlockRefsToString(v.Ancestors()), len(v.Transactions()))
}

// GenesisBlocks builds the unsigned round 0 block of every authority.
func GenesisBlocks(epoch uint64, committeeSize int) []*VerifiedBlock {
	blocks := make([]*VerifiedBlock, 0, committeeSize)
	for i := 0; i < committeeSize; i++ {
		signed := &SignedBlock{
			Block: Block{
				Epoch:  epoch,
				Round:  GenesisRound,
				Author: AuthorityIndex(i),
			},
		}
		vb, err := NewVerifiedBlock(signed)
		if err != nil {
			panic(err)
		}
		blocks = append(blocks, vb)
	}
	return blocks
}
