package wserver

import (
	"github.com/annchain/dagconsensus/types"
)

const (
	TopicCommits   = "commits"
	TopicOwnBlocks = "own_blocks"
)

type BlockRefData struct {
	Round  uint32 `json:"round"`
	Author uint32 `json:"author"`
	Digest string `json:"digest"`
}

// CommitMessage is the JSON pushed for every committed sub dag.
type CommitMessage struct {
	Type         string         `json:"type"`
	Index        uint32         `json:"index"`
	Digest       string         `json:"digest"`
	Leader       BlockRefData   `json:"leader"`
	TimestampMs  uint64         `json:"timestamp_ms"`
	Blocks       []BlockRefData `json:"blocks"`
	Transactions int            `json:"transactions"`
}

type BlockMessage struct {
	Type         string         `json:"type"`
	Block        BlockRefData   `json:"block"`
	TimestampMs  uint64         `json:"timestamp_ms"`
	Ancestors    []BlockRefData `json:"ancestors"`
	Transactions int            `json:"transactions"`
}

func refData(ref types.BlockRef) BlockRefData {
	return BlockRefData{
		Round:  uint32(ref.Round),
		Author: uint32(ref.Author),
		Digest: ref.Digest.Hex(),
	}
}

func commitMessage(s *types.CommittedSubDag) *CommitMessage {
	m := &CommitMessage{
		Type:        TopicCommits,
		Index:       uint32(s.CommitRef.Index),
		Digest:      s.CommitRef.Digest.Hex(),
		Leader:      refData(s.Leader),
		TimestampMs: s.TimestampMs,
		Blocks:      make([]BlockRefData, 0, len(s.Blocks)),
	}
	for _, b := range s.Blocks {
		m.Blocks = append(m.Blocks, refData(b.Ref()))
		m.Transactions += len(b.Transactions())
	}
	return m
}

func blockMessage(b *types.VerifiedBlock) *BlockMessage {
	m := &BlockMessage{
		Type:         TopicOwnBlocks,
		Block:        refData(b.Ref()),
		TimestampMs:  b.TimestampMs(),
		Transactions: len(b.Transactions()),
	}
	for _, a := range b.Ancestors() {
		m.Ancestors = append(m.Ancestors, refData(a))
	}
	return m
}
