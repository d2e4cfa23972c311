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

package consensus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/types"
	"github.com/google/btree"
	"github.com/sirupsen/logrus"
)

const btreeDegree = 16

type blockInfo struct {
	block     *types.VerifiedBlock
	committed bool
}

// DagState is the in-memory view of the accepted DAG above the gc round,
// backed by the store for everything older. Writes are buffered and only
// reach the store on Flush, which is also the only place that evicts.
type DagState struct {
	mu      sync.RWMutex
	context *Context
	store   consensus_interface.Store
	logger  *logrus.Entry

	genesis      map[types.BlockRef]*types.VerifiedBlock
	recentBlocks map[types.BlockRef]*blockInfo
	// recentRefsByAuthority keeps each authority's cached refs ordered by round.
	recentRefsByAuthority []*btree.BTreeG[types.BlockRef]
	lastRefs              []types.BlockRef
	highestAcceptedRound  types.Round

	lastCommit       *types.TrustedCommit
	scheduleVersions []types.ScheduleVersion

	equivocations map[types.Slot][]types.BlockRef

	blocksToWrite   []*types.VerifiedBlock
	commitsToWrite  []*types.TrustedCommit
	versionsToWrite []types.ScheduleVersion
}

// NewDagState rebuilds the cached DAG from the store.
func NewDagState(context *Context, store consensus_interface.Store) *DagState {
	size := context.Committee.Size()
	d := &DagState{
		context:               context,
		store:                 store,
		logger:                context.moduleLogger("dag_state"),
		genesis:               make(map[types.BlockRef]*types.VerifiedBlock),
		recentBlocks:          make(map[types.BlockRef]*blockInfo),
		recentRefsByAuthority: make([]*btree.BTreeG[types.BlockRef], size),
		lastRefs:              make([]types.BlockRef, size),
		equivocations:         make(map[types.Slot][]types.BlockRef),
	}
	for i := range d.recentRefsByAuthority {
		d.recentRefsByAuthority[i] = btree.NewG[types.BlockRef](btreeDegree, types.BlockRef.Less)
	}
	for _, g := range types.GenesisBlocks(context.Epoch(), size) {
		d.genesis[g.Ref()] = g
		d.cacheBlock(g, true)
	}

	lastCommit, err := store.ReadLastCommit()
	if err != nil {
		d.logger.WithError(err).Panic("failed to read last commit")
	}
	d.lastCommit = lastCommit
	versions, err := store.ReadScheduleVersions()
	if err != nil {
		d.logger.WithError(err).Panic("failed to read leader schedule versions")
	}
	d.scheduleVersions = versions

	gcRound := d.gcRound()
	for i := 0; i < size; i++ {
		author := types.AuthorityIndex(i)
		last, ok, err := store.ReadLastBlockRefByAuthor(author)
		if err != nil {
			d.logger.WithError(err).Panic("failed to read last block ref")
		}
		if !ok {
			continue
		}
		// everything above the gc round may still be committed
		start := gcRound + 1
		if start > last.Round {
			start = last.Round
		}
		blocks, err := store.ScanBlocksByAuthor(author, start)
		if err != nil {
			d.logger.WithError(err).Panic("failed to scan blocks")
		}
		for _, b := range blocks {
			d.detectEquivocation(b)
			d.cacheBlock(b, false)
		}
	}
	d.recoverCommittedFlags()

	d.logger.WithFields(logrus.Fields{
		"highestAccepted": d.highestAcceptedRound,
		"lastCommit":      d.lastCommitIndex(),
		"gcRound":         gcRound,
		"cached":          len(d.recentBlocks),
	}).Info("dag state recovered")
	return d
}

// recoverCommittedFlags marks cached blocks committed by recent commits.
func (d *DagState) recoverCommittedFlags() {
	if d.lastCommit == nil {
		return
	}
	gcRound := d.gcRound()
	const chunk = 100
	end := d.lastCommit.Index()
	for end > types.GenesisCommitIndex {
		start := types.CommitIndex(1)
		if end > chunk {
			start = end - chunk + 1
		}
		commits, err := d.store.ScanCommits(start, end)
		if err != nil {
			d.logger.WithError(err).Panic("failed to scan commits")
		}
		for i := len(commits) - 1; i >= 0; i-- {
			if commits[i].Leader().Round <= gcRound {
				return
			}
			for _, r := range commits[i].Blocks() {
				if info, ok := d.recentBlocks[r]; ok {
					info.committed = true
				}
			}
		}
		end = start - 1
	}
}

func (d *DagState) cacheBlock(block *types.VerifiedBlock, committed bool) {
	ref := block.Ref()
	d.recentBlocks[ref] = &blockInfo{block: block, committed: committed}
	d.recentRefsByAuthority[ref.Author].ReplaceOrInsert(ref)
	if d.lastRefs[ref.Author].Round < ref.Round || d.lastRefs[ref.Author] == (types.BlockRef{}) {
		d.lastRefs[ref.Author] = ref
	}
	if ref.Round > d.highestAcceptedRound {
		d.highestAcceptedRound = ref.Round
	}
}

func (d *DagState) detectEquivocation(block *types.VerifiedBlock) bool {
	ref := block.Ref()
	var others []types.BlockRef
	d.recentRefsByAuthority[ref.Author].AscendRange(
		types.MinRefAtRound(ref.Round, ref.Author),
		types.MinRefAtRound(ref.Round+1, ref.Author),
		func(r types.BlockRef) bool {
			if r != ref {
				others = append(others, r)
			}
			return true
		})
	if len(others) == 0 {
		return false
	}
	slot := ref.Slot()
	evidence := d.equivocations[slot]
	if len(evidence) == 0 {
		evidence = append(evidence, others...)
	}
	d.equivocations[slot] = append(evidence, ref)
	d.logger.WithFields(logrus.Fields{
		"slot":   slot,
		"blocks": types.BlockRefsToString(d.equivocations[slot]),
	}).Warn("equivocation detected")
	return true
}

// AcceptBlock adds a causally complete block. Accepting a block twice is a no-op.
func (d *DagState) AcceptBlock(block *types.VerifiedBlock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref := block.Ref()
	if ref.Round == types.GenesisRound {
		d.logger.WithField("block", ref).Panic("genesis blocks are never accepted")
	}
	if _, ok := d.recentBlocks[ref]; ok {
		return
	}
	if ref.Round <= d.gcRound() {
		d.logger.WithField("block", ref).Debug("ignoring block at or below gc round")
		return
	}
	d.detectEquivocation(block)
	d.cacheBlock(block, false)
	d.blocksToWrite = append(d.blocksToWrite, block)
	d.logger.WithField("block", ref).Trace("block accepted")
}

func (d *DagState) AcceptBlocks(blocks []*types.VerifiedBlock) {
	for _, b := range blocks {
		d.AcceptBlock(b)
	}
}

// GetBlock returns nil if the block is neither cached nor stored.
func (d *DagState) GetBlock(ref types.BlockRef) *types.VerifiedBlock {
	blocks := d.GetBlocks([]types.BlockRef{ref})
	return blocks[0]
}

func (d *DagState) GetBlocks(refs []types.BlockRef) []*types.VerifiedBlock {
	d.mu.RLock()
	result := make([]*types.VerifiedBlock, len(refs))
	var missingIdx []int
	var missingRefs []types.BlockRef
	for i, r := range refs {
		if info, ok := d.recentBlocks[r]; ok {
			result[i] = info.block
			continue
		}
		if g, ok := d.genesis[r]; ok {
			result[i] = g
			continue
		}
		missingIdx = append(missingIdx, i)
		missingRefs = append(missingRefs, r)
	}
	d.mu.RUnlock()
	if len(missingRefs) == 0 {
		return result
	}
	stored, err := d.store.ReadBlocks(missingRefs)
	if err != nil {
		d.logger.WithError(err).Panic("failed to read blocks")
	}
	for i, b := range stored {
		result[missingIdx[i]] = b
	}
	return result
}

func (d *DagState) ContainsBlock(ref types.BlockRef) bool {
	return d.ContainsBlocks([]types.BlockRef{ref})[0]
}

func (d *DagState) ContainsBlocks(refs []types.BlockRef) []bool {
	d.mu.RLock()
	result := make([]bool, len(refs))
	var missingIdx []int
	var missingRefs []types.BlockRef
	for i, r := range refs {
		if _, ok := d.recentBlocks[r]; ok {
			result[i] = true
			continue
		}
		if _, ok := d.genesis[r]; ok {
			result[i] = true
			continue
		}
		missingIdx = append(missingIdx, i)
		missingRefs = append(missingRefs, r)
	}
	d.mu.RUnlock()
	if len(missingRefs) == 0 {
		return result
	}
	stored, err := d.store.ContainsBlocks(missingRefs)
	if err != nil {
		d.logger.WithError(err).Panic("failed to check blocks")
	}
	for i, ok := range stored {
		result[missingIdx[i]] = ok
	}
	return result
}

// ContainsBlockAtSlot only looks at cached blocks.
func (d *DagState) ContainsBlockAtSlot(slot types.Slot) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	found := false
	d.recentRefsByAuthority[slot.Authority].AscendGreaterOrEqual(types.MinRefAtRound(slot.Round, slot.Authority),
		func(r types.BlockRef) bool {
			found = r.Round == slot.Round
			return false
		})
	return found
}

func (d *DagState) blocksAtSlotLocked(slot types.Slot, uncommittedOnly bool) []*types.VerifiedBlock {
	var blocks []*types.VerifiedBlock
	d.recentRefsByAuthority[slot.Authority].AscendGreaterOrEqual(types.MinRefAtRound(slot.Round, slot.Authority),
		func(r types.BlockRef) bool {
			if r.Round != slot.Round {
				return false
			}
			info := d.recentBlocks[r]
			if !uncommittedOnly || !info.committed {
				blocks = append(blocks, info.block)
			}
			return true
		})
	return blocks
}

func (d *DagState) GetUncommittedBlocksAtSlot(slot types.Slot) []*types.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blocksAtSlotLocked(slot, true)
}

// GetBlocksAtRound returns every cached block of the round, ordered by author.
func (d *DagState) GetBlocksAtRound(round types.Round) []*types.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var blocks []*types.VerifiedBlock
	for i := range d.recentRefsByAuthority {
		blocks = append(blocks, d.blocksAtSlotLocked(types.NewSlot(round, types.AuthorityIndex(i)), false)...)
	}
	return blocks
}

func (d *DagState) GetUncommittedBlocksAtRound(round types.Round) []*types.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var blocks []*types.VerifiedBlock
	for i := range d.recentRefsByAuthority {
		blocks = append(blocks, d.blocksAtSlotLocked(types.NewSlot(round, types.AuthorityIndex(i)), true)...)
	}
	return blocks
}

// AncestorsAtRound returns the blocks at earlierRound reachable from later.
func (d *DagState) AncestorsAtRound(later *types.VerifiedBlock, earlierRound types.Round) []*types.VerifiedBlock {
	linked := btree.NewG[types.BlockRef](btreeDegree, types.BlockRef.Less)
	for _, a := range later.Ancestors() {
		linked.ReplaceOrInsert(a)
	}
	for linked.Len() > 0 {
		highest, _ := linked.Max()
		if highest.Round <= earlierRound {
			break
		}
		linked.DeleteMax()
		block := d.GetBlock(highest)
		if block == nil {
			d.logger.WithField("block", highest).Panic("ancestor missing from dag")
		}
		for _, a := range block.Ancestors() {
			if a.Round >= earlierRound {
				linked.ReplaceOrInsert(a)
			}
		}
	}
	var refs []types.BlockRef
	linked.AscendGreaterOrEqual(types.MinRefAtRound(earlierRound, 0), func(r types.BlockRef) bool {
		refs = append(refs, r)
		return true
	})
	blocks := d.GetBlocks(refs)
	for i, b := range blocks {
		if b == nil {
			d.logger.WithField("block", refs[i]).Panic("ancestor missing from dag")
		}
	}
	return blocks
}

// AncestorsOf returns the causal history of ref above the gc round, ordered
// by round then author. Nil when ref itself is unknown.
func (d *DagState) AncestorsOf(ref types.BlockRef) []*types.VerifiedBlock {
	block := d.GetBlock(ref)
	if block == nil {
		return nil
	}
	gcRound := d.GcRound()
	visited := btree.NewG[types.BlockRef](btreeDegree, types.BlockRef.Less)
	pending := []*types.VerifiedBlock{block}
	for len(pending) > 0 {
		b := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		for _, a := range b.Ancestors() {
			if a.Round <= gcRound || visited.Has(a) {
				continue
			}
			visited.ReplaceOrInsert(a)
			ancestor := d.GetBlock(a)
			if ancestor == nil {
				d.logger.WithField("block", a).Panic("ancestor missing from dag")
			}
			pending = append(pending, ancestor)
		}
	}
	refs := make([]types.BlockRef, 0, visited.Len())
	visited.Ascend(func(r types.BlockRef) bool {
		refs = append(refs, r)
		return true
	})
	return d.GetBlocks(refs)
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (d *DagState) IsAncestor(ancestor types.BlockRef, descendant *types.VerifiedBlock) bool {
	if descendant.Ref() == ancestor {
		return true
	}
	for _, b := range d.AncestorsAtRound(descendant, ancestor.Round) {
		if b.Ref() == ancestor {
			return true
		}
	}
	return false
}

// GetLastCachedBlockPerAuthority returns, per authority, the highest cached
// block with round below endRound. Entries are nil when nothing qualifies.
func (d *DagState) GetLastCachedBlockPerAuthority(endRound types.Round) []*types.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]*types.VerifiedBlock, len(d.recentRefsByAuthority))
	if endRound == types.GenesisRound {
		return result
	}
	for i, tree := range d.recentRefsByAuthority {
		tree.DescendLessOrEqual(types.MaxRefAtRound(endRound-1, types.AuthorityIndex(i)), func(r types.BlockRef) bool {
			result[i] = d.recentBlocks[r].block
			return false
		})
	}
	return result
}

// GetCachedBlocksSince returns an authority's cached blocks with round >= start.
func (d *DagState) GetCachedBlocksSince(author types.AuthorityIndex, start types.Round) []*types.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var blocks []*types.VerifiedBlock
	d.recentRefsByAuthority[author].AscendGreaterOrEqual(types.MinRefAtRound(start, author), func(r types.BlockRef) bool {
		blocks = append(blocks, d.recentBlocks[r].block)
		return true
	})
	return blocks
}

func (d *DagState) LastBlockForAuthority(author types.AuthorityIndex) *types.VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.recentBlocks[d.lastRefs[author]].block
}

func (d *DagState) LastBlockRounds() []types.Round {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rounds := make([]types.Round, len(d.lastRefs))
	for i, r := range d.lastRefs {
		rounds[i] = r.Round
	}
	return rounds
}

func (d *DagState) HighestAcceptedRound() types.Round {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.highestAcceptedRound
}

// SetCommitted marks a cached block committed and reports whether it was not
// committed before.
func (d *DagState) SetCommitted(ref types.BlockRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.recentBlocks[ref]
	if !ok {
		d.logger.WithField("block", ref).Panic("committing a block that is not cached")
	}
	if info.committed {
		return false
	}
	info.committed = true
	return true
}

// IsCommitted treats blocks no longer cached as committed.
func (d *DagState) IsCommitted(ref types.BlockRef) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.recentBlocks[ref]
	return !ok || info.committed
}

// AddCommit buffers the next commit of the sequence.
func (d *DagState) AddCommit(commit *types.TrustedCommit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if commit.Index() != d.lastCommitIndex()+1 {
		d.logger.WithFields(logrus.Fields{
			"index": commit.Index(),
			"last":  d.lastCommitIndex(),
		}).Panic("commit index is not continuous")
	}
	d.lastCommit = commit
	d.commitsToWrite = append(d.commitsToWrite, commit)
}

func (d *DagState) lastCommitIndex() types.CommitIndex {
	if d.lastCommit == nil {
		return types.GenesisCommitIndex
	}
	return d.lastCommit.Index()
}

func (d *DagState) LastCommitIndex() types.CommitIndex {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastCommitIndex()
}

func (d *DagState) LastCommitDigest() types.CommitDigest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastCommit == nil {
		return types.CommitDigest{}
	}
	return d.lastCommit.Digest()
}

func (d *DagState) LastCommitTimestampMs() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastCommit == nil {
		return 0
	}
	return d.lastCommit.TimestampMs()
}

// LastCommitLeader is the genesis slot of authority 0 before any commit.
func (d *DagState) LastCommitLeader() types.Slot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastCommit == nil {
		return types.NewSlot(types.GenesisRound, 0)
	}
	return d.lastCommit.Leader().Slot()
}

func (d *DagState) gcRound() types.Round {
	if d.lastCommit == nil {
		return types.GenesisRound
	}
	leaderRound := d.lastCommit.Leader().Round
	depth := types.Round(d.context.Parameters.GcDepth)
	if leaderRound <= depth {
		return types.GenesisRound
	}
	return leaderRound - depth
}

// GcRound is the highest round whose blocks can no longer be committed.
func (d *DagState) GcRound() types.Round {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gcRound()
}

func (d *DagState) AddScheduleVersion(v types.ScheduleVersion) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduleVersions = append(d.scheduleVersions, v)
	d.versionsToWrite = append(d.versionsToWrite, v)
}

func (d *DagState) ScheduleVersions() []types.ScheduleVersion {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]types.ScheduleVersion(nil), d.scheduleVersions...)
}

func (d *DagState) IsEquivocator(author types.AuthorityIndex) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for slot := range d.equivocations {
		if slot.Authority == author {
			return true
		}
	}
	return false
}

// EquivocationEvidence returns the recorded evidence, two or more refs per slot.
func (d *DagState) EquivocationEvidence() map[types.Slot][]types.BlockRef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make(map[types.Slot][]types.BlockRef, len(d.equivocations))
	for slot, refs := range d.equivocations {
		result[slot] = append([]types.BlockRef(nil), refs...)
	}
	return result
}

func (d *DagState) Equivocators() []types.AuthorityIndex {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := make(map[types.AuthorityIndex]struct{})
	for slot := range d.equivocations {
		set[slot.Authority] = struct{}{}
	}
	result := make([]types.AuthorityIndex, 0, len(set))
	for a := range set {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Flush persists buffered blocks, commits and schedule versions, then evicts
// cached blocks at or below the gc round. A storage failure is fatal.
func (d *DagState) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	batch := consensus_interface.WriteBatch{
		Blocks:           d.blocksToWrite,
		Commits:          d.commitsToWrite,
		ScheduleVersions: d.versionsToWrite,
	}
	if !batch.Empty() {
		if err := d.store.Write(batch); err != nil {
			d.logger.WithError(err).Panic("failed to write to storage")
		}
		d.logger.WithFields(logrus.Fields{
			"blocks":    len(batch.Blocks),
			"commits":   len(batch.Commits),
			"schedules": len(batch.ScheduleVersions),
		}).Trace("flushed")
	}
	d.blocksToWrite = nil
	d.commitsToWrite = nil
	d.versionsToWrite = nil
	d.evictLocked()
}

func (d *DagState) evictLocked() {
	gcRound := d.gcRound()
	if gcRound == types.GenesisRound {
		return
	}
	evicted := 0
	for i, tree := range d.recentRefsByAuthority {
		var stale []types.BlockRef
		tree.AscendLessThan(types.MinRefAtRound(gcRound+1, types.AuthorityIndex(i)), func(r types.BlockRef) bool {
			if r != d.lastRefs[i] {
				stale = append(stale, r)
			}
			return true
		})
		for _, r := range stale {
			tree.Delete(r)
			delete(d.recentBlocks, r)
		}
		evicted += len(stale)
	}
	for slot := range d.equivocations {
		if slot.Round <= gcRound {
			delete(d.equivocations, slot)
		}
	}
	if evicted > 0 {
		d.logger.WithFields(logrus.Fields{"gcRound": gcRound, "evicted": evicted}).Debug("evicted blocks")
	}
}

// DagStateSnapshot is a consistent summary used by status reporting.
type DagStateSnapshot struct {
	HighestAcceptedRound types.Round
	GcRound              types.Round
	LastCommitIndex      types.CommitIndex
	LastCommitLeader     types.Slot
	LastBlockRounds      []types.Round
	CachedBlocks         int
	PendingWrites        int
}

func (d *DagState) Snapshot() DagStateSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := DagStateSnapshot{
		HighestAcceptedRound: d.highestAcceptedRound,
		GcRound:              d.gcRound(),
		LastCommitIndex:      d.lastCommitIndex(),
		LastCommitLeader:     types.NewSlot(types.GenesisRound, 0),
		LastBlockRounds:      make([]types.Round, len(d.lastRefs)),
		CachedBlocks:         len(d.recentBlocks),
		PendingWrites:        len(d.blocksToWrite) + len(d.commitsToWrite) + len(d.versionsToWrite),
	}
	if d.lastCommit != nil {
		s.LastCommitLeader = d.lastCommit.Leader().Slot()
	}
	for i, r := range d.lastRefs {
		s.LastBlockRounds[i] = r.Round
	}
	return s
}

func (s DagStateSnapshot) String() string {
	return fmt.Sprintf("highest=%d gc=%d commit=%d leader=%s", s.HighestAcceptedRound, s.GcRound,
		s.LastCommitIndex, s.LastCommitLeader)
}
