package consensus

import (
	"sort"
	"time"

	"github.com/annchain/dagconsensus/types"
	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"
)

type suspendedBlock struct {
	block            *types.VerifiedBlock
	missingAncestors map[types.BlockRef]struct{}
	suspendedAt      time.Time
}

// BlockManager holds verified blocks back until all of their ancestors are
// in the DAG, so DagState only ever sees causally complete blocks.
// It is owned by the core thread and is not safe for concurrent use.
type BlockManager struct {
	context  *Context
	dagState *DagState
	logger   *logrus.Entry

	suspendedBlocks map[types.BlockRef]*suspendedBlock
	// missingAncestors maps a ref we do not have to the suspended blocks waiting for it.
	missingAncestors map[types.BlockRef]map[types.BlockRef]struct{}
	// missingBlocks are refs neither accepted nor suspended.
	missingBlocks mapset.Set
}

func NewBlockManager(context *Context, dagState *DagState) *BlockManager {
	return &BlockManager{
		context:          context,
		dagState:         dagState,
		logger:           context.moduleLogger("block_manager"),
		suspendedBlocks:  make(map[types.BlockRef]*suspendedBlock),
		missingAncestors: make(map[types.BlockRef]map[types.BlockRef]struct{}),
		missingBlocks:    mapset.NewThreadUnsafeSet(),
	}
}

// TryAcceptBlocks accepts every block whose ancestors are present, plus any
// suspended block that becomes complete as a result. It returns the accepted
// blocks in acceptance order and the refs that must be fetched.
func (m *BlockManager) TryAcceptBlocks(blocks []*types.VerifiedBlock) ([]*types.VerifiedBlock, []types.BlockRef) {
	sorted := append([]*types.VerifiedBlock(nil), blocks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ref().Less(sorted[j].Ref()) })

	gcRound := m.dagState.GcRound()
	var accepted []*types.VerifiedBlock
	newlyMissing := make(map[types.BlockRef]struct{})
	for _, block := range sorted {
		ref := block.Ref()
		if ref.Round <= gcRound {
			m.logger.WithField("block", ref).Debug("dropping block at or below gc round")
			continue
		}
		if _, ok := m.suspendedBlocks[ref]; ok {
			continue
		}
		if m.dagState.ContainsBlock(ref) {
			continue
		}
		missing := m.missingAncestorsOf(block, gcRound)
		if len(missing) == 0 {
			accepted = append(accepted, m.acceptAndUnsuspend(block)...)
			continue
		}
		if len(m.suspendedBlocks) >= m.context.Parameters.MaxSuspendedBlocks {
			m.logger.WithFields(logrus.Fields{
				"block":     ref,
				"suspended": len(m.suspendedBlocks),
			}).Warn("too many suspended blocks, dropping block")
			continue
		}
		m.suspend(block, missing)
		for r := range missing {
			if _, ok := m.suspendedBlocks[r]; !ok {
				m.missingBlocks.Add(r)
				newlyMissing[r] = struct{}{}
			}
		}
	}
	return accepted, sortedRefs(newlyMissing)
}

func (m *BlockManager) missingAncestorsOf(block *types.VerifiedBlock, gcRound types.Round) map[types.BlockRef]struct{} {
	var candidates []types.BlockRef
	for _, a := range block.Ancestors() {
		// at or below gc round counts as present
		if a.Round <= gcRound {
			continue
		}
		candidates = append(candidates, a)
	}
	missing := make(map[types.BlockRef]struct{})
	if len(candidates) == 0 {
		return missing
	}
	for i, ok := range m.dagState.ContainsBlocks(candidates) {
		if !ok {
			missing[candidates[i]] = struct{}{}
		}
	}
	return missing
}

func (m *BlockManager) suspend(block *types.VerifiedBlock, missing map[types.BlockRef]struct{}) {
	ref := block.Ref()
	m.suspendedBlocks[ref] = &suspendedBlock{
		block:            block,
		missingAncestors: missing,
		suspendedAt:      time.Now(),
	}
	for r := range missing {
		deps, ok := m.missingAncestors[r]
		if !ok {
			deps = make(map[types.BlockRef]struct{})
			m.missingAncestors[r] = deps
		}
		deps[ref] = struct{}{}
	}
	m.missingBlocks.Remove(ref)
	m.logger.WithFields(logrus.Fields{
		"block":   ref,
		"missing": len(missing),
	}).Debug("block suspended")
}

// acceptAndUnsuspend accepts the block and cascades to dependents that
// become complete.
func (m *BlockManager) acceptAndUnsuspend(block *types.VerifiedBlock) []*types.VerifiedBlock {
	var accepted []*types.VerifiedBlock
	queue := []*types.VerifiedBlock{block}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		ref := b.Ref()
		m.dagState.AcceptBlock(b)
		accepted = append(accepted, b)
		m.missingBlocks.Remove(ref)
		queue = append(queue, m.resolveMissing(ref)...)
	}
	return accepted
}

// resolveMissing removes ref from the missing set of its dependents and
// returns the dependents that have nothing left to wait for.
func (m *BlockManager) resolveMissing(ref types.BlockRef) []*types.VerifiedBlock {
	deps, ok := m.missingAncestors[ref]
	if !ok {
		return nil
	}
	delete(m.missingAncestors, ref)
	var ready []*types.VerifiedBlock
	for dep := range deps {
		s, ok := m.suspendedBlocks[dep]
		if !ok {
			continue
		}
		delete(s.missingAncestors, ref)
		if len(s.missingAncestors) == 0 {
			delete(m.suspendedBlocks, dep)
			ready = append(ready, s.block)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].Ref().Less(ready[j].Ref()) })
	return ready
}

// TryUnsuspendBlocksForLatestGcRound releases blocks that were only waiting
// for ancestors now at or below the gc round, and drops suspended blocks that
// fell below it themselves.
func (m *BlockManager) TryUnsuspendBlocksForLatestGcRound() []*types.VerifiedBlock {
	gcRound := m.dagState.GcRound()
	var stale []types.BlockRef
	for ref := range m.suspendedBlocks {
		if ref.Round <= gcRound {
			stale = append(stale, ref)
		}
	}
	for _, ref := range stale {
		// dependents of a stale block are resolved below, they are not dropped
		s := m.suspendedBlocks[ref]
		delete(m.suspendedBlocks, ref)
		for anc := range s.missingAncestors {
			deps := m.missingAncestors[anc]
			delete(deps, ref)
			if len(deps) == 0 {
				delete(m.missingAncestors, anc)
				m.missingBlocks.Remove(anc)
			}
		}
	}

	var resolvable []types.BlockRef
	for ref := range m.missingAncestors {
		if ref.Round <= gcRound {
			resolvable = append(resolvable, ref)
		}
	}
	sort.Slice(resolvable, func(i, j int) bool { return resolvable[i].Less(resolvable[j]) })
	var accepted []*types.VerifiedBlock
	for _, ref := range resolvable {
		m.missingBlocks.Remove(ref)
		for _, b := range m.resolveMissing(ref) {
			accepted = append(accepted, m.acceptAndUnsuspend(b)...)
		}
	}
	if len(stale) > 0 || len(accepted) > 0 {
		m.logger.WithFields(logrus.Fields{
			"gcRound":  gcRound,
			"dropped":  len(stale),
			"accepted": len(accepted),
		}).Debug("suspended blocks updated for gc round")
	}
	return accepted
}

// PruneStalled drops blocks suspended for longer than the timeout along with
// every block waiting on them.
func (m *BlockManager) PruneStalled(now time.Time) int {
	timeout := m.context.Parameters.SuspendedBlockTimeout
	if timeout <= 0 {
		return 0
	}
	var expired []types.BlockRef
	for ref, s := range m.suspendedBlocks {
		if now.Sub(s.suspendedAt) > timeout {
			expired = append(expired, ref)
		}
	}
	dropped := 0
	for _, ref := range expired {
		dropped += m.dropSuspended(ref)
	}
	if dropped > 0 {
		m.logger.WithField("dropped", dropped).Info("pruned stalled suspended blocks")
	}
	return dropped
}

func (m *BlockManager) dropSuspended(ref types.BlockRef) int {
	dropped := 0
	stack := []types.BlockRef{ref}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		s, ok := m.suspendedBlocks[r]
		if !ok {
			continue
		}
		delete(m.suspendedBlocks, r)
		dropped++
		for anc := range s.missingAncestors {
			deps := m.missingAncestors[anc]
			delete(deps, r)
			if len(deps) == 0 {
				delete(m.missingAncestors, anc)
				m.missingBlocks.Remove(anc)
			}
		}
		for dep := range m.missingAncestors[r] {
			stack = append(stack, dep)
		}
		delete(m.missingAncestors, r)
	}
	return dropped
}

// MissingBlocks returns the refs that still have to be fetched, ordered.
func (m *BlockManager) MissingBlocks() []types.BlockRef {
	refs := make([]types.BlockRef, 0, m.missingBlocks.Cardinality())
	for _, r := range m.missingBlocks.ToSlice() {
		refs = append(refs, r.(types.BlockRef))
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	return refs
}

func (m *BlockManager) IsSuspended(ref types.BlockRef) bool {
	_, ok := m.suspendedBlocks[ref]
	return ok
}

func (m *BlockManager) SuspendedBlocksCount() int {
	return len(m.suspendedBlocks)
}

func sortedRefs(set map[types.BlockRef]struct{}) []types.BlockRef {
	refs := make([]types.BlockRef, 0, len(set))
	for r := range set {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	return refs
}
