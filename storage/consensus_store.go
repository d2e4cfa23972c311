package storage

import (
	"fmt"

	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/types"
	"github.com/golang/snappy"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const DefaultBlockCacheSize = 4096

// ConsensusStore persists blocks, commits and leader schedule versions in a
// KVStore. Block bodies are snappy compressed and recently read blocks are
// kept in an LRU cache.
type ConsensusStore struct {
	db         KVStore
	blockCache *lru.Cache
	logger     *logrus.Entry
}

func NewConsensusStore(db KVStore, blockCacheSize int) *ConsensusStore {
	if blockCacheSize <= 0 {
		blockCacheSize = DefaultBlockCacheSize
	}
	cache, err := lru.New(blockCacheSize)
	if err != nil {
		panic(err)
	}
	return &ConsensusStore{
		db:         db,
		blockCache: cache,
		logger:     logrus.WithField("module", "store"),
	}
}

// NewMemoryStore is a store on top of an in-memory leveldb.
func NewMemoryStore() *ConsensusStore {
	return NewConsensusStore(NewMemoryLevelDB(), DefaultBlockCacheSize)
}

var _ consensus_interface.Store = (*ConsensusStore)(nil)

func (s *ConsensusStore) Write(batch consensus_interface.WriteBatch) error {
	if batch.Empty() {
		return nil
	}
	b := s.db.NewBatch()
	for _, block := range batch.Blocks {
		ref := block.Ref()
		b.Put(blockKey(ref), snappy.Encode(nil, block.Serialized()))
		b.Put(blockByAuthorKey(ref), []byte{})
	}
	for _, commit := range batch.Commits {
		b.Put(commitKey(commit.Index()), commit.Serialized())
	}
	for _, v := range batch.ScheduleVersions {
		data, err := v.MarshalMsg(nil)
		if err != nil {
			return err
		}
		b.Put(scheduleVersionKey(v.StartRound), data)
	}
	if err := s.db.WriteBatch(b); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	for _, block := range batch.Blocks {
		s.blockCache.Add(block.Ref(), block)
	}
	s.logger.WithFields(logrus.Fields{
		"blocks":    len(batch.Blocks),
		"commits":   len(batch.Commits),
		"schedules": len(batch.ScheduleVersions),
	}).Trace("batch written")
	return nil
}

func (s *ConsensusStore) readBlock(ref types.BlockRef) (*types.VerifiedBlock, error) {
	if v, ok := s.blockCache.Get(ref); ok {
		return v.(*types.VerifiedBlock), nil
	}
	data, err := s.db.Get(blockKey(ref))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	serialized, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress block %s: %w", ref, err)
	}
	block, err := types.NewVerifiedBlockFromBytes(serialized)
	if err != nil {
		return nil, fmt.Errorf("decode block %s: %w", ref, err)
	}
	if block.Ref() != ref {
		return nil, fmt.Errorf("stored block %s does not match key %s", block.Ref(), ref)
	}
	s.blockCache.Add(ref, block)
	return block, nil
}

func (s *ConsensusStore) ReadBlocks(refs []types.BlockRef) ([]*types.VerifiedBlock, error) {
	blocks := make([]*types.VerifiedBlock, len(refs))
	for i, ref := range refs {
		block, err := s.readBlock(ref)
		if err != nil {
			return nil, err
		}
		blocks[i] = block
	}
	return blocks, nil
}

func (s *ConsensusStore) ContainsBlocks(refs []types.BlockRef) ([]bool, error) {
	exist := make([]bool, len(refs))
	for i, ref := range refs {
		if s.blockCache.Contains(ref) {
			exist[i] = true
			continue
		}
		ok, err := s.db.Has(blockKey(ref))
		if err != nil {
			return nil, err
		}
		exist[i] = ok
	}
	return exist, nil
}

func (s *ConsensusStore) ScanBlocksByAuthor(author types.AuthorityIndex, startRound types.Round) ([]*types.VerifiedBlock, error) {
	var refs []types.BlockRef
	err := s.db.Iterate(authorPrefix(author), blockByAuthorStart(author, startRound), func(key, value []byte) bool {
		if ref, ok := refFromAuthorKey(key); ok {
			refs = append(refs, ref)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	blocks, err := s.ReadBlocks(refs)
	if err != nil {
		return nil, err
	}
	for i, b := range blocks {
		if b == nil {
			return nil, fmt.Errorf("index references missing block %s", refs[i])
		}
	}
	return blocks, nil
}

func (s *ConsensusStore) ReadLastBlockRefByAuthor(author types.AuthorityIndex) (types.BlockRef, bool, error) {
	key, _, err := s.db.Last(authorPrefix(author))
	if err == ErrNotFound {
		return types.BlockRef{}, false, nil
	}
	if err != nil {
		return types.BlockRef{}, false, err
	}
	ref, ok := refFromAuthorKey(key)
	if !ok {
		return types.BlockRef{}, false, fmt.Errorf("malformed author index key %x", key)
	}
	return ref, true, nil
}

func (s *ConsensusStore) ReadLastCommit() (*types.TrustedCommit, error) {
	_, value, err := s.db.Last(prefixCommit)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return types.TrustedCommitFromBytes(value)
}

func (s *ConsensusStore) ScanCommits(start types.CommitIndex, end types.CommitIndex) ([]*types.TrustedCommit, error) {
	var commits []*types.TrustedCommit
	var decodeErr error
	err := s.db.Iterate(prefixCommit, commitKey(start), func(key, value []byte) bool {
		commit, err := types.TrustedCommitFromBytes(value)
		if err != nil {
			decodeErr = err
			return false
		}
		if commit.Index() > end {
			return false
		}
		commits = append(commits, commit)
		return true
	})
	if err != nil {
		return nil, err
	}
	return commits, decodeErr
}

func (s *ConsensusStore) ReadScheduleVersions() ([]types.ScheduleVersion, error) {
	var versions []types.ScheduleVersion
	var decodeErr error
	err := s.db.Iterate(prefixScheduleVersion, nil, func(key, value []byte) bool {
		var v types.ScheduleVersion
		if _, err := v.UnmarshalMsg(value); err != nil {
			decodeErr = err
			return false
		}
		versions = append(versions, v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return versions, decodeErr
}

func (s *ConsensusStore) Close() error {
	s.blockCache.Purge()
	return s.db.Close()
}
