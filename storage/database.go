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

package storage

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrNotFound = errors.New("not found")

type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Len() int
}

// KVStore is the minimal ordered key value engine the consensus store needs.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	NewBatch() Batch
	WriteBatch(b Batch) error
	// Iterate visits keys with the prefix starting at start (inclusive) in
	// ascending order until fn returns false.
	Iterate(prefix []byte, start []byte, fn func(key, value []byte) bool) error
	// Last returns the greatest key with the prefix.
	Last(prefix []byte) (key []byte, value []byte, err error)
	Close() error
}

type LevelDBConfig struct {
	Path       string
	CacheMB    int
	OpenFiles  int
	SyncWrites bool
}

type LevelDB struct {
	db     *leveldb.DB
	wo     *opt.WriteOptions
	path   string
	logger *logrus.Entry
}

// NewLevelDB opens (or creates) a leveldb database on disk. A corrupted
// database is recovered once before giving up.
func NewLevelDB(config LevelDBConfig) (*LevelDB, error) {
	if config.CacheMB < 16 {
		config.CacheMB = 16
	}
	if config.OpenFiles < 16 {
		config.OpenFiles = 16
	}
	o := &opt.Options{
		OpenFilesCacheCapacity: config.OpenFiles,
		BlockCacheCapacity:     config.CacheMB / 2 * opt.MiB,
		WriteBuffer:            config.CacheMB / 4 * opt.MiB,
	}
	db, err := leveldb.OpenFile(config.Path, o)
	if _, corrupted := err.(*lerrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(config.Path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", config.Path, err)
	}
	logger := logrus.WithField("db", config.Path)
	logger.WithField("cacheMB", config.CacheMB).Info("leveldb opened")
	return &LevelDB{
		db:     db,
		wo:     &opt.WriteOptions{Sync: config.SyncWrites},
		path:   config.Path,
		logger: logger,
	}, nil
}

// NewMemoryLevelDB runs the same engine on in-memory storage.
func NewMemoryLevelDB() *LevelDB {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(err)
	}
	return &LevelDB{
		db:     db,
		wo:     &opt.WriteOptions{},
		path:   "memory",
		logger: logrus.WithField("db", "memory"),
	}
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) Put(key []byte, value []byte) error {
	return l.db.Put(key, value, l.wo)
}

type levelBatch struct {
	b *leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) { b.b.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.b.Delete(key) }
func (b *levelBatch) Len() int              { return b.b.Len() }

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{b: new(leveldb.Batch)}
}

func (l *LevelDB) WriteBatch(b Batch) error {
	lb, ok := b.(*levelBatch)
	if !ok {
		return fmt.Errorf("foreign batch type %T", b)
	}
	return l.db.Write(lb.b, l.wo)
}

func (l *LevelDB) Iterate(prefix []byte, start []byte, fn func(key, value []byte) bool) error {
	r := util.BytesPrefix(prefix)
	if start != nil {
		r.Start = start
	}
	it := l.db.NewIterator(r, nil)
	defer it.Release()
	for it.Next() {
		if !fn(copyBytes(it.Key()), copyBytes(it.Value())) {
			break
		}
	}
	return it.Error()
}

func (l *LevelDB) Last(prefix []byte) ([]byte, []byte, error) {
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	if !it.Last() {
		if err := it.Error(); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrNotFound
	}
	return copyBytes(it.Key()), copyBytes(it.Value()), nil
}

func (l *LevelDB) Close() error {
	l.logger.Info("leveldb closing")
	return l.db.Close()
}

func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
