// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package leveldb provides an elk.KeyValue on disk, so that identity lookups
// cached by one run are reused by the next.
package leveldb

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/grimoire/elk"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ elk.KeyValue = &KeyValue{}

// KeyValue is an elk.KeyValue stored in leveldb. Each value is prefixed with
// its expiry time.
type KeyValue struct {
	db  *leveldb.DB
	now func() time.Time
}

// NewKeyValue opens (creating if needed) the leveldb in dirname.
func NewKeyValue(dirname string) (*KeyValue, error) {
	db, err := leveldb.OpenFile(dirname, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	return &KeyValue{db: db, now: time.Now}, nil
}

// Close closes the underlying leveldb.
func (kv *KeyValue) Close() error {
	return errors.Wrap(kv.db.Close(), "closing leveldb")
}

// Get implements elk.KeyValue. Expired entries are deleted.
func (kv *KeyValue) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := kv.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "getting %s", key)
	}
	if len(val) < 8 {
		return nil, false, errors.Errorf("corrupt entry for %s", key)
	}
	expires := int64(binary.BigEndian.Uint64(val[:8]))
	if expires != 0 && kv.now().UnixNano() >= expires {
		if err := kv.db.Delete([]byte(key), nil); err != nil {
			return nil, false, errors.Wrapf(err, "deleting expired %s", key)
		}
		return nil, false, nil
	}
	return val[8:], true, nil
}

// Set implements elk.KeyValue.
func (kv *KeyValue) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	entry := make([]byte, 8+len(val))
	if ttl > 0 {
		binary.BigEndian.PutUint64(entry[:8], uint64(kv.now().Add(ttl).UnixNano()))
	}
	copy(entry[8:], val)
	return errors.Wrapf(kv.db.Put([]byte(key), entry, nil), "putting %s", key)
}

// Purge deletes every entry whose key starts with prefix and returns how many
// there were. An empty prefix empties the cache.
func (kv *KeyValue) Purge(prefix string) (int, error) {
	iter := kv.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, errors.Wrap(err, "iterating cache")
	}
	n := batch.Len()
	return n, errors.Wrap(kv.db.Write(batch, nil), "purging cache")
}
