package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

type cacheEntry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    cacheEntry
	hadPrev bool
}

type revision struct {
	id           int
	journalIndex int
}

// Cache is a write-back overlay over a Database. Mutations stay in memory
// until Commit flushes them as a single leveldb batch. Every mutation is
// journaled so callers can roll back to an earlier Snapshot, which gives
// state transitions all-or-nothing semantics.
//
// Cache is not safe for concurrent use.
type Cache struct {
	db      Database
	dirty   map[string]cacheEntry
	journal []journalEntry

	revisions      []revision
	nextRevisionID int
}

// NewCache wraps the provided database.
func NewCache(db Database) *Cache {
	return &Cache{db: db, dirty: make(map[string]cacheEntry)}
}

// Get returns the value for key. The boolean is false when the key is absent.
func (c *Cache) Get(key []byte) ([]byte, bool, error) {
	if entry, ok := c.dirty[string(key)]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return append([]byte(nil), entry.value...), true, nil
	}
	if c.db == nil {
		return nil, false, nil
	}
	value, err := c.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stages a write.
func (c *Cache) Put(key, value []byte) {
	c.record(string(key))
	c.dirty[string(key)] = cacheEntry{value: append([]byte(nil), value...)}
}

// Delete stages a removal.
func (c *Cache) Delete(key []byte) {
	c.record(string(key))
	c.dirty[string(key)] = cacheEntry{deleted: true}
}

func (c *Cache) record(key string) {
	prev, ok := c.dirty[key]
	c.journal = append(c.journal, journalEntry{key: key, prev: prev, hadPrev: ok})
}

// Snapshot returns an identifier for the current revision of the cache.
func (c *Cache) Snapshot() int {
	id := c.nextRevisionID
	c.nextRevisionID++
	c.revisions = append(c.revisions, revision{id: id, journalIndex: len(c.journal)})
	return id
}

// RevertToSnapshot undoes every mutation staged after the snapshot was taken.
// Snapshots taken after revid are invalidated.
func (c *Cache) RevertToSnapshot(revid int) {
	idx := -1
	for i := len(c.revisions) - 1; i >= 0; i-- {
		if c.revisions[i].id == revid {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Errorf("storage: revision id %d cannot be reverted", revid))
	}
	target := c.revisions[idx].journalIndex
	for i := len(c.journal) - 1; i >= target; i-- {
		entry := c.journal[i]
		if entry.hadPrev {
			c.dirty[entry.key] = entry.prev
		} else {
			delete(c.dirty, entry.key)
		}
	}
	c.journal = c.journal[:target]
	c.revisions = c.revisions[:idx]
}

// Dirty reports the number of staged keys.
func (c *Cache) Dirty() int { return len(c.dirty) }

// Commit flushes staged mutations atomically and resets the journal.
func (c *Cache) Commit() error {
	if len(c.dirty) == 0 {
		c.reset()
		return nil
	}
	if c.db == nil {
		return errors.New("storage: cache has no backing database")
	}
	batch := new(leveldb.Batch)
	for key, entry := range c.dirty {
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := c.db.Write(batch); err != nil {
		return err
	}
	c.reset()
	return nil
}

// Discard drops all staged mutations.
func (c *Cache) Discard() { c.reset() }

func (c *Cache) reset() {
	c.dirty = make(map[string]cacheEntry)
	c.journal = nil
	c.revisions = nil
}
