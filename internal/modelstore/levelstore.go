package modelstore

import (
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore named blob sets in an embedded LevelDB, keyed "<prefix>/<name>"
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens or creates the database at path
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// SaveBlobs replaces every blob under prefix in one batch.
func (s *LevelStore) SaveBlobs(prefix string, blobs map[string][]byte) error {
	batch := new(leveldb.Batch)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix+"/")), nil)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to scan %s: %w", prefix, err)
	}

	for name, data := range blobs {
		batch.Put([]byte(prefix+"/"+name), data)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write %s: %w", prefix, err)
	}
	return nil
}

// LoadBlobs returns every blob under prefix keyed by name, or ErrNotFound.
func (s *LevelStore) LoadBlobs(prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix+"/")), nil)
	defer iter.Release()

	for iter.Next() {
		name := strings.TrimPrefix(string(iter.Key()), prefix+"/")
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		out[name] = value
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", prefix, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", prefix, ErrNotFound)
	}
	return out, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
