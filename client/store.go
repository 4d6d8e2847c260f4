package client

import (
	"github.com/syndtr/goleveldb/leveldb"
)

// Store remembers the resumption URL of unfinished uploads by file fingerprint.
type Store interface {
	Get(fingerprint string) (string, bool)
	Set(fingerprint, url string)
	Delete(fingerprint string)
	Close()
}

type LeveldbStore struct {
	db *leveldb.DB
}

func NewLeveldbStore(path string) (*LeveldbStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LeveldbStore{db: db}, nil
}

// NewLeveldbStoreFromDB wraps an already opened database.
func NewLeveldbStoreFromDB(db *leveldb.DB) *LeveldbStore {
	return &LeveldbStore{db: db}
}

func (s *LeveldbStore) Get(fingerprint string) (string, bool) {
	url, err := s.db.Get([]byte(fingerprint), nil)
	if err != nil {
		return "", false
	}
	return string(url), true
}

func (s *LeveldbStore) Set(fingerprint, url string) {
	s.db.Put([]byte(fingerprint), []byte(url), nil)
}

func (s *LeveldbStore) Delete(fingerprint string) {
	s.db.Delete([]byte(fingerprint), nil)
}

func (s *LeveldbStore) Close() {
	s.db.Close()
}
