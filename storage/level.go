package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"example.org/distpow/wire"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const (
	blockPrefix   = "b/"
	servicePrefix = "s/"
	clientPrefix  = "c/"
)

type LevelConfig struct {
	Path         string
	CacheSize    int
	MaxOpenFiles int
}

// LevelStore persists the broker state in a single LevelDB database. Each
// record family lives under its own key prefix; account records are JSON.
type LevelStore struct {
	db  *leveldb.DB
	log zerolog.Logger

	// serialises read-modify-write of account records
	mu sync.Mutex
}

func OpenLevelStore(config LevelConfig, log zerolog.Logger) (*LevelStore, error) {
	opts := &opt.Options{
		BlockCacheCapacity:     config.CacheSize,
		OpenFilesCacheCapacity: config.MaxOpenFiles,
	}
	db, err := leveldb.OpenFile(config.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info().Str("path", config.Path).Msg("Database opened")
	return &LevelStore{db: db, log: log}, nil
}

func blockKey(hash wire.Hash) []byte {
	return append([]byte(blockPrefix), hash[:]...)
}

func serviceKey(serviceID string) []byte {
	return []byte(servicePrefix + serviceID)
}

func clientKey(key PublicKey) []byte {
	return append([]byte(clientPrefix), key[:]...)
}

func (s *LevelStore) get(key []byte) ([]byte, bool, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if errors.Is(err, leveldb.ErrClosed) {
		return nil, false, ErrClosed
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to retrieve value: %w", err)
	}
	return value, true, nil
}

func (s *LevelStore) put(key, value []byte) error {
	if err := s.db.Put(key, value, nil); err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("failed to store value: %w", err)
	}
	return nil
}

func (s *LevelStore) FindCachedWork(_ context.Context, hash wire.Hash) (wire.Word, bool, error) {
	var work wire.Word
	value, ok, err := s.get(blockKey(hash))
	if err != nil || !ok {
		return work, false, err
	}
	if len(value) != wire.WorkSize {
		return work, false, fmt.Errorf("corrupt cache entry for %s: %d bytes", hash, len(value))
	}
	copy(work[:], value)
	return work, true, nil
}

func (s *LevelStore) InsertCachedWork(_ context.Context, hash wire.Hash, work wire.Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blockKey(hash)
	if _, ok, err := s.get(key); err != nil || ok {
		return err
	}
	return s.put(key, work[:])
}

func (s *LevelStore) FindCredential(ctx context.Context, serviceID string) (string, bool, error) {
	acct, ok, err := s.ServiceAccount(ctx, serviceID)
	return acct.APIKey, ok, err
}

func (s *LevelStore) PutCredential(_ context.Context, serviceID, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var acct ServiceAccount
	if _, err := s.loadJSON(serviceKey(serviceID), &acct); err != nil {
		return err
	}
	acct.APIKey = apiKey
	return s.storeJSON(serviceKey(serviceID), acct)
}

func (s *LevelStore) UpsertClientAccount(_ context.Context, key PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var acct ClientAccount
	found, err := s.loadJSON(clientKey(key), &acct)
	if err != nil || found {
		return err
	}
	return s.storeJSON(clientKey(key), acct)
}

func (s *LevelStore) IncrementClientCounters(_ context.Context, key PublicKey, d ClientDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var acct ClientAccount
	found, err := s.loadJSON(clientKey(key), &acct)
	if err != nil || !found {
		return err
	}
	acct.apply(d)
	return s.storeJSON(clientKey(key), acct)
}

func (s *LevelStore) IncrementServiceCounters(_ context.Context, serviceID string, d ServiceDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var acct ServiceAccount
	found, err := s.loadJSON(serviceKey(serviceID), &acct)
	if err != nil || !found {
		return err
	}
	acct.apply(d)
	return s.storeJSON(serviceKey(serviceID), acct)
}

func (s *LevelStore) ClientAccount(_ context.Context, key PublicKey) (ClientAccount, bool, error) {
	var acct ClientAccount
	found, err := s.loadJSON(clientKey(key), &acct)
	return acct, found, err
}

func (s *LevelStore) ServiceAccount(_ context.Context, serviceID string) (ServiceAccount, bool, error) {
	var acct ServiceAccount
	found, err := s.loadJSON(serviceKey(serviceID), &acct)
	return acct, found, err
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func (s *LevelStore) loadJSON(key []byte, v interface{}) (bool, error) {
	value, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(value, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *LevelStore) storeJSON(key []byte, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.put(key, value)
}
