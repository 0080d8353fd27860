package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"example.org/distpow/wire"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	level, err := OpenLevelStore(LevelConfig{Path: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { level.Close() })

	return map[string]Store{
		"memory":  NewMemoryStore(),
		"leveldb": level,
		"breaker": NewBreaker(NewMemoryStore(), BreakerConfig{}, zerolog.Nop()),
	}
}

func TestStore_CachedWorkWrittenOnce(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var hash wire.Hash
			hash[0] = 1

			_, ok, err := s.FindCachedWork(ctx, hash)
			require.NoError(t, err)
			assert.False(t, ok)

			first := wire.WordFromUint64(11)
			require.NoError(t, s.InsertCachedWork(ctx, hash, first))
			require.NoError(t, s.InsertCachedWork(ctx, hash, wire.WordFromUint64(22)))

			work, ok, err := s.FindCachedWork(ctx, hash)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, first, work)
		})
	}
}

func TestStore_Credentials(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.FindCredential(ctx, "svc")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.PutCredential(ctx, "svc", "key-1"))
			require.NoError(t, s.IncrementServiceCounters(ctx, "svc", ServiceDelta{Precache: 2, Ondemand: 1}))
			require.NoError(t, s.PutCredential(ctx, "svc", "key-2"))

			key, ok, err := s.FindCredential(ctx, "svc")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "key-2", key)

			acct, ok, err := s.ServiceAccount(ctx, "svc")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ServiceAccount{APIKey: "key-2", Precache: 2, Ondemand: 1}, acct)
		})
	}
}

func TestStore_ClientAccountUpsertNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var key PublicKey
			key[5] = 5

			// increments before the account exists are dropped
			require.NoError(t, s.IncrementClientCounters(ctx, key, ClientDelta{Ondemand: 1}))
			_, ok, err := s.ClientAccount(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.UpsertClientAccount(ctx, key))
			acct, ok, err := s.ClientAccount(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ClientAccount{}, acct)

			require.NoError(t, s.IncrementClientCounters(ctx, key, ClientDelta{Ondemand: 1, PendingRewards: 10}))
			require.NoError(t, s.UpsertClientAccount(ctx, key))

			acct, _, err = s.ClientAccount(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, ClientAccount{Ondemand: 1, PendingRewards: 10}, acct)
		})
	}
}

func TestStore_ServiceCountersUnknownService(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.IncrementServiceCounters(ctx, "ghost", ServiceDelta{Ondemand: 1}))
			_, ok, err := s.ServiceAccount(ctx, "ghost")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLevelStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var hash wire.Hash
	hash[31] = 0xFF

	s, err := OpenLevelStore(LevelConfig{Path: dir}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.InsertCachedWork(ctx, hash, wire.WordFromUint64(99)))
	require.NoError(t, s.PutCredential(ctx, "svc", "k"))
	require.NoError(t, s.Close())

	s, err = OpenLevelStore(LevelConfig{Path: dir}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	work, ok, err := s.FindCachedWork(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(99), work.Uint64())

	key, ok, err := s.FindCredential(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "k", key)
}

func TestLevelStore_Closed(t *testing.T) {
	s, err := OpenLevelStore(LevelConfig{Path: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, _, err = s.FindCachedWork(context.Background(), wire.Hash{})
	assert.ErrorIs(t, err, ErrClosed)
}

type flakyStore struct {
	*MemoryStore
	calls int
}

var errDown = errors.New("backend down")

func (f *flakyStore) FindCachedWork(context.Context, wire.Hash) (wire.Word, bool, error) {
	f.calls++
	return wire.Word{}, false, errDown
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	flaky := &flakyStore{MemoryStore: NewMemoryStore()}
	b := NewBreaker(flaky, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Hour}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := b.FindCachedWork(ctx, wire.Hash{})
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, _, err := b.FindCachedWork(ctx, wire.Hash{})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, 3, flaky.calls, "open breaker must not reach the store")

	// other operations share the breaker
	assert.ErrorIs(t, b.InsertCachedWork(ctx, wire.Hash{}, wire.Word{}), ErrStorageUnavailable)
}

func TestBreaker_PassesThroughResults(t *testing.T) {
	b := NewBreaker(NewMemoryStore(), BreakerConfig{}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, b.PutCredential(ctx, "svc", "k"))
	key, ok, err := b.FindCredential(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "k", key)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
