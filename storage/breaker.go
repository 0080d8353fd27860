package storage

import (
	"context"
	"fmt"
	"time"

	"example.org/distpow/wire"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	Name string
	// consecutive failures before the breaker opens
	MaxFailures uint32
	// how long the breaker stays open before probing again
	OpenTimeout time.Duration
}

// Breaker guards a Store with a circuit breaker. Once the wrapped store keeps
// failing, calls fail fast with ErrStorageUnavailable instead of piling up on
// a dead backend.
type Breaker struct {
	store Store
	cb    *gobreaker.CircuitBreaker
}

func NewBreaker(store Store, config BreakerConfig, log zerolog.Logger) *Breaker {
	if config.Name == "" {
		config.Name = "storage"
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 10 * time.Second
	}
	maxFailures := config.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    config.Name,
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Storage breaker state changed")
		},
	})
	return &Breaker{store: store, cb: cb}
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func guard[T any](b *Breaker, fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out.(T), nil
}

type found[T any] struct {
	value T
	ok    bool
}

func (b *Breaker) FindCachedWork(ctx context.Context, hash wire.Hash) (wire.Word, bool, error) {
	r, err := guard(b, func() (found[wire.Word], error) {
		w, ok, err := b.store.FindCachedWork(ctx, hash)
		return found[wire.Word]{w, ok}, err
	})
	return r.value, r.ok, err
}

func (b *Breaker) InsertCachedWork(ctx context.Context, hash wire.Hash, work wire.Word) error {
	_, err := guard(b, func() (struct{}, error) {
		return struct{}{}, b.store.InsertCachedWork(ctx, hash, work)
	})
	return err
}

func (b *Breaker) FindCredential(ctx context.Context, serviceID string) (string, bool, error) {
	r, err := guard(b, func() (found[string], error) {
		key, ok, err := b.store.FindCredential(ctx, serviceID)
		return found[string]{key, ok}, err
	})
	return r.value, r.ok, err
}

func (b *Breaker) PutCredential(ctx context.Context, serviceID, apiKey string) error {
	_, err := guard(b, func() (struct{}, error) {
		return struct{}{}, b.store.PutCredential(ctx, serviceID, apiKey)
	})
	return err
}

func (b *Breaker) UpsertClientAccount(ctx context.Context, key PublicKey) error {
	_, err := guard(b, func() (struct{}, error) {
		return struct{}{}, b.store.UpsertClientAccount(ctx, key)
	})
	return err
}

func (b *Breaker) IncrementClientCounters(ctx context.Context, key PublicKey, d ClientDelta) error {
	_, err := guard(b, func() (struct{}, error) {
		return struct{}{}, b.store.IncrementClientCounters(ctx, key, d)
	})
	return err
}

func (b *Breaker) IncrementServiceCounters(ctx context.Context, serviceID string, d ServiceDelta) error {
	_, err := guard(b, func() (struct{}, error) {
		return struct{}{}, b.store.IncrementServiceCounters(ctx, serviceID, d)
	})
	return err
}

func (b *Breaker) ClientAccount(ctx context.Context, key PublicKey) (ClientAccount, bool, error) {
	r, err := guard(b, func() (found[ClientAccount], error) {
		acct, ok, err := b.store.ClientAccount(ctx, key)
		return found[ClientAccount]{acct, ok}, err
	})
	return r.value, r.ok, err
}

func (b *Breaker) ServiceAccount(ctx context.Context, serviceID string) (ServiceAccount, bool, error) {
	r, err := guard(b, func() (found[ServiceAccount], error) {
		acct, ok, err := b.store.ServiceAccount(ctx, serviceID)
		return found[ServiceAccount]{acct, ok}, err
	})
	return r.value, r.ok, err
}

func (b *Breaker) Close() error {
	return b.store.Close()
}
