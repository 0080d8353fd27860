// Package storage holds the persistent side of the broker: solved work
// (the precache), service credentials and per-account counters.
package storage

import (
	"context"
	"encoding/hex"
	"errors"

	"example.org/distpow/wire"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrClosed             = errors.New("storage is closed")
)

const PublicKeySize = 32

type PublicKey [PublicKeySize]byte

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// ClientAccount is the reward record of a paid worker.
type ClientAccount struct {
	Ondemand       uint64 `json:"ondemand"`
	PendingRewards uint64 `json:"pendingRewards"`
	PaidRewards    uint64 `json:"paidRewards"`
}

// ServiceAccount is a service credential plus its usage counters.
type ServiceAccount struct {
	APIKey   string `json:"apiKey"`
	Precache uint64 `json:"precache"`
	Ondemand uint64 `json:"ondemand"`
}

type ClientDelta struct {
	Ondemand       uint64
	PendingRewards uint64
}

type ServiceDelta struct {
	Precache uint64
	Ondemand uint64
}

func (a *ClientAccount) apply(d ClientDelta) {
	a.Ondemand += d.Ondemand
	a.PendingRewards += d.PendingRewards
}

func (a *ServiceAccount) apply(d ServiceDelta) {
	a.Precache += d.Precache
	a.Ondemand += d.Ondemand
}

// Store is the storage gateway consumed by the coordinator. Lookups report
// absence through the bool result, errors are reserved for the store failing.
type Store interface {
	FindCachedWork(ctx context.Context, hash wire.Hash) (wire.Word, bool, error)
	// InsertCachedWork keeps the first solution written for a hash.
	InsertCachedWork(ctx context.Context, hash wire.Hash, work wire.Word) error

	FindCredential(ctx context.Context, serviceID string) (string, bool, error)
	PutCredential(ctx context.Context, serviceID, apiKey string) error

	// UpsertClientAccount creates a zeroed account if none exists.
	UpsertClientAccount(ctx context.Context, key PublicKey) error
	// Increment calls on unknown accounts are no-ops.
	IncrementClientCounters(ctx context.Context, key PublicKey, d ClientDelta) error
	IncrementServiceCounters(ctx context.Context, serviceID string, d ServiceDelta) error

	ClientAccount(ctx context.Context, key PublicKey) (ClientAccount, bool, error)
	ServiceAccount(ctx context.Context, serviceID string) (ServiceAccount, bool, error)

	Close() error
}
