// Package coordinator brokers proof-of-work between services that need a
// solved block hash and the workers that solve it. It owns the session
// registries and the table of pending jobs; every operation runs under one
// lock so that a job is broadcast once and accepted once.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	distpow "example.org/distpow"
	"example.org/distpow/storage"
	"example.org/distpow/wire"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultRewardIncrement  = 10
	DefaultStoreTimeout     = 5 * time.Second
	DefaultMaxPendingWrites = 64
)

type Config struct {
	MaxThreshold    wire.Word
	RewardIncrement uint64
	// DurableAccept awaits the cache write before accepted work is sent.
	// The write runs under the dispatcher lock, so every session stalls for
	// up to StoreTimeout while it is in flight.
	DurableAccept    bool
	StoreTimeout     time.Duration
	MaxPendingWrites int64
}

// ConfigFrom converts the on-disk coordinator configuration.
func ConfigFrom(c distpow.CoordinatorConfig) (Config, error) {
	config := Config{
		MaxThreshold:    wire.WordFromUint64(^uint64(0)),
		RewardIncrement: c.RewardIncrement,
		DurableAccept:   c.DurableAccept,
	}
	if c.MaxThreshold != "" {
		max, err := wire.ParseWord(c.MaxThreshold)
		if err != nil {
			return config, fmt.Errorf("max threshold %q: %w", c.MaxThreshold, err)
		}
		config.MaxThreshold = max
	}
	if config.RewardIncrement == 0 {
		config.RewardIncrement = DefaultRewardIncrement
	}
	return config, nil
}

type Coordinator struct {
	config Config
	store  storage.Store
	tracer distpow.Tracer
	log    zerolog.Logger

	mu       sync.Mutex
	workers  map[string]*Session
	services map[string]*Session
	jobs     map[wire.Hash]*PendingJob

	// background storage writes
	ctx    context.Context
	cancel context.CancelFunc
	writes sync.WaitGroup
	sem    *semaphore.Weighted
}

func New(config Config, store storage.Store, tracer distpow.Tracer, log zerolog.Logger) *Coordinator {
	if tracer == nil {
		tracer = distpow.NopTracer{}
	}
	if config.StoreTimeout == 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	if config.MaxPendingWrites == 0 {
		config.MaxPendingWrites = DefaultMaxPendingWrites
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config:   config,
		store:    store,
		tracer:   tracer,
		log:      log,
		workers:  make(map[string]*Session),
		services: make(map[string]*Session),
		jobs:     make(map[wire.Hash]*PendingJob),
		ctx:      ctx,
		cancel:   cancel,
		sem:      semaphore.NewWeighted(config.MaxPendingWrites),
	}
}

// Connect creates an unauthenticated session for a new connection.
func (c *Coordinator) Connect(peer Peer) *Session {
	s := newSession(peer)
	c.log.Debug().Str("session", s.id).Msg("Session connected")
	return s
}

// Disconnect removes the session from every registry and from the waiter set
// of any job it was waiting on. Calling it twice is harmless.
func (c *Coordinator) Disconnect(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(c.workers, s.id)
	delete(c.services, s.id)
	for hash := range s.waiting {
		if job, ok := c.jobs[hash]; ok {
			delete(job.waiting, s.id)
		}
	}
	s.waiting = nil
	c.log.Debug().Str("session", s.id).Str("role", s.role.String()).Msg("Session disconnected")
}

// HandleFrame processes one inbound frame. The returned error only explains
// why a frame was dropped; nothing is ever sent back because of it.
func (c *Coordinator) HandleFrame(ctx context.Context, s *Session, frame []byte) error {
	typ, payload, err := wire.DecodeFrame(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	role, closed := s.role, s.closed
	c.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	switch role {
	case Unauthenticated:
		switch typ {
		case wire.InitWorker:
			return c.initWorker(ctx, s, payload)
		case wire.InitService:
			return c.initService(ctx, s, payload)
		}
	case Worker:
		switch typ {
		case wire.SubmitWork:
			return c.submitWork(ctx, s, payload)
		}
	case Service:
		switch typ {
		case wire.RequestWork:
			return c.requestWork(ctx, s, payload)
		}
	}
	return fmt.Errorf("%w: type %d as %s", ErrProtocolViolation, typ, role)
}

func (c *Coordinator) Describe(s *Session) SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionInfo{
		ID:        s.id,
		Role:      s.role,
		PublicKey: s.publicKey,
		ServiceID: s.serviceID,
	}
}

func (c *Coordinator) Workers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workers)
}

func (c *Coordinator) Services() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.services)
}

// Flush waits for queued background storage writes.
func (c *Coordinator) Flush() {
	c.writes.Wait()
}

// Close drains background writes. It does not close the store.
func (c *Coordinator) Close() error {
	c.writes.Wait()
	c.cancel()
	return nil
}

// record hands trace actions to the tracer. Callers defer it ahead of the
// unlock so the tracer never runs under c.mu.
func (c *Coordinator) record(actions ...interface{}) {
	for _, a := range actions {
		c.tracer.RecordAction(a)
	}
}

// goStore runs a bookkeeping write in the background. Failures are logged
// and the write is lost; the protocol never waits on it.
func (c *Coordinator) goStore(op string, fn func(ctx context.Context) error) {
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.config.StoreTimeout)
		defer cancel()

		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.log.Error().Err(err).Str("op", op).Msg("Storage write dropped")
			return
		}
		defer c.sem.Release(1)

		if err := fn(ctx); err != nil {
			c.log.Error().Err(err).Str("op", op).Msg("Storage write dropped")
		}
	}()
}
