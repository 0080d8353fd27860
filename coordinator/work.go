package coordinator

import (
	"context"
	"fmt"

	distpow "example.org/distpow"
	"example.org/distpow/pow"
	"example.org/distpow/storage"
	"example.org/distpow/wire"
)

// PendingJob is an unsolved block hash and the services waiting on it.
type PendingJob struct {
	hash       wire.Hash
	difficulty wire.Word
	waiting    map[string]struct{}
}

// JobSnapshot is a copy of a pending job.
type JobSnapshot struct {
	Hash       wire.Hash
	Difficulty wire.Word
	Waiting    []string
}

func (c *Coordinator) PendingJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

func (c *Coordinator) Job(hash wire.Hash) (JobSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[hash]
	if !ok {
		return JobSnapshot{}, false
	}
	snap := JobSnapshot{Hash: job.hash, Difficulty: job.difficulty}
	for id := range job.waiting {
		snap.Waiting = append(snap.Waiting, id)
	}
	return snap, true
}

func (c *Coordinator) requestWork(ctx context.Context, s *Session, payload []byte) error {
	if len(payload) != wire.HashWorkSize {
		return fmt.Errorf("%w: request of %d bytes", wire.ErrMalformedFrame, len(payload))
	}
	hash, difficulty, err := wire.DecodeHashWork(payload)
	if err != nil {
		return err
	}
	if pow.Compare(difficulty, c.config.MaxThreshold) > 0 {
		return fmt.Errorf("%w: %s", ErrDifficultyCeiling, difficulty)
	}

	serviceID := c.serviceID(s)
	c.tracer.RecordAction(distpow.CoordinatorRequestWork{
		ServiceID:  serviceID,
		Hash:       hash.String(),
		Difficulty: difficulty.String(),
	})

	// A failed lookup is treated as a miss so the hash still gets solved.
	cached, hit, err := c.store.FindCachedWork(ctx, hash)
	if err != nil {
		c.log.Error().Err(err).Str("hash", hash.String()).Msg("Cache lookup failed")
	}
	if err == nil && hit {
		c.mu.Lock()
		if !s.closed {
			c.send(s, wire.EncodeFrame(wire.Work, wire.EncodeHashWork(hash, cached)))
		}
		c.mu.Unlock()

		c.tracer.RecordAction(distpow.CoordinatorPrecacheHit{
			ServiceID: serviceID,
			Hash:      hash.String(),
			Work:      cached.String(),
		})
		c.goStore("service precache", func(ctx context.Context) error {
			return c.store.IncrementServiceCounters(ctx, serviceID, storage.ServiceDelta{Precache: 1})
		})
		return nil
	}

	c.goStore("service ondemand", func(ctx context.Context) error {
		return c.store.IncrementServiceCounters(ctx, serviceID, storage.ServiceDelta{Ondemand: 1})
	})

	// The table is re-read under the lock after the lookup, so two services
	// racing on the same hash end up on one job.
	var trace []interface{}
	defer func() { c.record(trace...) }()
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	job, ok := c.jobs[hash]
	if !ok {
		c.jobs[hash] = &PendingJob{
			hash:       hash,
			difficulty: difficulty,
			waiting:    map[string]struct{}{s.id: {}},
		}
		s.waiting[hash] = struct{}{}
		c.sendToAllWorkers(wire.EncodeFrame(wire.Work, wire.EncodeHashWork(hash, difficulty)))

		trace = append(trace, distpow.CoordinatorJobCreated{Hash: hash.String(), Difficulty: difficulty.String()})
		c.log.Debug().Str("hash", hash.String()).Str("difficulty", difficulty.String()).
			Int("workers", len(c.workers)).Msg("Job broadcast")
		return nil
	}

	if _, waiting := job.waiting[s.id]; waiting {
		return nil
	}
	if pow.Compare(job.difficulty, difficulty) < 0 {
		return fmt.Errorf("%w: have %s, requested %s", ErrWeakerJob, job.difficulty, difficulty)
	}
	job.waiting[s.id] = struct{}{}
	s.waiting[hash] = struct{}{}

	trace = append(trace, distpow.CoordinatorJobJoined{ServiceID: serviceID, Hash: hash.String()})
	return nil
}

// submitWork runs entirely under the lock: of two valid submissions for the
// same hash, only the first finds the job.
func (c *Coordinator) submitWork(ctx context.Context, s *Session, payload []byte) error {
	if len(payload) < wire.HashWorkSize {
		return fmt.Errorf("%w: submission of %d bytes", wire.ErrMalformedFrame, len(payload))
	}
	hash, work, err := wire.DecodeHashWork(payload[:wire.HashWorkSize])
	if err != nil {
		return err
	}

	trace := []interface{}{distpow.CoordinatorSubmitWork{SessionID: s.id, Hash: hash.String(), Work: work.String()}}
	defer func() { c.record(trace...) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingJob, hash)
	}
	if !pow.IsValid(hash, work, job.difficulty) {
		return fmt.Errorf("%w: %s", ErrValidationFailure, hash)
	}

	delete(c.jobs, hash)
	for id := range job.waiting {
		if svc, ok := c.services[id]; ok {
			delete(svc.waiting, hash)
		}
	}

	if c.config.DurableAccept {
		wctx, cancel := context.WithTimeout(ctx, c.config.StoreTimeout)
		if err := c.store.InsertCachedWork(wctx, hash, work); err != nil {
			c.log.Error().Err(err).Str("hash", hash.String()).Msg("Cache write failed, delivering anyway")
		}
		cancel()
	} else {
		c.goStore("cache insert", func(ctx context.Context) error {
			return c.store.InsertCachedWork(ctx, hash, work)
		})
	}

	c.sendToAllWorkers(wire.EncodeFrame(wire.Cancel, hash[:]))
	c.sendTo(job.waiting, wire.EncodeFrame(wire.Work, wire.EncodeHashWork(hash, work)))

	if s.publicKey != nil {
		key := *s.publicKey
		reward := c.config.RewardIncrement
		c.goStore("client reward", func(ctx context.Context) error {
			return c.store.IncrementClientCounters(ctx, key, storage.ClientDelta{Ondemand: 1, PendingRewards: reward})
		})
	}

	trace = append(trace, distpow.CoordinatorWorkAccepted{
		Hash:    hash.String(),
		Work:    work.String(),
		Waiting: len(job.waiting),
	})
	c.log.Info().Str("hash", hash.String()).Str("session", s.id).Int("waiting", len(job.waiting)).
		Msg("Work accepted")
	return nil
}

func (c *Coordinator) serviceID(s *Session) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.serviceID
}
