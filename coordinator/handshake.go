package coordinator

import (
	"context"
	"crypto/subtle"
	"fmt"

	distpow "example.org/distpow"
	"example.org/distpow/storage"
	"example.org/distpow/wire"
)

func (c *Coordinator) initWorker(ctx context.Context, s *Session, payload []byte) error {
	var key *storage.PublicKey
	switch len(payload) {
	case 0:
	case storage.PublicKeySize:
		key = new(storage.PublicKey)
		copy(key[:], payload)
		if err := c.store.UpsertClientAccount(ctx, *key); err != nil {
			// the worker stays paid; its reward increments will find no account
			c.log.Error().Err(err).Str("account", key.String()).Msg("Failed to create client account")
		}
	default:
		return fmt.Errorf("%w: worker key of %d bytes", wire.ErrMalformedFrame, len(payload))
	}

	marker := wire.MarkerWorker
	if key != nil {
		marker = wire.MarkerPaidWorker
	}

	var trace []interface{}
	defer func() { c.record(trace...) }()
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.role != Unauthenticated {
		return ErrProtocolViolation
	}
	s.role = Worker
	s.publicKey = key
	c.workers[s.id] = s
	c.send(s, wire.EncodeFrame(wire.Ack, []byte{marker}))

	trace = append(trace, distpow.CoordinatorWorkerJoined{SessionID: s.id, Paid: key != nil})
	c.log.Info().Str("session", s.id).Bool("paid", key != nil).Msg("Worker joined")
	return nil
}

func (c *Coordinator) initService(ctx context.Context, s *Session, payload []byte) error {
	cred, err := wire.DecodeCredentialPair(payload)
	if err != nil {
		return err
	}

	stored, found, err := c.store.FindCredential(ctx, cred.ServiceID)
	if err != nil {
		c.log.Error().Err(err).Str("service", cred.ServiceID).Msg("Credential lookup failed")
	}
	ok := err == nil && found &&
		subtle.ConstantTimeCompare([]byte(stored), []byte(cred.APIKey)) == 1

	var trace []interface{}
	defer func() { c.record(trace...) }()
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.role != Unauthenticated {
		return ErrProtocolViolation
	}
	if !ok {
		c.send(s, wire.EncodeFrame(wire.Ack, nil))
		trace = append(trace, distpow.CoordinatorServiceRejected{SessionID: s.id, ServiceID: cred.ServiceID})
		return fmt.Errorf("%w: service %s", ErrAuthFailure, cred.ServiceID)
	}
	s.role = Service
	s.serviceID = cred.ServiceID
	c.services[s.id] = s
	c.send(s, wire.EncodeFrame(wire.Ack, []byte{wire.MarkerService}))

	trace = append(trace, distpow.CoordinatorServiceJoined{SessionID: s.id, ServiceID: cred.ServiceID})
	c.log.Info().Str("session", s.id).Str("service", cred.ServiceID).Msg("Service joined")
	return nil
}
