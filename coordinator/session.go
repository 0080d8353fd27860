package coordinator

import (
	"example.org/distpow/storage"
	"example.org/distpow/wire"
	"github.com/google/uuid"
)

type Role uint8

const (
	Unauthenticated Role = iota
	Worker
	Service
)

func (r Role) String() string {
	switch r {
	case Unauthenticated:
		return "unauthenticated"
	case Worker:
		return "worker"
	case Service:
		return "service"
	default:
		return "unknown"
	}
}

// Peer is the transport side of a session. Send must not block on the
// network; a full or closed connection is reported as an error.
type Peer interface {
	Send(frame []byte) error
}

// Session is the per-connection state. All fields are owned by the
// Coordinator and only touched under its lock.
type Session struct {
	id   string
	peer Peer

	role      Role
	publicKey *storage.PublicKey // paid workers only
	serviceID string             // services only

	// hashes this service is waiting on
	waiting map[wire.Hash]struct{}
	closed  bool
}

func newSession(peer Peer) *Session {
	return &Session{
		id:      uuid.New().String(),
		peer:    peer,
		waiting: make(map[wire.Hash]struct{}),
	}
}

// ID is fixed at connect time and safe to read without the lock.
func (s *Session) ID() string {
	return s.id
}

// SessionInfo is a copy of a session's state.
type SessionInfo struct {
	ID        string
	Role      Role
	PublicKey *storage.PublicKey
	ServiceID string
}
