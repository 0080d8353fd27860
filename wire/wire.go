// Package wire implements the binary framing used between the coordinator and
// its workers and services. A frame is one type byte followed by the payload;
// the transport delimits frames, so there is no length prefix.
package wire

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
)

const (
	HashSize       = 32
	WorkSize       = 8
	HashWorkSize   = HashSize + WorkSize
	CredentialSize = 64
)

var ErrMalformedFrame = errors.New("malformed frame")

// PacketType is the leading byte of every frame. The same numeric tag means
// different things depending on direction and on the role of the session.
type PacketType byte

// Handshake packets, only meaningful while a session is unauthenticated.
const (
	InitWorker  PacketType = 0
	InitService PacketType = 1
)

// Post-handshake packets sent by clients.
const (
	SubmitWork  PacketType = 2 // worker -> coordinator
	RequestWork PacketType = 2 // service -> coordinator
)

// Packets sent by the coordinator.
const (
	Ack    PacketType = 0
	Work   PacketType = 1
	Cancel PacketType = 2
)

// Handshake ack markers.
const (
	MarkerPaidWorker byte = 0x0A
	MarkerWorker     byte = 0x0F
	MarkerService    byte = 0xF0
)

type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Word is an 8 byte value: a nonce submitted by a worker or a difficulty
// threshold requested by a service.
type Word [WorkSize]byte

func (w Word) Uint64() uint64 {
	return binary.BigEndian.Uint64(w[:])
}

func (w Word) String() string {
	return hex.EncodeToString(w[:])
}

func WordFromUint64(v uint64) Word {
	var w Word
	binary.BigEndian.PutUint64(w[:], v)
	return w
}

// Credential is a service id / api key pair, both hex rendered.
type Credential struct {
	ServiceID string
	APIKey    string
}

func EncodeFrame(t PacketType, payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(t)
	copy(frame[1:], payload)
	return frame
}

func DecodeFrame(frame []byte) (PacketType, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, ErrMalformedFrame
	}
	return PacketType(frame[0]), frame[1:], nil
}

// DecodeHashWork reads a block hash followed by an 8 byte word. Callers slice
// the exact region they expect; any trailing bytes are ignored.
func DecodeHashWork(b []byte) (Hash, Word, error) {
	var (
		hash Hash
		work Word
	)
	if len(b) < HashWorkSize {
		return hash, work, ErrMalformedFrame
	}
	copy(hash[:], b[:HashSize])
	copy(work[:], b[HashSize:HashWorkSize])
	return hash, work, nil
}

func EncodeHashWork(hash Hash, work Word) []byte {
	b := make([]byte, HashWorkSize)
	copy(b, hash[:])
	copy(b[HashSize:], work[:])
	return b
}

func DecodeCredentialPair(b []byte) (Credential, error) {
	if len(b) < CredentialSize {
		return Credential{}, ErrMalformedFrame
	}
	return Credential{
		ServiceID: hex.EncodeToString(b[:32]),
		APIKey:    hex.EncodeToString(b[32:64]),
	}, nil
}

func EncodeCredentialPair(serviceID, apiKey [32]byte) []byte {
	b := make([]byte, CredentialSize)
	copy(b, serviceID[:])
	copy(b[32:], apiKey[:])
	return b
}

func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashSize {
		return h, ErrMalformedFrame
	}
	copy(h[:], b)
	return h, nil
}

func ParseWord(s string) (Word, error) {
	var w Word
	b, err := hex.DecodeString(s)
	if err != nil {
		return w, err
	}
	if len(b) != WorkSize {
		return w, ErrMalformedFrame
	}
	copy(w[:], b)
	return w, nil
}
