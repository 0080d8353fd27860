package powlib

import (
	"example.org/distpow/wire"
)

// Job is a block hash the coordinator wants solved at Difficulty.
type Job struct {
	Hash       wire.Hash
	Difficulty wire.Word
}

// Miner is the worker side of the protocol.
type Miner struct {
	// Paid reports whether the coordinator accepted a reward identity.
	Paid bool

	link    *link
	jobs    chan Job
	cancels chan wire.Hash
	done    chan struct{}
}

// DialWorker connects and performs the worker handshake. A nil publicKey
// joins as a plain worker without rewards.
func DialWorker(coordAddr string, publicKey *[32]byte, chCapacity uint) (*Miner, error) {
	l, err := dial(coordAddr)
	if err != nil {
		return nil, err
	}
	var payload []byte
	if publicKey != nil {
		payload = publicKey[:]
	}
	ack, err := l.handshake(wire.InitWorker, payload)
	if err != nil {
		l.conn.Close()
		return nil, err
	}
	if len(ack) != 1 || (ack[0] != wire.MarkerWorker && ack[0] != wire.MarkerPaidWorker) {
		l.conn.Close()
		return nil, ErrRejected
	}

	m := &Miner{
		Paid:    ack[0] == wire.MarkerPaidWorker,
		link:    l,
		jobs:    make(chan Job, chCapacity),
		cancels: make(chan wire.Hash, chCapacity),
		done:    make(chan struct{}),
	}
	go m.readLoop()
	return m, nil
}

// Jobs delivers broadcast work requests; it is closed when the connection ends.
func (m *Miner) Jobs() <-chan Job {
	return m.jobs
}

// Cancels delivers hashes that no longer need work. Cancellation is advisory.
func (m *Miner) Cancels() <-chan wire.Hash {
	return m.cancels
}

func (m *Miner) Submit(hash wire.Hash, work wire.Word) error {
	return m.link.write(wire.SubmitWork, wire.EncodeHashWork(hash, work))
}

func (m *Miner) readLoop() {
	defer close(m.done)
	defer close(m.cancels)
	defer close(m.jobs)
	for {
		_, msg, err := m.link.conn.ReadMessage()
		if err != nil {
			return
		}
		typ, payload, err := wire.DecodeFrame(msg)
		if err != nil {
			continue
		}
		switch typ {
		case wire.Work:
			hash, difficulty, err := wire.DecodeHashWork(payload)
			if err != nil {
				continue
			}
			m.jobs <- Job{Hash: hash, Difficulty: difficulty}
		case wire.Cancel:
			if len(payload) != wire.HashSize {
				continue
			}
			var hash wire.Hash
			copy(hash[:], payload)
			m.cancels <- hash
		}
	}
}

func (m *Miner) Close() error {
	err := m.link.conn.Close()
	go func() {
		for range m.jobs {
		}
	}()
	go func() {
		for range m.cancels {
		}
	}()
	<-m.done
	return err
}
