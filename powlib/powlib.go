// Package powlib provides the client side of the coordinator protocol: a POW
// for services that want solved block hashes and a Miner for workers that
// solve them.
package powlib

import (
	"errors"
	"strings"
	"sync"

	"example.org/distpow/wire"
	"github.com/gorilla/websocket"
)

type PowlibMine struct {
	Hash       string
	Difficulty string
}

type PowlibSuccess struct {
	Hash string
	Work string
}

// MineResult contains the result of a mining request.
type MineResult struct {
	Hash wire.Hash
	Work wire.Word
}

// NotifyChannel is used for notifying the client about a mining result.
type NotifyChannel chan MineResult

// Tracer records client side actions. *tracing.Tracer satisfies it.
type Tracer interface {
	RecordAction(action interface{})
}

type nopTracer struct{}

func (nopTracer) RecordAction(interface{}) {}

var (
	ErrRejected       = errors.New("handshake rejected by coordinator")
	ErrNotInitialized = errors.New("powlib: not initialized")
)

// wsURL accepts either a ws:// URL or a bare host:port.
func wsURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + "/"
}

// link is a websocket connection with serialised writes.
type link struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func dial(coordAddr string) (*link, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(coordAddr), nil)
	if err != nil {
		return nil, errors.New("dialing: " + err.Error())
	}
	return &link{conn: conn}, nil
}

func (l *link) write(t wire.PacketType, payload []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteMessage(websocket.BinaryMessage, wire.EncodeFrame(t, payload))
}

// handshake sends an init frame and returns the ack payload, skipping any
// frame that is not an ack.
func (l *link) handshake(t wire.PacketType, payload []byte) ([]byte, error) {
	if err := l.write(t, payload); err != nil {
		return nil, err
	}
	for {
		_, msg, err := l.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		typ, ack, err := wire.DecodeFrame(msg)
		if err == nil && typ == wire.Ack {
			return ack, nil
		}
	}
}

// POW struct represents an instance of the powlib.
type POW struct {
	Notifications NotifyChannel
	coordAddr     string
	link          *link
	done          chan struct{}

	tracerMu sync.Mutex
	tracer   Tracer
}

func NewPOW() *POW {
	return &POW{
		Notifications: nil,
		coordAddr:     "",
		link:          nil,
	}
}

// Initialize connects to the coordinator at coordAddr and authenticates as a
// service. The returned channel has capacity chCapacity and receives every
// solved hash the coordinator delivers; it is closed when the connection
// ends. Wrong credentials yield ErrRejected, after which Initialize may be
// called again.
func (d *POW) Initialize(coordAddr string, serviceID, apiKey [32]byte, chCapacity uint) (NotifyChannel, error) {
	l, err := dial(coordAddr)
	if err != nil {
		return nil, err
	}
	ack, err := l.handshake(wire.InitService, wire.EncodeCredentialPair(serviceID, apiKey))
	if err != nil {
		l.conn.Close()
		return nil, err
	}
	if len(ack) != 1 || ack[0] != wire.MarkerService {
		l.conn.Close()
		return nil, ErrRejected
	}

	d.coordAddr = coordAddr
	d.link = l
	d.Notifications = make(NotifyChannel, chCapacity)
	d.done = make(chan struct{})
	go d.readLoop()
	return d.Notifications, nil
}

func (d *POW) readLoop() {
	defer close(d.done)
	defer close(d.Notifications)
	for {
		_, msg, err := d.link.conn.ReadMessage()
		if err != nil {
			return
		}
		typ, payload, err := wire.DecodeFrame(msg)
		if err != nil || typ != wire.Work || len(payload) != wire.HashWorkSize {
			continue
		}
		hash, work, _ := wire.DecodeHashWork(payload)
		if tracer := d.currentTracer(); tracer != nil {
			tracer.RecordAction(PowlibSuccess{Hash: hash.String(), Work: work.String()})
		}
		d.Notifications <- MineResult{Hash: hash, Work: work}
	}
}

// Mine asks the coordinator for a solution of hash at difficulty. It does not
// wait: the solution arrives on the notify channel, either straight from the
// coordinator's cache or once a worker solves it.
func (d *POW) Mine(tracer Tracer, hash wire.Hash, difficulty wire.Word) error {
	if d.link == nil {
		return ErrNotInitialized
	}
	if tracer == nil {
		tracer = nopTracer{}
	}
	d.tracerMu.Lock()
	d.tracer = tracer
	d.tracerMu.Unlock()
	tracer.RecordAction(PowlibMine{
		Hash:       hash.String(),
		Difficulty: difficulty.String(),
	})
	return d.link.write(wire.RequestWork, wire.EncodeHashWork(hash, difficulty))
}

func (d *POW) currentTracer() Tracer {
	d.tracerMu.Lock()
	defer d.tracerMu.Unlock()
	return d.tracer
}

// Close stops the POW instance from communicating with the coordinator and
// closes the notify channel once pending deliveries are drained by the reader.
func (d *POW) Close() error {
	if d.link == nil {
		return ErrNotInitialized
	}
	err := d.link.conn.Close()
	// unblock a reader stuck on a full channel
	go func() {
		for range d.Notifications {
		}
	}()
	<-d.done
	d.link = nil
	if err != nil {
		return errors.New("POW close: " + err.Error())
	}
	return nil
}
