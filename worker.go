package distpow

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"

	"example.org/distpow/pow"
	"example.org/distpow/powlib"
	"example.org/distpow/wire"
	"github.com/rs/zerolog"
)

type WorkerConfig struct {
	WorkerID  string
	CoordAddr string
	// optional hex encoded 32 byte reward key
	PublicKey string
	// mining goroutines per job
	Threads          uint
	TracerServerAddr string
	TracerSecret     []byte
}

type WorkerMine struct {
	Hash       string
	Difficulty string
	WorkerByte uint8
}

type WorkerResult struct {
	Hash       string
	Work       string
	WorkerByte uint8
}

type WorkerCancel struct {
	Hash string
}

// checkEvery is how many nonces a thread tries between kill checks.
const checkEvery = 1 << 12

// Worker solves jobs broadcast by the coordinator. Each job is split across
// Threads goroutines by the top byte of the nonce.
type Worker struct {
	config WorkerConfig
	tracer Tracer
	log    zerolog.Logger
	miner  *powlib.Miner

	mu      sync.Mutex
	running map[wire.Hash]chan struct{}
	wg      sync.WaitGroup
}

func NewWorker(config WorkerConfig, tracer Tracer, log zerolog.Logger) *Worker {
	if config.Threads == 0 {
		config.Threads = 1
	}
	if config.Threads > 256 {
		config.Threads = 256
	}
	if tracer == nil {
		tracer = NopTracer{}
	}
	return &Worker{
		config:  config,
		tracer:  tracer,
		log:     log,
		running: make(map[wire.Hash]chan struct{}),
	}
}

// Initialize connects to the coordinator and reports whether the worker was
// accepted with a reward identity.
func (w *Worker) Initialize() (bool, error) {
	if w.miner != nil {
		return false, errors.New("worker has been initialized before")
	}
	var key *[32]byte
	if w.config.PublicKey != "" {
		k, err := decodeKey32("public key", w.config.PublicKey)
		if err != nil {
			return false, err
		}
		key = &k
	}
	miner, err := powlib.DialWorker(w.config.CoordAddr, key, ChCapacity)
	if err != nil {
		return false, err
	}
	w.miner = miner
	return miner.Paid, nil
}

// Run mines jobs until ctx is cancelled or the coordinator goes away.
func (w *Worker) Run(ctx context.Context) error {
	if w.miner == nil {
		return powlib.ErrNotInitialized
	}
	defer func() {
		w.stopAll()
		w.wg.Wait()
	}()

	jobs, cancels := w.miner.Jobs(), w.miner.Cancels()
	for {
		select {
		case <-ctx.Done():
			w.miner.Close()
			return ctx.Err()
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			w.start(job)
		case hash, ok := <-cancels:
			if !ok {
				return nil
			}
			w.cancel(hash)
		}
	}
}

func (w *Worker) Close() error {
	if w.miner == nil {
		return powlib.ErrNotInitialized
	}
	w.stopAll()
	return w.miner.Close()
}

func (w *Worker) start(job powlib.Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.running[job.Hash]; ok {
		return
	}
	kill := make(chan struct{})
	w.running[job.Hash] = kill

	found := make(chan wire.Word, 1)
	for t := uint(0); t < w.config.Threads; t++ {
		w.wg.Add(1)
		go w.mine(job, uint8(t), kill, found)
	}
	w.wg.Add(1)
	go w.submit(job, kill, found)
}

func (w *Worker) cancel(hash wire.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if kill, ok := w.running[hash]; ok {
		close(kill)
		delete(w.running, hash)
		w.tracer.RecordAction(WorkerCancel{Hash: hash.String()})
	}
}

func (w *Worker) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for hash, kill := range w.running {
		close(kill)
		delete(w.running, hash)
	}
}

// mine walks the nonce space whose top byte is threadByte, starting at a
// random offset so restarts do not repeat work.
func (w *Worker) mine(job powlib.Job, threadByte uint8, kill <-chan struct{}, found chan<- wire.Word) {
	defer w.wg.Done()
	w.tracer.RecordAction(WorkerMine{
		Hash:       job.Hash.String(),
		Difficulty: job.Difficulty.String(),
		WorkerByte: threadByte,
	})

	var seed [8]byte
	rand.Read(seed[:])
	prefix := uint64(threadByte) << 56
	counter := binary.BigEndian.Uint64(seed[:]) &^ (uint64(0xFF) << 56)

	for {
		select {
		case <-kill:
			return
		default:
		}
		for i := 0; i < checkEvery; i++ {
			nonce := wire.WordFromUint64(prefix | counter)
			if pow.IsValid(job.Hash, nonce, job.Difficulty) {
				w.tracer.RecordAction(WorkerResult{
					Hash:       job.Hash.String(),
					Work:       nonce.String(),
					WorkerByte: threadByte,
				})
				select {
				case found <- nonce:
				default:
				}
				return
			}
			counter = (counter + 1) &^ (uint64(0xFF) << 56)
		}
	}
}

// submit sends the first solution found for a job and stops the other
// threads.
func (w *Worker) submit(job powlib.Job, kill chan struct{}, found <-chan wire.Word) {
	defer w.wg.Done()
	select {
	case <-kill:
		return
	case nonce := <-found:
		if err := w.miner.Submit(job.Hash, nonce); err != nil {
			w.log.Warn().Err(err).Str("hash", job.Hash.String()).Msg("Submit failed")
		}
		w.cancel(job.Hash)
	}
}
