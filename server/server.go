// Package server exposes the coordinator over WebSocket. Every connection is
// one session and every message one frame.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	distpow "example.org/distpow"
	"example.org/distpow/coordinator"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPath         = "/"
	DefaultSendQueue    = 256
	DefaultReadLimit    = 512
	DefaultWriteTimeout = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

type Config struct {
	Path string
	// zero MessagesPerSecond disables rate limiting
	RateLimit    distpow.RateLimitConfig
	SendQueue    int
	ReadLimit    int64
	WriteTimeout time.Duration
}

type Server struct {
	coord    *coordinator.Coordinator
	config   Config
	upgrader websocket.Upgrader
	log      zerolog.Logger

	limiter      *limiter.TokenBucket
	limiterStore store.Store

	mu    sync.Mutex
	conns map[*conn]struct{}
	wg    sync.WaitGroup
}

func New(coord *coordinator.Coordinator, config Config, log zerolog.Logger) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.SendQueue == 0 {
		config.SendQueue = DefaultSendQueue
	}
	if config.ReadLimit == 0 {
		config.ReadLimit = DefaultReadLimit
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}

	s := &Server{
		coord:  coord,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// workers and services are not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[*conn]struct{}),
	}

	if config.RateLimit.MessagesPerSecond > 0 {
		burst := config.RateLimit.BurstSize
		if burst == 0 {
			burst = config.RateLimit.MessagesPerSecond
		}
		s.limiterStore = store.NewMemoryStore(time.Minute)
		tb, err := limiter.NewTokenBucket(
			limiter.Config{
				Rate:     int64(config.RateLimit.MessagesPerSecond),
				Duration: time.Second,
				Burst:    int64(burst),
			},
			s.limiterStore,
		)
		if err != nil {
			log.Error().Err(err).Msg("Rate limiter disabled")
		} else {
			s.limiter = tb
		}
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, s)
	return mux
}

// Run serves on addr until ctx is cancelled, then shuts down and closes every
// open connection.
func (s *Server) Run(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info().Str("addr", l.Addr().String()).Str("path", s.config.Path).Msg("Listening")
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.closeAll()
		s.wg.Wait()
		return err
	})
	return g.Wait()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Upgrade failed")
		return
	}
	ws.SetReadLimit(s.config.ReadLimit)

	c := &conn{
		ws:           ws,
		out:          make(chan []byte, s.config.SendQueue),
		done:         make(chan struct{}),
		writeTimeout: s.config.WriteTimeout,
	}
	if !s.track(c) {
		ws.Close()
		return
	}
	defer s.untrack(c)

	session := s.coord.Connect(c)
	log := s.log.With().Str("session", session.ID()).Str("remote", r.RemoteAddr).Logger()

	go c.writeLoop(log)
	s.readLoop(r.Context(), c, session, log)

	s.coord.Disconnect(session)
	c.close()
}

func (s *Server) readLoop(ctx context.Context, c *conn, session *coordinator.Session, log zerolog.Logger) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Connection lost")
			}
			return
		}
		if s.limiter != nil && !s.limiter.Allow(session.ID()) {
			log.Debug().Msg("Frame dropped: rate limited")
			continue
		}
		if err := s.coord.HandleFrame(ctx, session, msg); err != nil {
			log.Debug().Err(err).Msg("Frame dropped")
		}
	}
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, c)
	}
	s.mu.Unlock()
	s.wg.Done()
}

// closeAll closes open connections and refuses new ones.
func (s *Server) closeAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for c := range conns {
		c.close()
	}
}

// conn adapts a websocket connection to coordinator.Peer. Frames are queued
// and written by a single goroutine.
type conn struct {
	ws           *websocket.Conn
	out          chan []byte
	done         chan struct{}
	once         sync.Once
	writeTimeout time.Duration
}

func (c *conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return errQueueFull
	}
}

func (c *conn) writeLoop(log zerolog.Logger) {
	for {
		select {
		case frame := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Debug().Err(err).Msg("Write failed")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
