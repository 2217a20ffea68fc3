// Package redis stores resumable session snapshots in Redis and publishes
// per-bar session events over pub/sub, behind a circuit breaker.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultEventChannel = "scalper:events"
	defaultStreamMaxLen = 5000
	defaultMaxFailures  = 5
	defaultResetTimeout = 10 * time.Second
)

// Config configures the Redis store.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	EventChannel string // pub/sub channel; the stream and latest keys derive from it
	StreamMaxLen int64  // approximate cap of the event stream

	MaxFailures  int
	ResetTimeout time.Duration

	// OnStateChange observes breaker transitions (metrics).
	OnStateChange func(from, to State)
}

// Store writes session snapshots and events. Snapshot saves that hit an
// open circuit are held (latest per key) and written when it closes again.
type Store struct {
	client *goredis.Client
	cb     *CircuitBreaker

	channel   string
	streamKey string
	latestKey string
	maxLen    int64

	mu      sync.Mutex
	pending map[string][]byte

	// OnBuffer is called when a snapshot save is deferred.
	OnBuffer func()
	// OnFlush is called after deferred saves are written.
	OnFlush func(count int)
}

// New connects to Redis and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cfg Config) *Store {
	if cfg.EventChannel == "" {
		cfg.EventChannel = defaultEventChannel
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = defaultStreamMaxLen
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}

	s := &Store{
		client:    client,
		cb:        NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		channel:   cfg.EventChannel,
		streamKey: cfg.EventChannel + ":stream",
		latestKey: cfg.EventChannel + ":latest",
		maxLen:    cfg.StreamMaxLen,
		pending:   make(map[string][]byte),
	}
	observe := cfg.OnStateChange
	s.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s", from, to)
		if observe != nil {
			observe(from, to)
		}
		if to == StateClosed {
			go s.flushPending()
		}
	}
	return s
}

// Client returns the underlying client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Breaker returns the store's circuit breaker.
func (s *Store) Breaker() *CircuitBreaker { return s.cb }

// SaveSessionJSON writes the snapshot under sessionKey. While the circuit is
// open the write is deferred and nil is returned.
func (s *Store) SaveSessionJSON(ctx context.Context, sessionKey string, data []byte) error {
	err := s.cb.Execute(func() error {
		return s.client.Set(ctx, sessionKey, data, 0).Err()
	})
	if errors.Is(err, ErrCircuitOpen) {
		s.hold(sessionKey, data)
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis save session %s: %w", sessionKey, err)
	}
	return nil
}

// LoadSessionJSON returns the stored snapshot, or nil, nil when none exists.
// A deferred save that has not reached Redis yet wins.
func (s *Store) LoadSessionJSON(ctx context.Context, sessionKey string) ([]byte, error) {
	s.mu.Lock()
	if data, ok := s.pending[sessionKey]; ok {
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	var data []byte
	err := s.cb.Execute(func() error {
		var err error
		data, err = s.client.Get(ctx, sessionKey).Bytes()
		if errors.Is(err, goredis.Nil) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis load session %s: %w", sessionKey, err)
	}
	return data, nil
}

// PendingCount returns the number of deferred snapshot saves.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) hold(key string, data []byte) {
	s.mu.Lock()
	s.pending[key] = append([]byte(nil), data...)
	s.mu.Unlock()
	if s.OnBuffer != nil {
		s.OnBuffer()
	}
}

func (s *Store) flushPending() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	toFlush := s.pending
	s.pending = make(map[string][]byte)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flushed := 0
	for key, data := range toFlush {
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			log.Printf("[redis] deferred save %s failed: %v", key, err)
			s.mu.Lock()
			if _, newer := s.pending[key]; !newer {
				s.pending[key] = data
			}
			s.mu.Unlock()
			continue
		}
		flushed++
	}

	log.Printf("[redis] flushed %d deferred session saves", flushed)
	if s.OnFlush != nil {
		s.OnFlush(flushed)
	}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
