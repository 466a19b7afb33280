package chunkdb

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"voxelstream.ai/internal/sim/chunk"
)

var ErrClosed = errors.New("chunk store closed")

// AsyncStore moves saves onto a writer goroutine. Records waiting in the queue are served
// from memory, so a Load right after a Save sees the new payload.
type AsyncStore struct {
	inner  chunk.Store
	logger *log.Logger

	ch     chan job
	sendMu sync.RWMutex
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.Mutex
	pending map[chunk.Key]pendingRec
	seq     uint64
	closed  bool

	written atomic.Uint64
	failed  atomic.Uint64
}

type job struct {
	rec chunk.Record
	seq uint64
}

type pendingRec struct {
	rec chunk.Record
	seq uint64
}

type AsyncStats struct {
	Pending int    `json:"pending"`
	Queued  int    `json:"queued"`
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

func NewAsync(inner chunk.Store, queue int, logger *log.Logger) *AsyncStore {
	if queue <= 0 {
		queue = 1024
	}
	s := &AsyncStore{
		inner:   inner,
		logger:  logger,
		ch:      make(chan job, queue),
		pending: map[chunk.Key]pendingRec{},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

// Save queues rec. It blocks only while the queue is full.
func (s *AsyncStore) Save(ctx context.Context, rec chunk.Record) error {
	rec.Data = append([]byte(nil), rec.Data...)
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.seq++
	j := job{rec: rec, seq: s.seq}
	s.pending[rec.Key()] = pendingRec{rec: rec, seq: j.seq}
	s.mu.Unlock()

	select {
	case s.ch <- j:
		return nil
	case <-ctx.Done():
		// The record stays pending and is written by Close.
		return ctx.Err()
	}
}

func (s *AsyncStore) Load(ctx context.Context, key chunk.Key) (chunk.Record, error) {
	s.mu.Lock()
	p, ok := s.pending[key]
	s.mu.Unlock()
	if ok {
		rec := p.rec
		rec.Data = append([]byte(nil), rec.Data...)
		return rec, nil
	}
	return s.inner.Load(ctx, key)
}

func (s *AsyncStore) Exists(ctx context.Context, key chunk.Key) (bool, error) {
	s.mu.Lock()
	_, ok := s.pending[key]
	s.mu.Unlock()
	if ok {
		return true, nil
	}
	return s.inner.Exists(ctx, key)
}

func (s *AsyncStore) Stats() AsyncStats {
	if s == nil {
		return AsyncStats{}
	}
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	return AsyncStats{Pending: n, Queued: len(s.ch), Written: s.written.Load(), Failed: s.failed.Load()}
}

func (s *AsyncStore) loop() {
	ctx := context.Background()
	for j := range s.ch {
		s.write(ctx, j.rec, j.seq)
	}
}

func (s *AsyncStore) write(ctx context.Context, rec chunk.Record, seq uint64) bool {
	if err := s.inner.Save(ctx, rec); err != nil {
		s.failed.Add(1)
		logf(s.logger, "chunkdb async save coord=%s err=%v", rec.Coord, err)
		return false
	}
	s.written.Add(1)
	s.mu.Lock()
	if p, ok := s.pending[rec.Key()]; ok && p.seq == seq {
		delete(s.pending, rec.Key())
	}
	s.mu.Unlock()
	return true
}

// Close drains the queue, retries records whose write failed, and closes the inner store
// when it has a Close method.
func (s *AsyncStore) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()

		s.mu.Lock()
		left := make([]pendingRec, 0, len(s.pending))
		for _, p := range s.pending {
			left = append(left, p)
		}
		s.mu.Unlock()
		for _, p := range left {
			if !s.write(context.Background(), p.rec, p.seq) {
				err = errors.Join(err, errors.New("chunkdb: unwritten record "+p.rec.Coord.String()))
			}
		}
		if c, ok := s.inner.(interface{ Close() error }); ok {
			err = errors.Join(err, c.Close())
		}
	})
	return err
}
