package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrWriterClosed is returned by Do after Close.
var ErrWriterClosed = errors.New("db writer closed")

type TxFn func(ctx context.Context, tx *sql.Tx) error

type writeJob struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Writer serializes write transactions onto a single goroutine so SQLite
// never sees two writers at once.
type Writer struct {
	db   *sql.DB
	jobs chan writeJob
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts the write loop.  queue bounds how many transactions may
// wait before Do blocks; values <= 0 mean 64.
func NewWriter(db *sql.DB, queue int) *Writer {
	if queue <= 0 {
		queue = 64
	}
	w := &Writer{
		db:   db,
		jobs: make(chan writeJob, queue),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close drains queued jobs and stops the loop.  It is safe to call twice.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}

// Do runs fn inside a transaction on the writer goroutine and waits for the
// result.  If ctx ends first Do returns ctx.Err(); the transaction still
// runs to completion and its result is dropped.
func (w *Writer) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	select {
	case w.jobs <- writeJob{ctx: ctx, fn: fn, ch: ch}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer close(w.done)

	for j := range w.jobs {
		j.ch <- w.run(j)
	}
}

func (w *Writer) run(j writeJob) error {
	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}
	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
