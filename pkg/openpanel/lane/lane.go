// Package lane provides a single-consumer execution channel: jobs run one at
// a time, in submission order, on one background goroutine.
//
// Submit never blocks on job execution. A slow or failing job delays later
// jobs but never the submitter, and a failed job does not stop later ones.
package lane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Job is one unit of work executed by the lane.
type Job func(ctx context.Context) error

// ErrClosed is returned by Submit once the lane no longer accepts jobs.
var ErrClosed = errors.New("lane closed")

// Config configures lane behavior. The queue itself is unbounded.
type Config struct {
	// OnError is called on the worker goroutine when a job returns an
	// error or panics.
	OnError func(err error)
}

// Lane is a FIFO of jobs drained by exactly one worker goroutine.
type Lane struct {
	cfg Config

	mu          sync.Mutex
	pending     []Job
	outstanding int           // queued + running
	idle        chan struct{} // closed whenever outstanding == 0

	notify  chan struct{}
	closed  atomic.Bool
	closeCh chan struct{}
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a lane and starts its worker.
func New(cfg Config) *Lane {
	ctx, cancel := context.WithCancel(context.Background())

	idle := make(chan struct{})
	close(idle)

	l := &Lane{
		cfg:     cfg,
		idle:    idle,
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	go l.process()

	return l
}

// Submit enqueues a job behind every previously submitted job.
func (l *Lane) Submit(job Job) error {
	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return ErrClosed
	}
	l.pending = append(l.pending, job)
	if l.outstanding == 0 {
		l.idle = make(chan struct{})
	}
	l.outstanding++
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
		// worker already has a wakeup pending
	}
	return nil
}

// Len returns the number of jobs queued or running.
func (l *Lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstanding
}

// Wait blocks until every job submitted so far has finished, or ctx is done.
func (l *Lane) Wait(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, waits for queued jobs to finish, then stops
// the worker. If ctx ends first, the running job's context is cancelled,
// remaining jobs are discarded and ctx's error is returned.
func (l *Lane) Close(ctx context.Context) error {
	l.mu.Lock()
	first := l.closed.CompareAndSwap(false, true)
	l.mu.Unlock()
	if !first {
		<-l.done
		return nil
	}

	waitErr := l.Wait(ctx)

	close(l.closeCh)
	l.cancel()
	<-l.done

	if waitErr != nil {
		return fmt.Errorf("close lane: %w", waitErr)
	}
	return nil
}

// process runs jobs until the lane is closed.
func (l *Lane) process() {
	defer close(l.done)

	for {
		select {
		case <-l.notify:
			for {
				select {
				case <-l.closeCh:
					l.discard()
					return
				default:
				}

				job, ok := l.next()
				if !ok {
					break
				}
				l.run(job)
				l.finish()
			}

		case <-l.closeCh:
			l.discard()
			return
		}
	}
}

func (l *Lane) next() (Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil, false
	}
	job := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return job, true
}

func (l *Lane) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.outstanding--
	if l.outstanding == 0 {
		close(l.idle)
	}
}

func (l *Lane) discard() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = nil
	if l.outstanding > 0 {
		l.outstanding = 0
		close(l.idle)
	}
}

func (l *Lane) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			l.report(fmt.Errorf("lane job panicked: %v", r))
		}
	}()

	if err := job(l.ctx); err != nil {
		l.report(err)
	}
}

func (l *Lane) report(err error) {
	if l.cfg.OnError != nil {
		l.cfg.OnError(err)
	}
}
