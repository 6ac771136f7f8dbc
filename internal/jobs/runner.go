// Package jobs runs background work (document parsing, quiz generation) on a fixed pool of
// workers. Callers observe completion only through the state the handlers persist.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("job runner stopped")

// Job is one unit of background work. Payload is interpreted by the handler for Type.
type Job struct {
	Type    string
	ID      string
	Payload any
}

// Handler executes jobs of one type. Fail is called when Run returns an error or panics;
// it records the failure and must not return it.
type Handler interface {
	Type() string
	Run(ctx context.Context, job Job) error
	Fail(ctx context.Context, job Job, err error)
}

// Submitter queues jobs. Services depend on it rather than on Runner.
type Submitter interface {
	Submit(ctx context.Context, job Job) error
}

// Runner dispatches submitted jobs to registered handlers.
type Runner struct {
	workers   int
	queueSize int
	timeout   time.Duration
	logger    *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	queue    chan Job
	started  bool
	stopped  bool
	wg       sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithQueueSize sets the job buffer size.
func WithQueueSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithTimeout bounds each job's run time. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets a logger for job lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner with defaults of 4 workers and a queue of 64.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		workers:   4,
		queueSize: 64,
		handlers:  make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queue = make(chan Job, r.queueSize)
	return r
}

// Register adds h. Registering a second handler for the same type is an error.
func (r *Runner) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("handler type is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for job type %s", t)
	}
	r.handlers[t] = h
	return nil
}

// Start launches the workers. Calling it more than once has no effect.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
}

// Submit enqueues job, blocking while the queue is full until ctx is done.
func (r *Runner) Submit(ctx context.Context, job Job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrStopped
	}
	if _, ok := r.handlers[job.Type]; !ok {
		return fmt.Errorf("no handler registered for job type %s", job.Type)
	}
	select {
	case r.queue <- job:
		if r.logger != nil {
			r.logger.Debug("job queued", zap.String("type", job.Type), zap.String("id", job.ID))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to queue job: %w", ctx.Err())
	}
}

// Stop rejects new jobs, runs everything already queued and waits for the workers.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if !started {
		for job := range r.queue {
			r.dispatch(job)
		}
		return
	}
	r.wg.Wait()
}

func (r *Runner) work() {
	defer r.wg.Done()
	for job := range r.queue {
		r.dispatch(job)
	}
}

func (r *Runner) dispatch(job Job) {
	r.mu.RLock()
	h := r.handlers[job.Type]
	r.mu.RUnlock()
	if h == nil {
		return
	}

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	start := time.Now()
	err := r.run(ctx, h, job)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("job failed", zap.String("type", job.Type), zap.String("id", job.ID), zap.Error(err))
		}
		h.Fail(context.Background(), job, err)
		return
	}
	if r.logger != nil {
		r.logger.Debug("job done", zap.String("type", job.Type), zap.String("id", job.ID), zap.Duration("took", time.Since(start)))
	}
}

func (r *Runner) run(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if v := recover(); v != nil {
			if r.logger != nil {
				r.logger.Error("job panic", zap.String("type", job.Type), zap.String("id", job.ID), zap.Any("panic", v))
			}
			err = &PanicError{Value: v}
		}
	}()
	return h.Run(ctx, job)
}

// PanicError reports a recovered handler panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
