// Package workers runs a fixed-size pool of goroutines that claim and
// execute enrichment tasks from the task queue.
package workers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kosarica/place-service/internal/metrics"
	"github.com/kosarica/place-service/internal/taskqueue"
)

// Handler executes one claimed task
type Handler interface {
	Handle(ctx context.Context, task *taskqueue.Task) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, task *taskqueue.Task) error

func (f HandlerFunc) Handle(ctx context.Context, task *taskqueue.Task) error {
	return f(ctx, task)
}

// Config holds pool settings
type Config struct {
	PoolID            string
	Threads           int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	TaskTimeout       time.Duration
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		Threads:           4,
		PollInterval:      5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		TaskTimeout:       2 * time.Minute,
	}
}

// Pool is a fixed-size set of workers sharing one queue
type Pool struct {
	queue    *taskqueue.Queue
	handler  Handler
	config   Config
	hostname string
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	workers  []*worker
}

type worker struct {
	mu   sync.Mutex
	info taskqueue.WorkerInfo
}

func (w *worker) snapshot() taskqueue.WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info
}

// New creates a pool. It does not start any goroutines.
func New(queue *taskqueue.Queue, handler Handler, config Config, m *metrics.Recorder, logger *zerolog.Logger) *Pool {
	def := DefaultConfig()
	if config.Threads <= 0 {
		config.Threads = def.Threads
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	if config.PoolID == "" {
		config.PoolID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Pool{
		queue:    queue,
		handler:  handler,
		config:   config,
		hostname: hostname,
		metrics:  m,
		logger:   logger.With().Str("component", "worker").Str("pool_id", config.PoolID).Logger(),
		tracer:   otel.Tracer("place-service/workers"),
	}
}

// Start launches the workers. It is a no-op while the pool is running.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.workers = make([]*worker, p.config.Threads)

	p.logger.Info().
		Int("threads", p.config.Threads).
		Dur("poll_interval", p.config.PollInterval).
		Msg("Starting worker pool")

	now := time.Now()
	for i := 0; i < p.config.Threads; i++ {
		w := &worker{info: taskqueue.WorkerInfo{
			WorkerID:      fmt.Sprintf("%s-%d", p.config.PoolID, i),
			Hostname:      p.hostname,
			Threads:       p.config.Threads,
			Enabled:       true,
			StartedAt:     now,
			LastHeartbeat: now,
		}}
		p.workers[i] = w
		p.wg.Add(1)
		go p.workerLoop(ctx, w, p.stopChan)
	}
}

// Stop signals every worker and waits for in-flight tasks to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.logger.Info().Msg("Worker pool stopping, waiting for in-flight tasks")
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}

// Running reports whether the pool has been started and not stopped
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Workers returns a snapshot of every local worker
func (p *Pool) Workers() []taskqueue.WorkerInfo {
	p.mu.Lock()
	ws := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

	out := make([]taskqueue.WorkerInfo, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.snapshot())
	}
	return out
}

func (p *Pool) setStatus(w *worker, status taskqueue.WorkerStatus, currentTask string) {
	w.mu.Lock()
	from := w.info.Status
	w.info.Status = status
	w.info.CurrentTaskID = currentTask
	w.mu.Unlock()

	if from != status {
		p.metrics.RecordWorkerStatus(string(from), string(status))
	}
}

func (p *Pool) heartbeat(w *worker) {
	w.mu.Lock()
	w.info.LastHeartbeat = time.Now()
	info := w.info
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.queue.Heartbeat(ctx, info); err != nil {
		p.logger.Warn().Err(err).Str("worker_id", info.WorkerID).Msg("Failed to write heartbeat")
	}
}

// heartbeatLoop keeps the worker row fresh until done is closed, including
// while a long task runs.
func (p *Pool) heartbeatLoop(w *worker, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	ticker := time.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.heartbeat(w)
		}
	}
}

func (p *Pool) workerLoop(ctx context.Context, w *worker, stop <-chan struct{}) {
	defer p.wg.Done()

	workerID := w.info.WorkerID
	logger := p.logger.With().Str("worker_id", workerID).Logger()

	p.setStatus(w, taskqueue.WorkerStarting, "")
	p.heartbeat(w)

	hbDone := make(chan struct{})
	hbExited := make(chan struct{})
	go p.heartbeatLoop(w, hbDone, hbExited)

	poll := time.NewTicker(p.config.PollInterval)
	defer poll.Stop()

	logger.Info().Msg("Starting worker goroutine")
	p.setStatus(w, taskqueue.WorkerIdle, "")

loop:
	for {
		select {
		case <-stop:
			logger.Info().Msg("Worker received stop signal")
			break loop
		case <-ctx.Done():
			logger.Info().Msg("Worker shutting down")
			break loop
		default:
		}

		task, err := p.queue.ClaimNext(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Failed to claim task")
		}
		if task != nil {
			p.execute(ctx, w, task, logger)
			continue
		}

		p.setStatus(w, taskqueue.WorkerIdle, "")
		select {
		case <-stop:
			logger.Info().Msg("Worker received stop signal")
			break loop
		case <-ctx.Done():
			logger.Info().Msg("Worker shutting down")
			break loop
		case <-p.queue.Wake():
		case <-poll.C:
		}
	}

	p.setStatus(w, taskqueue.WorkerStopping, "")
	close(hbDone)
	<-hbExited
	p.heartbeat(w)

	p.setStatus(w, taskqueue.WorkerStopped, "")
	p.metrics.RecordWorkerStatus(string(taskqueue.WorkerStopped), "")

	rmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.queue.RemoveWorker(rmCtx, workerID); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove worker row")
	}
	logger.Info().Msg("Worker stopped")
}

// execute runs one task to resolution. The task context is detached from
// ctx so a shutdown never abandons a task mid-execution.
func (p *Pool) execute(ctx context.Context, w *worker, task *taskqueue.Task, logger zerolog.Logger) {
	p.setStatus(w, taskqueue.WorkerActive, task.ID)
	defer p.setStatus(w, taskqueue.WorkerIdle, "")

	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.TaskTimeout)
	defer cancel()

	taskCtx, span := p.tracer.Start(taskCtx, "task.execute", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.target_id", task.TargetID),
		attribute.Int("task.attempt", task.Attempt()),
	))
	defer span.End()

	logger.Info().
		Str("task_id", task.ID).
		Str("target_id", task.TargetID).
		Int("attempt", task.Attempt()).
		Msg("Worker processing task")

	handlerErr := p.safeHandle(taskCtx, task)

	resolveCtx, cancelResolve := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelResolve()

	if handlerErr == nil {
		if err := p.queue.Complete(resolveCtx, task, w.info.WorkerID); err != nil {
			p.logResolveError(logger, task, err)
			return
		}
		w.mu.Lock()
		w.info.TasksProcessed++
		w.mu.Unlock()
		logger.Info().Str("task_id", task.ID).Msg("Worker completed task")
		return
	}

	span.RecordError(handlerErr)
	span.SetStatus(codes.Error, handlerErr.Error())

	w.mu.Lock()
	w.info.TasksFailed++
	w.mu.Unlock()

	if _, err := p.queue.Fail(resolveCtx, task, w.info.WorkerID, handlerErr); err != nil {
		p.logResolveError(logger, task, err)
	}
}

func (p *Pool) logResolveError(logger zerolog.Logger, task *taskqueue.Task, err error) {
	if errors.Is(err, taskqueue.ErrNotOwned) {
		logger.Warn().Str("task_id", task.ID).Msg("Task was reclaimed before it could be resolved")
		return
	}
	logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to resolve task")
}

func (p *Pool) safeHandle(ctx context.Context, task *taskqueue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return p.handler.Handle(ctx, task)
}
