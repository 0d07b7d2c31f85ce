// Package controller runs the ingestion batch forever, backing off
// exponentially while batches fail.
package controller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kosarica/place-service/internal/metrics"
)

// ErrNotRunning is returned by Shutdown when there is nothing left to stop
var ErrNotRunning = errors.New("controller is not running")

// Batch is one unit of supervised work
type Batch interface {
	RunBatch(ctx context.Context) error
}

// BatchFunc adapts a function to Batch
type BatchFunc func(ctx context.Context) error

func (f BatchFunc) RunBatch(ctx context.Context) error {
	return f(ctx)
}

// Service is started and stopped together with the controller
type Service interface {
	Start(ctx context.Context)
	Stop()
}

// State is the controller lifecycle state
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Config holds the backoff schedule
type Config struct {
	BaseBackoff       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	// BatchTimeout bounds one batch when positive.
	BatchTimeout time.Duration
}

// Validate rejects schedules that cannot back off
func (c Config) Validate() error {
	if c.BaseBackoff <= 0 {
		return fmt.Errorf("base backoff must be positive, got %s", c.BaseBackoff)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %v", c.BackoffMultiplier)
	}
	if c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("max backoff %s is below base backoff %s", c.MaxBackoff, c.BaseBackoff)
	}
	return nil
}

// ServiceStatus is a point-in-time view of the controller
type ServiceStatus struct {
	Running           bool       `json:"running"`
	State             string     `json:"state"`
	TotalBatches      int64      `json:"totalBatches"`
	SuccessfulBatches int64      `json:"successfulBatches"`
	FailedBatches     int64      `json:"failedBatches"`
	SuccessRate       float64    `json:"successRate"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	UptimeMs          int64      `json:"uptimeMs"`
	CurrentBackoffMs  int64      `json:"currentBackoffMs"`
	LastError         string     `json:"lastError,omitempty"`
	LastBatchAt       *time.Time `json:"lastBatchAt,omitempty"`
}

// Controller is a Stopped/Running state machine around a batch loop
type Controller struct {
	batch    Batch
	cfg      Config
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	now      func() time.Time
	services []Service

	mu         sync.Mutex
	state      State
	stopping   bool
	stopCh     chan struct{}
	done       chan struct{}
	stopped    chan struct{}
	cancel     context.CancelFunc
	startedAt  time.Time
	stoppedAt  time.Time
	total      int64
	successful int64
	failed     int64
	backoff    time.Duration
	lastError  string
	lastBatch  time.Time
}

// New creates a stopped controller
func New(batch Batch, cfg Config, m *metrics.Recorder, logger *zerolog.Logger) (*Controller, error) {
	if batch == nil {
		return nil, fmt.Errorf("controller: batch is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Controller{
		batch:   batch,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "controller").Logger(),
		now:     time.Now,
		backoff: cfg.BaseBackoff,
	}, nil
}

// Attach registers a service that runs while the controller runs. It must
// be called before Start.
func (c *Controller) Attach(s Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = append(c.services, s)
}

// Start launches the loop. It returns false when already running.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.state = Running
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.stopped = make(chan struct{})
	c.cancel = cancel
	c.startedAt = c.now()
	c.stoppedAt = time.Time{}
	c.total, c.successful, c.failed = 0, 0, 0
	c.backoff = c.cfg.BaseBackoff
	c.lastError = ""
	c.lastBatch = time.Time{}

	for _, s := range c.services {
		s.Start(ctx)
	}
	go c.loop(ctx, c.stopCh, c.done)

	c.metrics.SetControllerRunning(true)
	c.logger.Info().
		Dur("base_backoff", c.cfg.BaseBackoff).
		Float64("multiplier", c.cfg.BackoffMultiplier).
		Dur("max_backoff", c.cfg.MaxBackoff).
		Msg("Controller started")
	return true
}

// Stop lets the current batch finish, waits for the loop to exit and then
// stops attached services. It returns false when already stopped or when
// another caller's stop was already in progress.
func (c *Controller) Stop() bool {
	return c.Shutdown(context.Background()) == nil
}

// Shutdown is Stop with a deadline. When ctx ends first the running batch
// is cancelled and ctx.Err() is returned once the loop has exited. A caller
// that joins a stop already in progress waits until the controller is fully
// stopped and gets ErrNotRunning.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return ErrNotRunning
	}
	done, stopped, cancel := c.done, c.stopped, c.cancel
	if c.stopping {
		c.mu.Unlock()
		select {
		case <-stopped:
			return ErrNotRunning
		case <-ctx.Done():
			cancel()
			<-stopped
			return ctx.Err()
		}
	}
	c.stopping = true
	close(c.stopCh)
	c.mu.Unlock()

	c.logger.Info().Msg("Controller stopping, waiting for current batch")

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		cancel()
		<-done
	}

	c.mu.Lock()
	services := append([]Service(nil), c.services...)
	c.mu.Unlock()
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}
	cancel()

	c.mu.Lock()
	c.state = Stopped
	c.stopping = false
	c.stoppedAt = c.now()
	close(stopped)
	c.mu.Unlock()

	c.metrics.SetControllerRunning(false)
	c.logger.Info().Msg("Controller stopped")
	return err
}

// Running reports whether the controller is in the Running state
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Running
}

// Status computes a snapshot from the current counters
func (c *Controller) Status() ServiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := ServiceStatus{
		Running:           c.state == Running,
		State:             c.state.String(),
		TotalBatches:      c.total,
		SuccessfulBatches: c.successful,
		FailedBatches:     c.failed,
		CurrentBackoffMs:  c.backoff.Milliseconds(),
		LastError:         c.lastError,
	}
	if c.stopping {
		st.State = "stopping"
	}
	if c.total > 0 {
		st.SuccessRate = float64(c.successful) / float64(c.total)
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		st.StartedAt = &started
		// a stopped controller reports the uptime of its last run
		end := c.now()
		if c.state == Stopped && !c.stoppedAt.IsZero() {
			end = c.stoppedAt
		}
		st.UptimeMs = end.Sub(started).Milliseconds()
	}
	if !c.lastBatch.IsZero() {
		last := c.lastBatch
		st.LastBatchAt = &last
	}
	return st
}

// NextBackoff returns the delay after a batch: base on success, otherwise
// cur × multiplier capped at MaxBackoff
func (c *Controller) NextBackoff(cur time.Duration, success bool) time.Duration {
	if success {
		return c.cfg.BaseBackoff
	}
	next := time.Duration(float64(cur) * c.cfg.BackoffMultiplier)
	if next > c.cfg.MaxBackoff || next < 0 {
		return c.cfg.MaxBackoff
	}
	return next
}

func (c *Controller) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		start := c.now()
		err := c.runBatch(ctx)
		delay := c.record(err, start)

		if err != nil {
			c.logger.Error().Err(err).
				Dur("backoff", delay).
				Msg("Batch failed")
		} else {
			c.logger.Debug().
				Dur("duration", c.now().Sub(start)).
				Dur("backoff", delay).
				Msg("Batch completed")
		}

		if !sleep(stop, delay) {
			return
		}
	}
}

// runBatch runs one batch, converting a panic into an error
func (c *Controller) runBatch(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Batch panicked")
			err = fmt.Errorf("batch panicked: %v", r)
		}
	}()

	if c.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.BatchTimeout)
		defer cancel()
	}
	return c.batch.RunBatch(ctx)
}

func (c *Controller) record(err error, at time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.lastBatch = at
	if err == nil {
		c.successful++
	} else {
		c.failed++
		c.lastError = err.Error()
	}
	c.backoff = c.NextBackoff(c.backoff, err == nil)
	c.metrics.RecordBatch(err == nil, c.backoff)
	return c.backoff
}

// sleep waits d or until stop closes. It reports whether the loop should continue.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
