package taskqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Notifier wakes idle workers when new work may be claimable
type Notifier interface {
	C() <-chan struct{}
	Notify()
	Close() error
}

// LocalNotifier is an in-process Notifier. Notifications coalesce; a
// receiver that misses one falls back to polling.
type LocalNotifier struct {
	ch chan struct{}
}

// NewLocalNotifier creates a local notifier
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{ch: make(chan struct{}, 1)}
}

func (n *LocalNotifier) C() <-chan struct{} {
	return n.ch
}

func (n *LocalNotifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *LocalNotifier) Close() error { return nil }

// PQNotifier listens on the task_queue channel so workers on every replica
// wake when any replica enqueues.
type PQNotifier struct {
	listener *pq.Listener
	local    *LocalNotifier
	logger   zerolog.Logger
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewPQNotifier connects a LISTEN session using dsn
func NewPQNotifier(dsn string, logger *zerolog.Logger) (*PQNotifier, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "queue_notifier").Logger()

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.Warn().Err(err).Int("event", int(ev)).Msg("Task queue listener event")
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	n := &PQNotifier{
		listener: listener,
		local:    NewLocalNotifier(),
		logger:   l,
		done:     make(chan struct{}),
	}
	n.wg.Add(1)
	go n.forward()

	l.Info().Str("channel", NotifyChannel).Msg("Listening for task notifications")
	return n, nil
}

func (n *PQNotifier) forward() {
	defer n.wg.Done()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-n.done:
			return
		case _, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			// a nil notification follows a reconnect; wake anyway in case
			// something was enqueued while disconnected
			n.local.Notify()
		case <-ping.C:
			if err := n.listener.Ping(); err != nil {
				n.logger.Debug().Err(err).Msg("Task queue listener ping failed")
			}
		}
	}
}

func (n *PQNotifier) C() <-chan struct{} {
	return n.local.C()
}

// Notify wakes local workers without a round trip
func (n *PQNotifier) Notify() {
	n.local.Notify()
}

func (n *PQNotifier) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		err = n.listener.Close()
		n.wg.Wait()
	})
	return err
}
