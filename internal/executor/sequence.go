package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work posted to a Sequence
type Task func()

// Sequence executes tasks sequentially on a dedicated goroutine
type Sequence struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	closed bool

	done     chan struct{}
	executed atomic.Uint64
}

// New creates a sequence and starts its run loop
func New(name string, logger *zap.Logger) *Sequence {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sequence{
		name:   name,
		logger: logger.With(zap.String("sequence", name)),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Name returns the sequence name
func (s *Sequence) Name() string {
	return s.name
}

// PostTask queues a task. Returns false if the sequence was shut down.
func (s *Sequence) PostTask(task Task) bool {
	if task == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.queue = append(s.queue, task)
	s.cond.Signal()
	return true
}

// PostDelayedTask queues a task after delay. The returned handle cancels it.
func (s *Sequence) PostDelayedTask(task Task, delay time.Duration) *DelayedTask {
	d := &DelayedTask{}
	if delay <= 0 {
		s.PostTask(func() {
			if !d.canceled.Load() {
				task()
			}
		})
		return d
	}

	d.timer = time.AfterFunc(delay, func() {
		s.PostTask(func() {
			if !d.canceled.Load() {
				task()
			}
		})
	})
	return d
}

// PostTaskAndReply runs task here, then reply on the reply sequence
func (s *Sequence) PostTaskAndReply(task Task, replyTo *Sequence, reply Task) bool {
	return s.PostTask(func() {
		task()
		replyTo.PostTask(reply)
	})
}

// PostTaskAndReplyWithResult runs task on s and hands its result to reply on replyTo
func PostTaskAndReplyWithResult[T any](s *Sequence, task func() T, replyTo *Sequence, reply func(T)) bool {
	return s.PostTask(func() {
		result := task()
		replyTo.PostTask(func() {
			reply(result)
		})
	})
}

// Invoke runs task on the sequence and waits for it to finish.
// Must not be called from a task of the same sequence.
func (s *Sequence) Invoke(task Task) bool {
	finished := make(chan struct{})
	if !s.PostTask(func() {
		defer close(finished)
		task()
	}) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-s.done:
		return false
	}
}

// Flush waits until every task queued before the call has run
func (s *Sequence) Flush() {
	s.Invoke(func() {})
}

// Executed returns the number of tasks run so far
func (s *Sequence) Executed() uint64 {
	return s.executed.Load()
}

// Shutdown stops accepting tasks. Tasks already queued still run.
func (s *Sequence) Shutdown() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// Done is closed once the run loop has exited
func (s *Sequence) Done() <-chan struct{} {
	return s.done
}

// IsShutdown reports whether Shutdown was called
func (s *Sequence) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sequence) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.runTask(task)
	}
}

func (s *Sequence) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
	s.executed.Add(1)
}

// DelayedTask is a handle to a task posted with a delay
type DelayedTask struct {
	timer    *time.Timer
	canceled atomic.Bool
}

// Cancel prevents the task from running if it has not started yet
func (d *DelayedTask) Cancel() {
	if d == nil {
		return
	}
	d.canceled.Store(true)
	if d.timer != nil {
		d.timer.Stop()
	}
}
