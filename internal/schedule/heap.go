package schedule

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrSchedulerStopped = errors.New("scheduler is stopped")

// NextFunc computes the next run time of a job after now
type NextFunc func(now time.Time) (time.Time, error)

// RunFunc executes a job
type RunFunc func(ctx context.Context)

// task is a job armed for its next execution
type task struct {
	name  string
	runAt time.Time
	next  NextFunc
	run   RunFunc
	index int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of tasks ordered by runAt
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].runAt.Before(h[j].runAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // avoid memory leak
	t.index = -1
	*h = old[0 : n-1]
	return t
}

// Scheduler runs periodic jobs at computed times. A job is re-armed only after its run
// returns, so runs of the same job never overlap.
type Scheduler struct {
	heap    taskHeap
	mu      sync.Mutex
	wakeup  chan struct{}
	tasks   map[string]*task // for O(1) lookup by name
	running sync.WaitGroup
	stopped bool
	stopCh  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a new scheduler
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		heap:   make(taskHeap, 0),
		wakeup: make(chan struct{}, 1),
		tasks:  make(map[string]*task),
		stopCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
		logger: logger.Named("scheduler"),
	}
	heap.Init(&s.heap)
	return s
}

// Start starts the scheduler loop
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.cancel()
	s.running.Wait()
}

// Add registers a job under name, replacing any job with the same name, and arms it for
// next(now).
func (s *Scheduler) Add(name string, next NextFunc, run RunFunc) error {
	runAt, err := next(s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	s.arm(&task{name: name, runAt: runAt, next: next, run: run})

	s.logger.Info("job scheduled", zap.String("job", name), zap.Time("next_run", runAt))
	return nil
}

// arm pushes t, replacing a task of the same name. s.mu must be held.
func (s *Scheduler) arm(t *task) {
	if existing, ok := s.tasks[t.name]; ok && existing.index >= 0 {
		heap.Remove(&s.heap, existing.index)
	}
	heap.Push(&s.heap, t)
	s.tasks[t.name] = t

	// Wake up the loop if this is the earliest task
	if s.heap[0] == t {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
}

// Remove unschedules a job
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	if t.index >= 0 {
		heap.Remove(&s.heap, t.index)
	}
	delete(s.tasks, name)
	return true
}

// NextRun returns when name runs next. It is false for unknown or currently running jobs.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok || t.index < 0 {
		return time.Time{}, false
	}
	return t.runAt, true
}

func (s *Scheduler) loop() {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		var wait time.Duration
		if s.heap.Len() == 0 {
			// No tasks, wait for a wakeup
			wait = 24 * time.Hour
		} else {
			wait = s.heap[0].runAt.Sub(s.now())
			if wait <= 0 {
				t := heap.Pop(&s.heap).(*task)
				s.running.Add(1)
				go s.execute(t)
				s.mu.Unlock()
				continue
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) execute(t *task) {
	defer s.running.Done()
	logger := s.logger.With(zap.String("job", t.name))

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job panicked", zap.Any("panic", r))
			}
		}()
		t.run(s.ctx)
	}()

	runAt, err := t.next(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	// the job may have been removed or replaced while it ran
	if s.stopped || s.tasks[t.name] != t {
		return
	}
	if err != nil {
		logger.Error("failed to compute next run, job unscheduled", zap.Error(err))
		delete(s.tasks, t.name)
		return
	}
	t.runAt = runAt
	s.arm(t)
	logger.Debug("job re-armed", zap.Time("next_run", runAt))
}
