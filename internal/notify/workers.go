package notify

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// Task is one transport send scheduled by the dispatcher.
type Task func()

// Pool is a fixed pool of worker goroutines executing transport sends.
// It bounds concurrency toward external services; a burst of alerts must
// not become a burst of goroutines.
//
// Unlike a load-shedding pool, Submit never drops: the dispatcher waits on
// every scheduled send, so when the queue is full the task runs inline in
// the caller instead.
type Pool struct {
	workerCount int
	tasks       chan Task
	ctx         context.Context
	wg          sync.WaitGroup
	logger      zerolog.Logger
}

func NewPool(workerCount, queueSize int, logger zerolog.Logger) *Pool {
	return &Pool{
		workerCount: workerCount,
		tasks:       make(chan Task, queueSize),
		logger:      logger,
	}
}

// Start launches the workers. Must be called before Submit.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			if task != nil {
				p.runTask(task)
			}
		case <-p.ctx.Done():
			p.drainTasks()
			return
		}
	}
}

// drainTasks runs every task still queued at shutdown. The dispatcher waits
// on each scheduled send; exiting with tasks queued would strand that wait.
func (p *Pool) drainTasks() {
	for {
		select {
		case task := <-p.tasks:
			if task != nil {
				p.runTask(task)
			}
		default:
			return
		}
	}
}

// runTask executes one task with panic isolation; a panicking transport must
// not take down its worker or the sibling sends of the same notification.
func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Transport panic recovered")
		}
	}()
	task()
}

// Submit schedules a task, running it inline when the queue is full or the
// workers are already shutting down.
func (p *Pool) Submit(task Task) {
	if p.ctx == nil || p.ctx.Err() != nil {
		p.runTask(task)
		return
	}
	select {
	case p.tasks <- task:
	default:
		p.runTask(task)
	}
}

// Stop waits for the workers to exit. Call after cancelling the Start ctx.
func (p *Pool) Stop() {
	p.wg.Wait()
}
