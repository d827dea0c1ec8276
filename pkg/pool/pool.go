// Package pool runs independent workloads on a fixed set of goroutines. A
// vm.Runtime is single-threaded, so every job gets a runtime of its own that
// lives exactly as long as the job.
package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/nooga/shapevm/pkg/config"
	"github.com/nooga/shapevm/pkg/vm"
)

// Job is one unit of work.
type Job struct {
	Name string

	// Config for the job's runtime; config.Default() when nil.
	Config *config.Config
	Run    func(rt *vm.Runtime) error

	// Snapshot asks for a heap snapshot after Run returns.
	Snapshot bool
}

// Result reports how a job went. Stats and Snapshot are taken before the
// job's runtime is closed.
type Result struct {
	Name      string
	WorkerID  int
	RuntimeID uuid.UUID
	Stats     vm.Stats
	Snapshot  *vm.Snapshot
	Duration  time.Duration
	Err       error
}

// Stats summarizes the pool's throughput.
type Stats struct {
	TotalJobs     int
	ActiveJobs    int
	CompletedJobs int
	FailedJobs    int
	AverageTime   time.Duration
	TotalTime     time.Duration
	WorkerCount   int
}

// Pool dispatches jobs to workers. Start it once, Submit jobs, drain Results
// and Shutdown.
type Pool struct {
	numWorkers   int
	resultBuffer int

	jobQueue   chan *Job
	resultChan chan *Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started    int32 // atomic
	stopped    int32 // atomic
	activeJobs int32 // atomic

	stats      Stats
	statsMutex sync.RWMutex

	log commonlog.Logger
}

// New creates a pool of numWorkers goroutines (one per CPU when
// numWorkers <= 0) whose result channel holds buffer results.
func New(numWorkers, buffer int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Pool{
		numWorkers:   numWorkers,
		resultBuffer: buffer,
		log:          commonlog.GetLogger("shapevm.pool"),
	}
}

// Start launches the workers. They stop when ctx is cancelled or the pool is
// shut down.
func (p *Pool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return fmt.Errorf("pool already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.jobQueue = make(chan *Job, p.numWorkers)
	p.resultChan = make(chan *Result, p.resultBuffer)
	p.stats = Stats{WorkerCount: p.numWorkers}

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.log.Debugf("started %d workers", p.numWorkers)
	return nil
}

// Submit queues a job, blocking while every worker is busy and the queue is
// full.
func (p *Pool) Submit(job *Job) error {
	if atomic.LoadInt32(&p.started) == 0 {
		return fmt.Errorf("pool not started")
	}
	if atomic.LoadInt32(&p.stopped) == 1 {
		return fmt.Errorf("pool stopped")
	}
	if job == nil || job.Run == nil {
		return fmt.Errorf("job has nothing to run")
	}

	select {
	case p.jobQueue <- job:
		atomic.AddInt32(&p.activeJobs, 1)
		p.statsMutex.Lock()
		p.stats.TotalJobs++
		p.statsMutex.Unlock()
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Results delivers one Result per submitted job. It is closed by a
// successful Shutdown.
func (p *Pool) Results() <-chan *Result { return p.resultChan }

// Shutdown stops accepting jobs and waits for queued ones to finish or for
// ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	if atomic.LoadInt32(&p.started) == 0 {
		return fmt.Errorf("pool not started")
	}
	if !atomic.CompareAndSwapInt32(&p.stopped, 0, 1) {
		return fmt.Errorf("pool already stopped")
	}
	close(p.jobQueue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		close(p.resultChan)
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// HasActiveJobs reports whether submitted jobs have not finished yet.
func (p *Pool) HasActiveJobs() bool { return atomic.LoadInt32(&p.activeJobs) > 0 }

// Stats returns a copy of the current statistics.
func (p *Pool) Stats() Stats {
	p.statsMutex.RLock()
	defer p.statsMutex.RUnlock()
	s := p.stats
	s.ActiveJobs = int(atomic.LoadInt32(&p.activeJobs))
	return s
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := p.process(id, job)

			p.statsMutex.Lock()
			if result.Err == nil {
				p.stats.CompletedJobs++
			} else {
				p.stats.FailedJobs++
			}
			p.stats.TotalTime += result.Duration
			p.stats.AverageTime = p.stats.TotalTime / time.Duration(p.stats.CompletedJobs+p.stats.FailedJobs)
			p.statsMutex.Unlock()

			atomic.AddInt32(&p.activeJobs, -1)

			select {
			case p.resultChan <- result:
			case <-p.ctx.Done():
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) process(id int, job *Job) *Result {
	start := time.Now()
	result := &Result{Name: job.Name, WorkerID: id}

	rt, err := vm.New(job.Config)
	if err != nil {
		result.Err = fmt.Errorf("%s: %w", job.Name, err)
		result.Duration = time.Since(start)
		return result
	}
	result.RuntimeID = rt.ID()

	if err := job.Run(rt); err != nil {
		result.Err = fmt.Errorf("%s: %w", job.Name, err)
		p.log.Debugf("job %s failed on worker %d: %v", job.Name, id, err)
	}
	result.Stats = rt.Stats()
	if job.Snapshot {
		result.Snapshot = rt.Snapshot()
	}
	if err := rt.Close(); err != nil && result.Err == nil {
		result.Err = fmt.Errorf("%s: %w", job.Name, err)
	}
	result.Duration = time.Since(start)
	return result
}
