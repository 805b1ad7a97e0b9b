package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobFunc is one idempotent, self-contained unit of maintenance work. It
// opens its own unit of work and shares no state across runs.
type JobFunc func(ctx context.Context) error

type Job struct {
	Name  string
	Every time.Duration
	Run   JobFunc
}

// Scheduler runs each job on its own ticker. Jobs fire once immediately at
// startup, then on their interval. A failing run is logged and the ticker
// keeps going.
type Scheduler struct {
	jobs []Job
	wg   sync.WaitGroup
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			s.runOnce(ctx, j)

			ticker := time.NewTicker(j.Every)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.runOnce(ctx, j)
				case <-ctx.Done():
					return
				}
			}
		}(j)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	if ctx.Err() != nil {
		return
	}
	if err := j.Run(ctx); err != nil {
		log.Printf("job %s: %v", j.Name, err)
	}
}

// Wait blocks until all job loops have exited after context cancellation.
func (s *Scheduler) Wait() { s.wg.Wait() }
