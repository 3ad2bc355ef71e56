// Package scheduler runs the background refresh tasks: one goroutine
// per task, a run at startup, then one run per interval tick.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"NetBlueprint/internal/metrics"
)

// Task is one named background job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns the task loops. A cycle still running when its next
// tick arrives causes that tick to be dropped, so slow cycles skip
// rather than queue. A panicking cycle is logged as a failure and the
// loop keeps its schedule.
type Scheduler struct {
	tasks []Task
	wg    sync.WaitGroup
}

func New(tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches every task loop. It returns immediately; cancel the
// context to stop and Wait to drain.
func (s *Scheduler) Start(ctx context.Context) {
	for _, task := range s.tasks {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, task)
		}()
	}
}

// Wait blocks until every task loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	log.Printf("Task '%s' scheduled every %v", task.Name, task.Interval)
	s.runOnce(ctx, task)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("Task '%s' stopped", task.Name)
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
			// A cycle longer than the interval leaves one tick buffered.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	start := time.Now()
	err := safeRun(ctx, task)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		metrics.SchedulerRuns.WithLabelValues(task.Name, "error").Inc()
		log.Printf("Task '%s' failed after %v: %v", task.Name, elapsed, err)
		return
	}
	metrics.SchedulerRuns.WithLabelValues(task.Name, "success").Inc()
	log.Printf("Task '%s' completed in %v", task.Name, elapsed)
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}
