package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
)

// stateJob is a unit of work for the worker pool.
type stateJob struct {
	rec        orbit.Record
	targetTime time.Time
}

// stateResult is the output of a single satellite state computation.
type stateResult struct {
	state SatelliteState
	err   error
	sat   gnss.SatID
}

// WorkerPool manages a fixed number of goroutines for parallel state computation.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// ComputeBatch evaluates every record at the target time using the worker pool.
// Returns states for all records that succeeded. Failures are logged and skipped.
func (wp *WorkerPool) ComputeBatch(ctx context.Context, recs []orbit.Record, targetTime time.Time) ([]SatelliteState, int, int) {
	if len(recs) == 0 {
		return nil, 0, 0
	}

	jobs := make(chan stateJob, wp.workers*2)
	results := make(chan stateResult, wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result := computeSingle(job)
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for _, rec := range recs {
			select {
			case jobs <- stateJob{rec: rec, targetTime: targetTime}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	states := make([]SatelliteState, 0, len(recs))
	var successCount, errorCount int

	for result := range results {
		if result.err != nil {
			errorCount++
			wp.logger.Warn("state computation failed",
				"sat", result.sat.String(),
				"error", result.err,
			)
			continue
		}
		successCount++
		states = append(states, result.state)
	}

	return states, successCount, errorCount
}

// computeSingle evaluates one record.
func computeSingle(job stateJob) stateResult {
	sat := job.rec.Sat()
	st, err := job.rec.StateAt(job.targetTime)
	if err != nil {
		return stateResult{sat: sat, err: err}
	}

	return stateResult{
		sat: sat,
		state: SatelliteState{
			Sat:          sat,
			Toe:          job.rec.ReferenceEpoch(),
			PositionECEF: st.Position,
			VelocityECEF: st.Velocity,
			ClockBias:    st.ClockBias + st.RelCorr,
			Healthy:      job.rec.IsHealthy(),
		},
	}
}
