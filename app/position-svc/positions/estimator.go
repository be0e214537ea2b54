package positions

import (
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/perimap/positioncast/business/data/arrivals"
	"github.com/perimap/positioncast/business/data/delays"
	"github.com/perimap/positioncast/business/data/gtfs"
)

// Estimator runs the full pipeline for one tick: scheduler fan-in, per-trip
// reconciliation fanned out over a bounded worker set, results in input order.
type Estimator struct {
	log        *log.Logger
	scheduler  *Scheduler
	reconciler *Reconciler
	workers    int
}

func NewEstimator(
	log *log.Logger,
	schedule *gtfs.Schedule,
	snapshot arrivals.Snapshot,
	deviations arrivals.DelaySource,
	recorder *delays.Recorder,
	granularLines []string,
	pivotStops map[string][]string) *Estimator {

	projector := NewProjector(schedule)
	return &Estimator{
		log:        log,
		scheduler:  NewScheduler(schedule),
		reconciler: NewReconciler(log, schedule, projector, snapshot, deviations, recorder, granularLines, pivotStops),
		workers:    runtime.NumCPU(),
	}
}

// Projector exposes the geometry cache for instrumentation
func (e *Estimator) Projector() *Projector {
	return e.reconciler.projector
}

// EstimatePositions evaluates every active trip at the schedule instant and
// returns their position estimates
func (e *Estimator) EstimatePositions(currentSeconds int, serviceDate time.Time, now time.Time) []PositionEstimate {
	active := e.scheduler.ActiveSegments(currentSeconds, serviceDate)
	if len(active) == 0 {
		e.reconciler.lastKnown.sweep(now)
		return nil
	}

	estimates := make([]PositionEstimate, len(active))
	workers := e.workers
	if workers > len(active) {
		workers = len(active)
	}
	indexes := make(chan int)
	wg := sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				estimates[i] = e.reconciler.Reconcile(active[i], now)
			}
		}()
	}
	for i := range active {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	e.reconciler.lastKnown.sweep(now)
	return estimates
}

// NextDeparture reports the next first departure after the schedule instant
func (e *Estimator) NextDeparture(currentSeconds int, serviceDate time.Time) (int, bool) {
	return e.scheduler.NextDeparture(currentSeconds, serviceDate)
}
