// Package positions implements the per-tick vehicle position estimation
// pipeline: the trip activity scheduler, the route geometry projector and the
// realtime reconciler, plus the loop and web surface around them.
package positions

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/perimap/positioncast/business/data/arrivals"
	"github.com/perimap/positioncast/business/data/delays"
	"github.com/perimap/positioncast/business/data/gtfs"
)

// LoopConfig carries the tick loop tuning read from the service config
type LoopConfig struct {
	TickInterval   time.Duration
	ReloadInterval time.Duration
	// suspend arrival polling when nothing runs and the next departure is at
	// least MinSleepGap away; wake SleepLeadTime before it
	MinSleepGap   time.Duration
	SleepLeadTime time.Duration
	GranularLines []string
	PivotStops    map[string][]string
}

// RunPositionLoop loads the latest schedule and drives estimation ticks until
// shutdownSignal fires. The schedule is reloaded when a newer dataset appears.
func RunPositionLoop(
	log *log.Logger,
	db *sqlx.DB,
	clock Clock,
	snapshot arrivals.Snapshot,
	deviations arrivals.DelaySource,
	recorder *delays.Recorder,
	poller *arrivals.Poller,
	publisher ResultsPublisher,
	store *EstimateStore,
	config LoopConfig,
	shutdownSignal chan os.Signal) error {

	dataSet, err := gtfs.GetLatestSavedDataSet(db)
	if err != nil {
		return fmt.Errorf("unable to find a loaded schedule dataset: %w", err)
	}
	schedule, err := gtfs.LoadSchedule(db, dataSet.Id)
	if err != nil {
		return fmt.Errorf("unable to load schedule for dataset %d: %w", dataSet.Id, err)
	}
	log.Printf("loaded schedule dataset %d with %d trips", dataSet.Id, len(schedule.Trips()))

	estimator := NewEstimator(log, schedule, snapshot, deviations, recorder,
		config.GranularLines, config.PivotStops)
	lastReloadCheck := time.Now()

	sleepChan := make(chan bool)
	sleep := time.Duration(0)
	for {
		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()
		select {
		case <-shutdownSignal:
			log.Printf("exiting position loop on shutdown signal")
			return nil
		case <-sleepChan:
		}
		sleep = config.TickInterval

		start := time.Now()
		if time.Since(lastReloadCheck) >= config.ReloadInterval {
			lastReloadCheck = time.Now()
			latest, err := gtfs.GetLatestSavedDataSet(db)
			if err != nil {
				log.Printf("unable to check for a new schedule dataset: %v", err)
			} else if latest.Id != dataSet.Id {
				reloaded, err := gtfs.LoadSchedule(db, latest.Id)
				if err != nil {
					log.Printf("unable to load schedule for dataset %d: %v", latest.Id, err)
				} else {
					dataSet = latest
					schedule = reloaded
					estimator = NewEstimator(log, schedule, snapshot, deviations, recorder,
						config.GranularLines, config.PivotStops)
					log.Printf("reloaded schedule dataset %d with %d trips", dataSet.Id, len(schedule.Trips()))
				}
			}
		}

		currentSeconds, serviceDate, now := clock.Tick()
		estimates := estimator.EstimatePositions(currentSeconds, serviceDate, now)
		store.Set(estimates, now)
		if publisher != nil {
			publisher.PublishPositions(estimates, now)
		}
		log.Printf("estimated %d positions at %s", len(estimates), gtfs.FormatScheduleTime(currentSeconds))

		if poller != nil {
			managePollerSleep(log, poller, estimator, config, currentSeconds, serviceDate, now, len(estimates))
		}

		if took := time.Since(start); took < config.TickInterval {
			sleep = config.TickInterval - took
		} else {
			sleep = 0
		}
	}
}

// managePollerSleep suspends arrival polling through quiet periods and wakes it
// ahead of the next departure
func managePollerSleep(log *log.Logger, poller *arrivals.Poller, estimator *Estimator,
	config LoopConfig, currentSeconds int, serviceDate time.Time, now time.Time, activeCount int) {

	if activeCount > 0 {
		if poller.Sleeping() {
			log.Printf("resuming arrival polling, %d trips active", activeCount)
			poller.SetSleepUntil(time.Time{})
		}
		return
	}
	if poller.Sleeping() {
		return
	}
	next, found := estimator.NextDeparture(currentSeconds, serviceDate)
	gap := config.MinSleepGap
	if found {
		gap = time.Duration(next-currentSeconds) * time.Second
		if gap < config.MinSleepGap {
			return
		}
		gap -= config.SleepLeadTime
	}
	wakeAt := now.Add(gap)
	log.Printf("no trips active, suspending arrival polling until %s", wakeAt.Format(time.RFC3339))
	poller.SetSleepUntil(wakeAt)
}
