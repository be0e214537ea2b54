package delays

import (
	"log"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
)

const maxHistorySize = 5000

type lineTotals struct {
	totalDelay int
	count      int
	maxDelay   int
	minDelay   int
	majorCount int
}

type bucketTotals struct {
	totalDelay int
	count      int
}

// Recorder accumulates delay observations in memory and optionally persists them.
// Safe for concurrent use by the estimation workers.
type Recorder struct {
	log *log.Logger
	db  *sqlx.DB

	mu      sync.Mutex
	total   int
	byLine  map[string]*lineTotals
	byHour  map[int]*bucketTotals
	byStop  map[string]*bucketTotals
	history []Observation
}

// NewRecorder builds a Recorder. db may be nil, in which case observations are
// aggregated in memory only.
func NewRecorder(log *log.Logger, db *sqlx.DB) *Recorder {
	return &Recorder{
		log:    log,
		db:     db,
		byLine: make(map[string]*lineTotals),
		byHour: make(map[int]*bucketTotals),
		byStop: make(map[string]*bucketTotals),
	}
}

// Record aggregates one observation. Deviations under MinRecordSeconds are ignored.
// Persistence failures are logged and do not affect the in-memory aggregates.
func (r *Recorder) Record(observation Observation) {
	if observation.DelaySeconds < MinRecordSeconds && observation.DelaySeconds > -MinRecordSeconds {
		return
	}
	observation.Major = observation.DelaySeconds >= MajorSeconds || observation.DelaySeconds <= -MajorSeconds

	r.mu.Lock()
	r.total++
	line, present := r.byLine[observation.RouteId]
	if !present {
		line = &lineTotals{minDelay: observation.DelaySeconds, maxDelay: observation.DelaySeconds}
		r.byLine[observation.RouteId] = line
	}
	line.totalDelay += observation.DelaySeconds
	line.count++
	if observation.DelaySeconds > line.maxDelay {
		line.maxDelay = observation.DelaySeconds
	}
	if observation.DelaySeconds < line.minDelay {
		line.minDelay = observation.DelaySeconds
	}
	if observation.Major {
		line.majorCount++
	}

	hour := observation.ObservedAt.Hour()
	hourBucket, present := r.byHour[hour]
	if !present {
		hourBucket = &bucketTotals{}
		r.byHour[hour] = hourBucket
	}
	hourBucket.totalDelay += observation.DelaySeconds
	hourBucket.count++

	stopBucket, present := r.byStop[observation.StopId]
	if !present {
		stopBucket = &bucketTotals{}
		r.byStop[observation.StopId] = stopBucket
	}
	stopBucket.totalDelay += observation.DelaySeconds
	stopBucket.count++

	r.history = append(r.history, observation)
	if len(r.history) > maxHistorySize {
		r.history = r.history[1:]
	}
	r.mu.Unlock()

	if r.db != nil {
		if err := RecordObservation(r.db, &observation); err != nil {
			r.log.Printf("error saving delay observation for trip %s: %v", observation.TripId, err)
		}
	}
}

// Stats compiles the current aggregates
func (r *Recorder) Stats() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := Summary{TotalObservations: r.total}
	for routeId, totals := range r.byLine {
		summary.LineStats = append(summary.LineStats, LineStat{
			RouteId:      routeId,
			AverageDelay: totals.totalDelay / totals.count,
			MaxDelay:     totals.maxDelay,
			MinDelay:     totals.minDelay,
			MajorCount:   totals.majorCount,
			Observations: totals.count,
		})
	}
	sort.Slice(summary.LineStats, func(i, j int) bool {
		return summary.LineStats[i].RouteId < summary.LineStats[j].RouteId
	})

	for hour, totals := range r.byHour {
		summary.HourlyStats = append(summary.HourlyStats, HourStat{
			Hour:         hour,
			AverageDelay: totals.totalDelay / totals.count,
			Observations: totals.count,
		})
	}
	sort.Slice(summary.HourlyStats, func(i, j int) bool {
		return summary.HourlyStats[i].Hour < summary.HourlyStats[j].Hour
	})

	for stopId, totals := range r.byStop {
		summary.WorstStops = append(summary.WorstStops, StopStat{
			StopId:       stopId,
			AverageDelay: totals.totalDelay / totals.count,
			Observations: totals.count,
		})
	}
	sort.Slice(summary.WorstStops, func(i, j int) bool {
		return summary.WorstStops[i].AverageDelay > summary.WorstStops[j].AverageDelay
	})
	if len(summary.WorstStops) > 10 {
		summary.WorstStops = summary.WorstStops[:10]
	}
	return summary
}
