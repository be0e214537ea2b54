package arrivals

import (
	"log"
	"os"
	"sync"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/perimap/positioncast/foundation/httpclient"
)

// TripUpdateListener polls a GTFS-RT TripUpdate feed and keeps the latest known
// schedule deviation per trip. It is the producer behind the reconciler's
// scheduled-deviation layer. Deviations older than expireAfter are dropped.
type TripUpdateListener struct {
	log         *log.Logger
	feedURL     string
	timeout     time.Duration
	expireAfter time.Duration

	mu     sync.RWMutex
	delays map[string]tripDelay
}

type tripDelay struct {
	seconds    int
	observedAt time.Time
}

// NewTripUpdateListener builds a TripUpdateListener
func NewTripUpdateListener(log *log.Logger,
	feedURL string,
	timeout time.Duration,
	expireAfter time.Duration) *TripUpdateListener {
	return &TripUpdateListener{
		log:         log,
		feedURL:     feedURL,
		timeout:     timeout,
		expireAfter: expireAfter,
		delays:      make(map[string]tripDelay),
	}
}

// TripDelaySeconds implements DelaySource
func (l *TripUpdateListener) TripDelaySeconds(tripId string) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	delay, present := l.delays[tripId]
	if !present || time.Since(delay.observedAt) > l.expireAfter {
		return 0, false
	}
	return delay.seconds, true
}

// Run polls the feed every interval until shutdownSignal fires
func (l *TripUpdateListener) Run(interval time.Duration, shutdownSignal chan os.Signal) {
	sleepChan := make(chan bool)
	sleep := time.Duration(0)
	for {
		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()
		select {
		case <-shutdownSignal:
			l.log.Printf("exiting trip update listener on shutdown signal")
			return
		case <-sleepChan:
		}
		sleep = interval

		if err := l.pollOnce(time.Now()); err != nil {
			l.log.Printf("error fetching trip updates: %v", err)
		}
	}
}

// pollOnce fetches and decodes the feed, replacing known delays
func (l *TripUpdateListener) pollOnce(now time.Time) error {
	body, err := httpclient.GetBytes(l.feedURL, l.timeout)
	if err != nil {
		return err
	}
	feed := gtfsrt.FeedMessage{}
	if err = proto.Unmarshal(body, &feed); err != nil {
		return err
	}

	updated := 0
	l.mu.Lock()
	for _, entity := range feed.Entity {
		tripUpdate := entity.GetTripUpdate()
		if tripUpdate == nil {
			continue
		}
		tripId := tripUpdate.GetTrip().GetTripId()
		if tripId == "" {
			continue
		}
		seconds, present := delayFromTripUpdate(tripUpdate)
		if !present {
			continue
		}
		l.delays[tripId] = tripDelay{seconds: seconds, observedAt: now}
		updated++
	}
	for tripId, delay := range l.delays {
		if now.Sub(delay.observedAt) > l.expireAfter {
			delete(l.delays, tripId)
		}
	}
	l.mu.Unlock()

	l.log.Printf("loaded %d trip delays from trip update feed", updated)
	return nil
}

// delayFromTripUpdate extracts the deviation: the trip-level delay when present,
// otherwise the arrival (or departure) delay of the first stop time update.
func delayFromTripUpdate(tripUpdate *gtfsrt.TripUpdate) (int, bool) {
	if tripUpdate.Delay != nil {
		return int(tripUpdate.GetDelay()), true
	}
	for _, stu := range tripUpdate.GetStopTimeUpdate() {
		if arrival := stu.GetArrival(); arrival != nil && arrival.Delay != nil {
			return int(arrival.GetDelay()), true
		}
		if departure := stu.GetDeparture(); departure != nil && departure.Delay != nil {
			return int(departure.GetDelay()), true
		}
	}
	return 0, false
}
