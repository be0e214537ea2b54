package arrivals

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/perimap/positioncast/foundation/httpclient"
)

// MonitoredStop identifies one stop the departure feed is polled for
type MonitoredStop struct {
	StopId   string
	StopCode string
}

// feedResponse is the shape of the operator's departure endpoint
type feedResponse struct {
	Departures []feedDeparture `json:"departures"`
}

type feedDeparture struct {
	Line        string `json:"line"`
	Destination string `json:"destination"`
	Time        string `json:"time"`
	Realtime    *bool  `json:"realtime"`
}

// Poller refreshes the arrival Cache from the operator's departure feed on a fixed
// cadence. It can be put to sleep during no-service windows so the upstream feed is
// not polled all night for an empty network.
type Poller struct {
	log      *log.Logger
	cache    *Cache
	feedURL  string
	stops    []MonitoredStop
	interval time.Duration
	timeout  time.Duration

	mu         sync.Mutex
	sleepUntil time.Time
}

// NewPoller builds a Poller. feedURL must contain one %s verb receiving the stop key.
func NewPoller(log *log.Logger,
	cache *Cache,
	feedURL string,
	stops []MonitoredStop,
	interval time.Duration,
	timeout time.Duration) *Poller {
	return &Poller{
		log:      log,
		cache:    cache,
		feedURL:  feedURL,
		stops:    stops,
		interval: interval,
		timeout:  timeout,
	}
}

// SetSleepUntil suspends polling until at. A zero time resumes polling immediately.
func (p *Poller) SetSleepUntil(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sleepUntil = at
}

// Sleeping reports whether the poller is inside a suspended window
func (p *Poller) Sleeping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.sleepUntil)
}

// Run polls the feed until shutdownSignal fires. Errors on individual stops are
// logged and do not stop the loop; the cache just goes stale and the estimation
// pipeline degrades to schedule-only positions.
func (p *Poller) Run(shutdownSignal chan os.Signal) {
	sleepChan := make(chan bool)
	sleep := time.Duration(0)
	for {
		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()
		select {
		case <-shutdownSignal:
			p.log.Printf("exiting arrival poller on shutdown signal")
			return
		case <-sleepChan:
		}
		sleep = p.interval

		if p.Sleeping() {
			continue
		}
		start := time.Now()
		p.pollOnce(start)
		if took := time.Since(start); took < p.interval {
			sleep = p.interval - took
		} else {
			sleep = 0
		}
	}
}

// pollOnce fetches every monitored stop once
func (p *Poller) pollOnce(now time.Time) {
	for _, stop := range p.stops {
		key := stop.StopCode
		if key == "" {
			key = stop.StopId
		}
		estimates, err := p.fetchStop(stop, key, now)
		p.cache.CountRequest(err == nil)
		if err != nil {
			p.log.Printf("error fetching arrivals for stop %s: %v", key, err)
			continue
		}
		p.cache.Put(key, estimates, now)
	}
}

func (p *Poller) fetchStop(stop MonitoredStop, key string, now time.Time) ([]Estimate, error) {
	var response feedResponse
	if err := httpclient.GetJSON(fmt.Sprintf(p.feedURL, key), p.timeout, &response); err != nil {
		return nil, err
	}
	estimates := make([]Estimate, 0, len(response.Departures))
	for _, departure := range response.Departures {
		minutes, arriving, ok := ParseWaitingTime(departure.Time, now)
		if !ok {
			continue
		}
		live := departure.Realtime == nil || *departure.Realtime
		estimates = append(estimates, Estimate{
			Line:       departure.Line,
			StopId:     stop.StopId,
			StopCode:   stop.StopCode,
			Minutes:    minutes,
			Arriving:   arriving,
			Live:       live,
			ObservedAt: now,
		})
	}
	return estimates, nil
}
