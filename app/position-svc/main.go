package main

import (
	"fmt"
	logger "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/nats-io/nats.go"
	"github.com/perimap/positioncast/app/position-svc/positions"
	"github.com/perimap/positioncast/business/data/arrivals"
	"github.com/perimap/positioncast/business/data/delays"
	"github.com/perimap/positioncast/foundation/database"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "POSITION_SVC : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		Web struct {
			ListenAddress string `conf:"default:0.0.0.0:8080"`
		}
		NATS struct {
			URL     string `conf:"default:"`
			Subject string `conf:"default:positioncast.positions"`
		}
		Clock struct {
			Timezone   string  `conf:"default:Europe/Paris"`
			StartAt    string  `conf:"default:"`
			Multiplier float64 `conf:"default:1"`
		}
		Estimation struct {
			TickSeconds          int    `conf:"default:5"`
			ReloadMinutes        int    `conf:"default:60"`
			MinSleepGapMinutes   int    `conf:"default:20"`
			SleepLeadMinutes     int    `conf:"default:5"`
			GranularLines        string `conf:"default:"`
			PivotStops           string `conf:"default:"`
			ArrivalFeedURL       string `conf:"default:"`
			MonitoredStops       string `conf:"default:"`
			PollSeconds          int    `conf:"default:30"`
			FreshnessSeconds     int    `conf:"default:30"`
			TripUpdateFeedURL    string `conf:"default:"`
			TripUpdateSeconds    int    `conf:"default:30"`
			FeedTimeoutSeconds   int    `conf:"default:10"`
			DelayExpireSeconds   int    `conf:"default:180"`
			PersistDelayRecords  bool   `conf:"default:true"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Estimate and publish live transit vehicle positions"
	const prefix = "POSITION"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	log.Println("main: Initializing database support")

	db, err := database.Open(database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		err = db.Close()
		if err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	location, err := time.LoadLocation(cfg.Clock.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", cfg.Clock.Timezone, err)
	}
	clock, err := positions.NewSimClock(location, cfg.Clock.StartAt, cfg.Clock.Multiplier)
	if err != nil {
		return fmt.Errorf("building clock: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	feedTimeout := time.Duration(cfg.Estimation.FeedTimeoutSeconds) * time.Second

	var snapshot arrivals.Snapshot
	var poller *arrivals.Poller
	cache := arrivals.NewCache(time.Duration(cfg.Estimation.FreshnessSeconds) * time.Second)
	if cfg.Estimation.ArrivalFeedURL != "" {
		snapshot = cache
		poller = arrivals.NewPoller(log, cache, cfg.Estimation.ArrivalFeedURL,
			parseMonitoredStops(cfg.Estimation.MonitoredStops),
			time.Duration(cfg.Estimation.PollSeconds)*time.Second, feedTimeout)
		go poller.Run(shutdown)
	}

	var deviations arrivals.DelaySource
	if cfg.Estimation.TripUpdateFeedURL != "" {
		listener := arrivals.NewTripUpdateListener(log, cfg.Estimation.TripUpdateFeedURL,
			feedTimeout, time.Duration(cfg.Estimation.DelayExpireSeconds)*time.Second)
		deviations = listener
		go listener.Run(time.Duration(cfg.Estimation.TripUpdateSeconds)*time.Second, shutdown)
	}

	recorderDB := db
	if !cfg.Estimation.PersistDelayRecords {
		recorderDB = nil
	}
	recorder := delays.NewRecorder(log, recorderDB)

	var publisher positions.ResultsPublisher
	if cfg.NATS.URL != "" {
		natsConnection, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connecting to nats at %s: %w", cfg.NATS.URL, err)
		}
		defer natsConnection.Close()
		publisher = positions.MakeNatsResultsPublisher(log, natsConnection, cfg.NATS.Subject)
	}

	store := positions.NewEstimateStore()
	server := positions.MakeWebServer(log, cfg.Web.ListenAddress, store, recorder, cache)
	go func() {
		log.Printf("main: web service listening on %s", cfg.Web.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("main: web service error: %v", err)
		}
	}()

	return positions.RunPositionLoop(log, db, clock, snapshot, deviations, recorder,
		poller, publisher, store,
		positions.LoopConfig{
			TickInterval:   time.Duration(cfg.Estimation.TickSeconds) * time.Second,
			ReloadInterval: time.Duration(cfg.Estimation.ReloadMinutes) * time.Minute,
			MinSleepGap:    time.Duration(cfg.Estimation.MinSleepGapMinutes) * time.Minute,
			SleepLeadTime:  time.Duration(cfg.Estimation.SleepLeadMinutes) * time.Minute,
			GranularLines:  splitList(cfg.Estimation.GranularLines),
			PivotStops:     parsePivotStops(cfg.Estimation.PivotStops),
		},
		shutdown)
}

// parseMonitoredStops reads "stopId:stopCode,stopId2:stopCode2"; the stop code
// part is optional
func parseMonitoredStops(value string) []arrivals.MonitoredStop {
	var stops []arrivals.MonitoredStop
	for _, entry := range splitList(value) {
		stop := arrivals.MonitoredStop{StopId: entry}
		if id, code, found := strings.Cut(entry, ":"); found {
			stop.StopId = id
			stop.StopCode = code
		}
		stops = append(stops, stop)
	}
	return stops
}

// parsePivotStops reads "line=stopId1|stopId2,line2=stopId3"
func parsePivotStops(value string) map[string][]string {
	pivots := make(map[string][]string)
	for _, entry := range splitList(value) {
		line, stopList, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		for _, stopId := range strings.Split(stopList, "|") {
			if stopId != "" {
				pivots[line] = append(pivots[line], stopId)
			}
		}
	}
	return pivots
}

func splitList(value string) []string {
	var parts []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
