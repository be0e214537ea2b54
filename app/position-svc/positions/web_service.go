package positions

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/perimap/positioncast/business/data/arrivals"
	"github.com/perimap/positioncast/business/data/delays"
)

// EstimateStore holds the latest tick's estimates for the web service
type EstimateStore struct {
	mu        sync.RWMutex
	estimates []PositionEstimate
	updatedAt time.Time
}

func NewEstimateStore() *EstimateStore {
	return &EstimateStore{}
}

func (s *EstimateStore) Set(estimates []PositionEstimate, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates = estimates
	s.updatedAt = at
}

func (s *EstimateStore) Get() ([]PositionEstimate, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.estimates, s.updatedAt
}

type webHandler struct {
	log      *log.Logger
	store    *EstimateStore
	recorder *delays.Recorder
	cache    *arrivals.Cache
}

// MakeWebServer builds the http server exposing the latest estimates, delay
// statistics and a health route
func MakeWebServer(log *log.Logger, listenAddress string, store *EstimateStore,
	recorder *delays.Recorder, cache *arrivals.Cache) *http.Server {

	handler := &webHandler{
		log:      log,
		store:    store,
		recorder: recorder,
		cache:    cache,
	}
	router := mux.NewRouter()
	router.HandleFunc("/", handler.health).Methods("GET")
	router.HandleFunc("/positions", handler.positions).Methods("GET")
	router.HandleFunc("/delays/stats", handler.delayStats).Methods("GET")
	return &http.Server{
		Addr:    listenAddress,
		Handler: router,
	}
}

func (h *webHandler) health(w http.ResponseWriter, _ *http.Request) {
	status := struct {
		Status string `json:"status"`
	}{Status: "ok"}
	h.respond(w, status)
}

func (h *webHandler) positions(w http.ResponseWriter, _ *http.Request) {
	estimates, updatedAt := h.store.Get()
	if estimates == nil {
		estimates = []PositionEstimate{}
	}
	response := struct {
		UpdatedAt time.Time          `json:"updated_at"`
		Positions []PositionEstimate `json:"positions"`
	}{
		UpdatedAt: updatedAt,
		Positions: estimates,
	}
	h.respond(w, response)
}

func (h *webHandler) delayStats(w http.ResponseWriter, _ *http.Request) {
	requests, successes, failures := h.cache.Stats()
	response := struct {
		Delays delays.Summary `json:"delays"`
		Feed   struct {
			Requests  int64 `json:"requests"`
			Successes int64 `json:"successes"`
			Failures  int64 `json:"failures"`
		} `json:"feed"`
	}{
		Delays: h.recorder.Stats(),
	}
	response.Feed.Requests = requests
	response.Feed.Successes = successes
	response.Feed.Failures = failures
	h.respond(w, response)
}

func (h *webHandler) respond(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		h.log.Printf("unable to write response: %v", err)
	}
}
