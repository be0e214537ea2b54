package positions

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// ResultsPublisher receives each tick's batch of position estimates
type ResultsPublisher interface {
	PublishPositions(estimates []PositionEstimate, at time.Time)
}

// positionBatch is the wire shape published on the positions subject
type positionBatch struct {
	At        time.Time          `json:"at"`
	Positions []PositionEstimate `json:"positions"`
}

type natsResultsPublisher struct {
	log            *log.Logger
	natsConnection *nats.Conn
	subject        string
}

func MakeNatsResultsPublisher(log *log.Logger, natsConnection *nats.Conn, subject string) ResultsPublisher {
	return &natsResultsPublisher{
		log:            log,
		natsConnection: natsConnection,
		subject:        subject,
	}
}

// PublishPositions sends the batch as json. Publish failures are logged and
// dropped, the next tick supersedes the batch anyway.
func (p *natsResultsPublisher) PublishPositions(estimates []PositionEstimate, at time.Time) {
	payload, err := json.Marshal(positionBatch{At: at, Positions: estimates})
	if err != nil {
		p.log.Printf("unable to marshal position batch: %v", err)
		return
	}
	err = p.natsConnection.Publish(p.subject, payload)
	if err != nil {
		p.log.Printf("unable to publish position batch to %s: %v", p.subject, err)
	}
}
