// Package eventlog provides a best-effort audit sink for the event
// dispatcher, adapted from control_plane/streaming/interface.go's
// Publisher/Subscriber contract and its LogPublisher implementation,
// narrowed to the single PublishDispatch shape events.AuditSink needs.
package eventlog

import (
	"encoding/json"
	"log"
	"time"

	"github.com/pluginforge/core/events"
)

// record is the JSON shape written for every dispatch, mirroring the
// teacher's streaming.Event envelope (id/topic/payload/timestamp/source)
// but specialized to dispatch counts instead of an arbitrary payload.
type record struct {
	EventType   events.EventTypeID `json:"event_type_id"`
	FiredCount  int                `json:"fired_count"`
	FailedCount int                `json:"failed_count"`
	Timestamp   time.Time          `json:"timestamp"`
	Source      string             `json:"source"`
}

// LogPublisher writes one JSON line per dispatch to a *log.Logger. It never
// returns an error from a healthy logger, matching the teacher's
// LogPublisher, which is meant as a development/debug sink rather than a
// durable audit trail.
type LogPublisher struct {
	logger *log.Logger
}

// NewLogPublisher constructs a LogPublisher writing to the default logger.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: log.Default()}
}

// PublishDispatch satisfies events.AuditSink.
func (p *LogPublisher) PublishDispatch(eventType events.EventTypeID, firedCount, failedCount int) error {
	r := record{
		EventType:   eventType,
		FiredCount:  firedCount,
		FailedCount: failedCount,
		Timestamp:   time.Now(),
		Source:      "events.Dispatcher",
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	p.logger.Printf("[EVENTS] DISPATCH %s", string(data))
	return nil
}
