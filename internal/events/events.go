// Package events fans order and group changes out to the table's surfaces
// and to the kitchen feed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiwari-pos/tableorder/internal/metrics"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/sirupsen/logrus"
)

// Event describes one change at a table.
type Event struct {
	Type    string        `json:"type"`
	TableID string        `json:"table_id"`
	Order   *order.Order  `json:"order,omitempty"`
	Orders  []order.Order `json:"orders,omitempty"`
	Stale   bool          `json:"stale,omitempty"`
	Data    any           `json:"data,omitempty"`
	At      time.Time     `json:"at"`
}

// Payload is the JSON body surfaces and consumers receive.
func (e Event) Payload() (json.RawMessage, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return b, nil
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards every event.
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Sink is a named Publisher inside a Fanout.
type Sink struct {
	Name      string
	Publisher Publisher
}

// Fanout delivers each event to every sink. A failing sink does not stop the
// others; failures are logged and counted, and returned joined.
type Fanout struct {
	sinks   []Sink
	log     logrus.FieldLogger
	metrics *metrics.Registry
}

func NewFanout(log logrus.FieldLogger, m *metrics.Registry, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, log: log, metrics: m}
}

// Add appends a sink. Not safe for use once events are flowing.
func (f *Fanout) Add(s Sink) { f.sinks = append(f.sinks, s) }

func (f *Fanout) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	var errs []error
	for _, s := range f.sinks {
		err := s.Publisher.Publish(ctx, e)
		result := "ok"
		if err != nil {
			result = "error"
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			f.log.WithFields(logrus.Fields{
				"sink":     s.Name,
				"event":    e.Type,
				"table_id": e.TableID,
			}).WithError(err).Warn("publish event")
		}
		if f.metrics != nil {
			f.metrics.EventsPublished.WithLabelValues(s.Name, result).Inc()
		}
	}
	return errors.Join(errs...)
}
