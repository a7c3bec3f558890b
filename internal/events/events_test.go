package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/metrics"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/kiwari-pos/tableorder/internal/ws"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	var got []string
	record := func(name string) Sink {
		return Sink{Name: name, Publisher: PublisherFunc(func(ctx context.Context, e Event) error {
			got = append(got, name+":"+e.Type)
			return nil
		})}
	}

	f := NewFanout(quietLogger(), metrics.NewRegistry(), record("a"), record("b"))
	require.NoError(t, f.Publish(context.Background(), Event{Type: enum.EventOrderCreated, TableID: "t1"}))
	assert.Equal(t, []string{"a:order.created", "b:order.created"}, got)
}

func TestFanout_FailingSinkDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	delivered := false
	f := NewFanout(quietLogger(), metrics.NewRegistry(),
		Sink{Name: "bad", Publisher: PublisherFunc(func(context.Context, Event) error { return boom })},
		Sink{Name: "good", Publisher: PublisherFunc(func(context.Context, Event) error {
			delivered = true
			return nil
		})},
	)

	err := f.Publish(context.Background(), Event{Type: enum.EventOrderUpdated, TableID: "t1"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, delivered)
}

func TestFanout_StampsTime(t *testing.T) {
	var at time.Time
	f := NewFanout(quietLogger(), nil, Sink{Name: "x", Publisher: PublisherFunc(func(ctx context.Context, e Event) error {
		at = e.At
		return nil
	})})
	require.NoError(t, f.Publish(context.Background(), Event{Type: enum.EventGroupUpdated}))
	assert.False(t, at.IsZero())
}

type fakeBroadcaster struct {
	tableID string
	event   ws.Event
}

func (f *fakeBroadcaster) BroadcastToTable(tableID string, e ws.Event) {
	f.tableID = tableID
	f.event = e
}

func TestHubPublisher(t *testing.T) {
	b := &fakeBroadcaster{}
	p := NewHubPublisher(b)

	o := &order.Order{TableID: "mesa-1", Number: 3, Status: order.StatusSent}
	require.NoError(t, p.Publish(context.Background(), Event{Type: enum.EventOrderCreated, TableID: "mesa-1", Order: o}))

	assert.Equal(t, "mesa-1", b.tableID)
	assert.Equal(t, enum.EventOrderCreated, b.event.Type)

	var decoded Event
	require.NoError(t, json.Unmarshal(b.event.Payload, &decoded))
	require.NotNil(t, decoded.Order)
	assert.Equal(t, int32(3), decoded.Order.Number)
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	acks      chan amqp.Confirmation
	nack      bool

	// holdNext delays the next confirm until the publish after it.
	holdNext bool
	held     []amqp.Confirmation
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	conf := amqp.Confirmation{DeliveryTag: uint64(len(f.published)), Ack: !f.nack}
	if f.holdNext {
		f.holdNext = false
		f.held = append(f.held, conf)
		return nil
	}
	for _, c := range f.held {
		f.acks <- c
	}
	f.held = nil
	f.acks <- conf
	return nil
}

func (f *fakeChannel) GetNextPublishSeqNo() uint64 { return uint64(len(f.published)) + 1 }

func (f *fakeChannel) Close() error { return nil }

func newFakeAMQP(nack bool) (*AMQPPublisher, *fakeChannel) {
	acks := make(chan amqp.Confirmation, 4)
	ch := &fakeChannel{acks: acks, nack: nack}
	return &AMQPPublisher{ch: ch, acks: acks}, ch
}

func TestAMQPPublisher_OrderEvents(t *testing.T) {
	p, ch := newFakeAMQP(false)

	err := p.Publish(context.Background(), Event{Type: enum.EventOrderCreated, TableID: "mesa-2"})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	assert.Equal(t, "table.mesa-2.order.created", ch.keys[0])
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
}

func TestAMQPPublisher_SkipsSurfaceOnlyEvents(t *testing.T) {
	p, ch := newFakeAMQP(false)

	require.NoError(t, p.Publish(context.Background(), Event{Type: enum.EventGroupUpdated, TableID: "mesa-2"}))
	require.NoError(t, p.Publish(context.Background(), Event{Type: enum.EventOrdersRefresh, TableID: "mesa-2"}))
	assert.Empty(t, ch.published)
}

func TestAMQPPublisher_Nack(t *testing.T) {
	p, _ := newFakeAMQP(true)

	err := p.Publish(context.Background(), Event{Type: enum.EventOrderUpdated, TableID: "mesa-2"})
	assert.ErrorIs(t, err, ErrNack)
}

func TestAMQPPublisher_IgnoresLateConfirm(t *testing.T) {
	p, ch := newFakeAMQP(true)
	ch.holdNext = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Publish(ctx, Event{Type: enum.EventOrderCreated, TableID: "mesa-2"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The first publish's nack arrives now; the second must see its own ack.
	ch.nack = false
	err = p.Publish(context.Background(), Event{Type: enum.EventOrderUpdated, TableID: "mesa-2"})
	assert.NoError(t, err)
	assert.Len(t, ch.published, 2)
}
