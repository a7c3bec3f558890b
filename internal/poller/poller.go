// Package poller keeps each table surface's order list fresh. A
// Synchronizer refetches on an interval while its surface is visible,
// right after a local mutation, and once more shortly after that to pick up
// status changes the backend applies on its own.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/metrics"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultSettleDelay = 600 * time.Millisecond
)

// FetchFunc loads the table's orders.
type FetchFunc func(ctx context.Context, tableID string) ([]order.Order, error)

// Snapshot is the last known order list of a table. Stale means the most
// recent fetch failed and Orders is what the previous good fetch returned.
type Snapshot struct {
	Orders    []order.Order `json:"orders"`
	Stale     bool          `json:"stale"`
	Loaded    bool          `json:"loaded"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// Options configures a Synchronizer. Zero values pick defaults.
type Options struct {
	Interval    time.Duration
	SettleDelay time.Duration
	// Visible reports whether anyone is looking. Ticks are skipped while it
	// returns false. Nil means always visible.
	Visible func() bool
	// OnChange receives every snapshot that differs from the previous one.
	OnChange func(Snapshot)
	Log      logrus.FieldLogger
	Metrics  *metrics.Registry
}

type Synchronizer struct {
	tableID string
	fetch   FetchFunc
	opts    Options

	group singleflight.Group
	kick  chan struct{}

	mu          sync.Mutex
	snap        Snapshot
	last        []byte
	pinned      map[uuid.UUID]string
	backoff     backoff.BackOff
	nextAttempt time.Time
}

func New(tableID string, fetch FetchFunc, opts Options) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Visible == nil {
		opts.Visible = func() bool { return true }
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.Interval
	bo.MaxInterval = 12 * opts.Interval
	bo.MaxElapsedTime = 0

	return &Synchronizer{
		tableID: tableID,
		fetch:   fetch,
		opts:    opts,
		kick:    make(chan struct{}, 1),
		pinned:  make(map[uuid.UUID]string),
		backoff: bo,
	}
}

// Run fetches once, then keeps the snapshot fresh until ctx is done. The
// ticker and any pending settle refresh are released on return.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	s.Refresh(ctx) //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if !s.opts.Visible() {
				s.opts.Metrics.Polls.WithLabelValues("skipped").Inc()
				continue
			}
			if s.backingOff(time.Now()) {
				s.opts.Metrics.Polls.WithLabelValues("skipped").Inc()
				continue
			}
			s.Refresh(ctx) //nolint:errcheck

		case <-s.kick:
			s.Refresh(ctx) //nolint:errcheck
			settle.Reset(s.settleDelay())

		case <-settle.C:
			s.Refresh(ctx) //nolint:errcheck
		}
	}
}

// NotifyMutation asks for an immediate refresh followed by one delayed
// refresh. Calls made while a request is pending collapse into it.
func (s *Synchronizer) NotifyMutation() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Refresh fetches now. Concurrent callers share one fetch. On failure the
// previous orders are kept and the snapshot is marked stale.
func (s *Synchronizer) Refresh(ctx context.Context) (Snapshot, error) {
	_, err, _ := s.group.Do(s.tableID, func() (any, error) {
		start := time.Now()
		orders, err := s.fetch(ctx, s.tableID)
		s.opts.Metrics.PollLatencySec.Observe(time.Since(start).Seconds())
		s.apply(orders, err, time.Now())
		return nil, err
	})
	return s.Snapshot(), err
}

func (s *Synchronizer) apply(orders []order.Order, err error, now time.Time) {
	s.mu.Lock()
	if err != nil {
		s.opts.Metrics.Polls.WithLabelValues("error").Inc()
		s.snap.Stale = true
		wait := s.backoff.NextBackOff()
		s.nextAttempt = now.Add(wait)
		s.opts.Log.WithFields(logrus.Fields{
			"table_id": s.tableID,
			"retry_in": wait.String(),
		}).WithError(err).Warn("refresh orders")
	} else {
		s.opts.Metrics.Polls.WithLabelValues("ok").Inc()
		s.backoff.Reset()
		s.nextAttempt = time.Time{}
		if orders == nil {
			orders = []order.Order{}
		}
		s.snap = Snapshot{Orders: orders, Loaded: true, FetchedAt: now}
	}
	out, changed := s.publishableLocked()
	s.mu.Unlock()

	if changed && s.opts.OnChange != nil {
		s.opts.OnChange(out)
	}
}

// publishableLocked returns the snapshot with pins applied and whether it
// differs from what was last handed to OnChange.
func (s *Synchronizer) publishableLocked() (Snapshot, bool) {
	out := s.viewLocked()
	b, err := json.Marshal(struct {
		Orders []order.Order
		Stale  bool
	}{out.Orders, out.Stale})
	if err != nil {
		return out, true
	}
	if bytes.Equal(b, s.last) {
		return out, false
	}
	s.last = b
	return out, true
}

func (s *Synchronizer) backingOff(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.nextAttempt)
}

func (s *Synchronizer) settleDelay() time.Duration {
	d := s.opts.SettleDelay
	return d + time.Duration(rand.Int64N(int64(d)/4+1))
}

// Snapshot returns the current snapshot. Orders being edited keep the notes
// they had when the edit began.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Synchronizer) viewLocked() Snapshot {
	out := s.snap
	out.Orders = make([]order.Order, len(s.snap.Orders))
	for i, o := range s.snap.Orders {
		c := o.Clone()
		if notes, ok := s.pinned[o.ID]; ok {
			c.Notes = notes
		}
		out.Orders[i] = *c
	}
	return out
}

// BeginEdit pins the notes of orderID as currently shown. It reports false
// when the order is not in the snapshot.
func (s *Synchronizer) BeginEdit(orderID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pinned[orderID]; ok {
		return true
	}
	for _, o := range s.snap.Orders {
		if o.ID == orderID {
			s.pinned[orderID] = o.Notes
			return true
		}
	}
	return false
}

// EndEdit releases a pin; the next snapshot shows the fetched notes again.
func (s *Synchronizer) EndEdit(orderID uuid.UUID) {
	s.mu.Lock()
	if _, ok := s.pinned[orderID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pinned, orderID)
	out, changed := s.publishableLocked()
	s.mu.Unlock()

	if changed && s.opts.OnChange != nil {
		s.opts.OnChange(out)
	}
}
