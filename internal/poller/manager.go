package poller

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/events"
	"github.com/kiwari-pos/tableorder/internal/metrics"
	"github.com/kiwari-pos/tableorder/internal/ws"
	"github.com/sirupsen/logrus"
)

type running struct {
	sync   *Synchronizer
	cancel context.CancelFunc
}

// Manager runs one Synchronizer per table that has a connected surface and
// pushes changed snapshots back to that table.
type Manager struct {
	fetch   FetchFunc
	opts    Options
	visible func(tableID string) bool
	sink    events.Publisher
	log     logrus.FieldLogger
	metrics *metrics.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tables map[string]*running
}

// NewManager creates a Manager. visible reports whether a table still has
// viewers; sink receives orders.snapshot events.
func NewManager(fetch FetchFunc, opts Options, visible func(tableID string) bool, sink events.Publisher) *Manager {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if sink == nil {
		sink = events.Nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fetch:   fetch,
		opts:    opts,
		visible: visible,
		sink:    sink,
		log:     opts.Log,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		tables:  make(map[string]*running),
	}
}

// Open starts the table's Synchronizer if it is not running. It does not
// block.
func (m *Manager) Open(tableID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[tableID]; ok {
		return
	}

	opts := m.opts
	opts.Log = m.log.WithField("table_id", tableID)
	if m.visible != nil {
		opts.Visible = func() bool { return m.visible(tableID) }
	}
	opts.OnChange = func(snap Snapshot) { m.push(tableID, snap) }

	ctx, cancel := context.WithCancel(m.ctx)
	s := New(tableID, m.fetch, opts)
	m.tables[tableID] = &running{sync: s, cancel: cancel}
	m.metrics.ActiveSurfaces.Set(float64(len(m.tables)))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.Run(ctx) //nolint:errcheck
	}()
}

// Close stops the table's Synchronizer and releases its timers.
func (m *Manager) Close(tableID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tables[tableID]
	if !ok {
		return
	}
	r.cancel()
	delete(m.tables, tableID)
	m.metrics.ActiveSurfaces.Set(float64(len(m.tables)))
}

// Active returns the number of running synchronizers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables)
}

func (m *Manager) get(tableID string) *Synchronizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.tables[tableID]; ok {
		return r.sync
	}
	return nil
}

// Snapshot returns the table's current snapshot, if it is being watched.
func (m *Manager) Snapshot(tableID string) (Snapshot, bool) {
	s := m.get(tableID)
	if s == nil {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Publish implements events.Publisher: a saved order change triggers an
// immediate refresh and a settle refresh for the table.
func (m *Manager) Publish(ctx context.Context, e events.Event) error {
	switch e.Type {
	case enum.EventOrderCreated, enum.EventOrderUpdated:
		if s := m.get(e.TableID); s != nil {
			s.NotifyMutation()
		}
	}
	return nil
}

// HandleMessage handles edit notifications sent by surfaces. It matches
// ws.MessageFunc.
func (m *Manager) HandleMessage(tableID, participantID string, msg ws.Inbound) {
	s := m.get(tableID)
	if s == nil {
		return
	}
	id, err := uuid.Parse(msg.OrderID)
	if err != nil {
		return
	}
	switch msg.Type {
	case ws.MessageEditBegin:
		s.BeginEdit(id)
	case ws.MessageEditEnd:
		s.EndEdit(id)
	}
}

func (m *Manager) push(tableID string, snap Snapshot) {
	err := m.sink.Publish(m.ctx, events.Event{
		Type:    enum.EventOrdersRefresh,
		TableID: tableID,
		Orders:  snap.Orders,
		Stale:   snap.Stale,
	})
	if err != nil {
		m.log.WithField("table_id", tableID).WithError(err).Warn("push snapshot")
	}
}

// Run blocks until ctx is done, then stops every synchronizer and waits
// for them to exit.
func (m *Manager) Run(ctx context.Context) error {
	<-ctx.Done()
	m.cancel()
	m.mu.Lock()
	m.tables = make(map[string]*running)
	m.metrics.ActiveSurfaces.Set(0)
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}
