package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/events"
	"github.com/kiwari-pos/tableorder/internal/metrics"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/sirupsen/logrus"
)

// Errors returned by the group service.
var (
	ErrGroupConfirmed   = errors.New("group order is already confirmed")
	ErrNotAllReady      = errors.New("every participant must be ready before confirming")
	ErrNotParticipant   = errors.New("not a participant of this group order")
	ErrGroupOrderActive = errors.New("table is ordering as a group; confirm through the group order")
)

// Participant is one diner taking part in a group order.
type Participant struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	OrderItems          []order.Item `json:"order_items"`
	SpecialInstructions string       `json:"special_instructions"`
	IsReady             bool         `json:"is_ready"`
	Status              string       `json:"status"`
}

// GroupSession is the group order state of one table.
type GroupSession struct {
	TableID      string        `json:"table_id"`
	IsGroupOrder bool          `json:"is_group_order"`
	Participants []Participant `json:"participants"`
	IsConfirmed  bool          `json:"is_confirmed"`
	Submitted    bool          `json:"submitted"`
	ConfirmedBy  string        `json:"confirmed_by,omitempty"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
}

func (g *GroupSession) participant(id string) *Participant {
	for i := range g.Participants {
		if g.Participants[i].ID == id {
			return &g.Participants[i]
		}
	}
	return nil
}

func (g *GroupSession) clone() GroupSession {
	c := *g
	c.Participants = make([]Participant, len(g.Participants))
	for i, p := range g.Participants {
		p.OrderItems = append([]order.Item(nil), p.OrderItems...)
		c.Participants[i] = p
	}
	return c
}

// canConfirm: every participant ready, the current one included.
func (g *GroupSession) canConfirm(currentID string) bool {
	if g == nil || !g.IsGroupOrder {
		return true
	}
	current := g.participant(currentID)
	if current == nil || !current.IsReady {
		return false
	}
	for _, p := range g.Participants {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// GroupCarts is the part of the cart service group ordering uses.
type GroupCarts interface {
	Get(ctx context.Context, id cart.ID) (cart.Cart, error)
	Lock(id cart.ID)
	Unlock(id cart.ID)
	OnChange(fn cart.ChangeFunc)
}

// Submitter sends one diner's cart to the consolidation engine.
type Submitter interface {
	SubmitCart(ctx context.Context, req SubmitRequest) (*MergeResult, error)
}

// GroupService coordinates group orders. Only the confirming diner's cart
// is submitted on confirmation; the other participants' selections are
// shown to the table but not sent.
type GroupService struct {
	carts   GroupCarts
	orders  Submitter
	events  events.Publisher
	log     logrus.FieldLogger
	metrics *metrics.Registry

	mu       sync.Mutex
	sessions map[string]*GroupSession

	confirming keyedMutex
}

// NewGroupService creates a GroupService and subscribes it to cart changes.
func NewGroupService(carts GroupCarts, orders Submitter, pub events.Publisher, log logrus.FieldLogger, m *metrics.Registry) *GroupService {
	if pub == nil {
		pub = events.Nop
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	g := &GroupService{
		carts:    carts,
		orders:   orders,
		events:   pub,
		log:      log,
		metrics:  m,
		sessions: make(map[string]*GroupSession),
	}
	carts.OnChange(g.mirrorCart)
	return g
}

// Session returns a snapshot of the table's group session. A table without
// one reports IsGroupOrder false.
func (g *GroupService) Session(tableID string) GroupSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[tableID]; ok {
		return s.clone()
	}
	return GroupSession{TableID: tableID, Participants: []Participant{}}
}

// IsGroupOrder reports whether participantID is part of an open group order
// at tableID.
func (g *GroupService) IsGroupOrder(tableID, participantID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[tableID]
	return ok && s.IsGroupOrder && !s.Submitted && s.participant(participantID) != nil
}

// SetIsGroupOrder joins (true) or leaves (false) the table's group order.
// Joining seeds the participant from the diner's cart and instructions.
func (g *GroupService) SetIsGroupOrder(ctx context.Context, tableID, participantID, name string, join bool) (GroupSession, error) {
	if join {
		c, err := g.carts.Get(ctx, cart.ID{TableID: tableID, DinerID: participantID})
		if err != nil {
			return GroupSession{}, fmt.Errorf("load cart: %w", err)
		}
		return g.join(ctx, tableID, participantID, name, c)
	}
	return g.leave(ctx, tableID, participantID)
}

func (g *GroupService) join(ctx context.Context, tableID, participantID, name string, c cart.Cart) (GroupSession, error) {
	g.mu.Lock()
	s, ok := g.sessions[tableID]
	if ok && s.Submitted {
		// The previous round is done; its confirmer may order again.
		g.carts.Unlock(cart.ID{TableID: tableID, DinerID: s.ConfirmedBy})
		ok = false
	}
	if !ok {
		s = &GroupSession{TableID: tableID, IsGroupOrder: true}
		g.sessions[tableID] = s
	}
	if s.IsConfirmed {
		g.mu.Unlock()
		return GroupSession{}, ErrGroupConfirmed
	}
	if s.participant(participantID) == nil {
		if strings.TrimSpace(name) == "" {
			name = participantID
		}
		s.Participants = append(s.Participants, Participant{
			ID:                  participantID,
			Name:                strings.TrimSpace(name),
			OrderItems:          append([]order.Item(nil), c.Items...),
			SpecialInstructions: c.Instructions,
			Status:              enum.ParticipantStatusOrdering,
		})
	}
	snap := s.clone()
	g.mu.Unlock()

	g.publish(ctx, snap)
	return snap, nil
}

func (g *GroupService) leave(ctx context.Context, tableID, participantID string) (GroupSession, error) {
	g.mu.Lock()
	s, ok := g.sessions[tableID]
	if !ok || s.participant(participantID) == nil {
		g.mu.Unlock()
		return GroupSession{}, ErrNotParticipant
	}
	if s.IsConfirmed && !s.Submitted {
		g.mu.Unlock()
		return GroupSession{}, ErrGroupConfirmed
	}
	if s.Submitted && s.ConfirmedBy == participantID {
		g.carts.Unlock(cart.ID{TableID: tableID, DinerID: participantID})
	}

	kept := s.Participants[:0]
	for _, p := range s.Participants {
		if p.ID != participantID {
			kept = append(kept, p)
		}
	}
	s.Participants = kept
	if len(s.Participants) == 0 {
		delete(g.sessions, tableID)
		s = &GroupSession{TableID: tableID}
	}
	snap := s.clone()
	g.mu.Unlock()

	g.publish(ctx, snap)
	return snap, nil
}

// UpdateParticipantOrder replaces the participant's chosen items.
func (g *GroupService) UpdateParticipantOrder(ctx context.Context, tableID, participantID string, items []order.Item) (GroupSession, error) {
	return g.update(ctx, tableID, participantID, func(p *Participant) {
		p.OrderItems = order.Dedupe(items)
	})
}

// UpdateParticipantInstructions replaces the participant's special
// instructions.
func (g *GroupService) UpdateParticipantInstructions(ctx context.Context, tableID, participantID, text string) (GroupSession, error) {
	return g.update(ctx, tableID, participantID, func(p *Participant) {
		p.SpecialInstructions = strings.TrimSpace(text)
	})
}

// SetParticipantReady toggles readiness. Freely reversible until the group
// is confirmed.
func (g *GroupService) SetParticipantReady(ctx context.Context, tableID, participantID string, ready bool) (GroupSession, error) {
	return g.update(ctx, tableID, participantID, func(p *Participant) {
		p.IsReady = ready
		if ready {
			p.Status = enum.ParticipantStatusReady
		} else {
			p.Status = enum.ParticipantStatusOrdering
		}
	})
}

func (g *GroupService) update(ctx context.Context, tableID, participantID string, fn func(p *Participant)) (GroupSession, error) {
	g.mu.Lock()
	s, ok := g.sessions[tableID]
	if !ok {
		g.mu.Unlock()
		return GroupSession{}, ErrNotParticipant
	}
	if s.IsConfirmed {
		g.mu.Unlock()
		return GroupSession{}, ErrGroupConfirmed
	}
	p := s.participant(participantID)
	if p == nil {
		g.mu.Unlock()
		return GroupSession{}, ErrNotParticipant
	}
	fn(p)
	snap := s.clone()
	g.mu.Unlock()

	g.publish(ctx, snap)
	return snap, nil
}

// CanConfirmOrder is true for tables not ordering as a group. For a group
// it requires every participant, the current one included, to be ready.
func (g *GroupService) CanConfirmOrder(tableID, currentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions[tableID].canConfirm(currentID)
}

// ConfirmGroupOrder confirms the group once and submits the current
// diner's cart. If the submission fails the group stays confirmed and a
// later call by the same diner retries the submission only.
func (g *GroupService) ConfirmGroupOrder(ctx context.Context, tableID, currentID string, sendNow bool) (*MergeResult, error) {
	unlock := g.confirming.Lock(tableID)
	defer unlock()

	cartID := cart.ID{TableID: tableID, DinerID: currentID}
	req := SubmitRequest{TableID: tableID, CartID: cartID, SendNow: sendNow}

	g.mu.Lock()
	s, ok := g.sessions[tableID]
	if !ok || !s.IsGroupOrder {
		g.mu.Unlock()
		return g.orders.SubmitCart(ctx, req)
	}

	switch {
	case s.Submitted:
		g.mu.Unlock()
		return nil, ErrGroupConfirmed
	case s.IsConfirmed:
		if s.ConfirmedBy != currentID {
			g.mu.Unlock()
			return nil, ErrGroupConfirmed
		}
		// Retry of a failed submission.
	default:
		if !s.canConfirm(currentID) {
			g.mu.Unlock()
			g.metrics.Confirmations.WithLabelValues("not_ready").Inc()
			return nil, ErrNotAllReady
		}
		g.mu.Unlock()

		c, err := g.carts.Get(ctx, cartID)
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}
		if c.Empty() {
			return nil, ErrEmptyCart
		}

		g.mu.Lock()
		if g.sessions[tableID] != s || s.IsConfirmed || !s.canConfirm(currentID) {
			g.mu.Unlock()
			return nil, ErrNotAllReady
		}
		now := time.Now().UTC()
		s.IsConfirmed = true
		s.ConfirmedBy = currentID
		s.ConfirmedAt = &now
		for i := range s.Participants {
			s.Participants[i].Status = enum.ParticipantStatusConfirmed
		}
		g.carts.Lock(cartID)
	}
	g.mu.Unlock()

	log := g.log.WithFields(logrus.Fields{"table_id": tableID, "participant_id": currentID})
	res, err := g.orders.SubmitCart(ctx, req)
	if err != nil && !errors.Is(err, ErrNothingToAdd) {
		g.metrics.Confirmations.WithLabelValues("error").Inc()
		log.WithError(err).Warn("group order confirmed but not submitted")
		g.publish(ctx, g.Session(tableID))
		return nil, err
	}

	g.mu.Lock()
	s.Submitted = true
	snap := s.clone()
	g.mu.Unlock()

	g.metrics.Confirmations.WithLabelValues("submitted").Inc()
	g.publish(ctx, snap)
	return res, err
}

// mirrorCart copies a diner's cart into their participant record while the
// group is still open. Participant edits never flow back into the cart.
func (g *GroupService) mirrorCart(ctx context.Context, id cart.ID, c cart.Cart) {
	g.mu.Lock()
	s, ok := g.sessions[id.TableID]
	if !ok || s.IsConfirmed {
		g.mu.Unlock()
		return
	}
	p := s.participant(id.DinerID)
	if p == nil {
		g.mu.Unlock()
		return
	}
	p.OrderItems = append([]order.Item(nil), c.Items...)
	p.SpecialInstructions = c.Instructions
	snap := s.clone()
	g.mu.Unlock()

	g.publish(ctx, snap)
}

func (g *GroupService) publish(ctx context.Context, snap GroupSession) {
	_ = g.events.Publish(ctx, events.Event{Type: enum.EventGroupUpdated, TableID: snap.TableID, Data: snap})
}
