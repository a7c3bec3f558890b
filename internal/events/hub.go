package events

import (
	"context"

	"github.com/kiwari-pos/tableorder/internal/ws"
)

// Broadcaster is the part of ws.Hub the surface sink needs.
type Broadcaster interface {
	BroadcastToTable(tableID string, event ws.Event)
}

// HubPublisher pushes events to every surface connected for the table.
type HubPublisher struct {
	hub Broadcaster
}

func NewHubPublisher(hub Broadcaster) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := e.Payload()
	if err != nil {
		return err
	}
	p.hub.BroadcastToTable(e.TableID, ws.Event{Type: e.Type, Payload: payload})
	return nil
}
