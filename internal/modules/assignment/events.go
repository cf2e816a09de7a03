// README: delivery.assigned event published after a successful commit.
package assignment

import (
	"context"
	"encoding/json"
	"time"

	"riderdispatch/internal/modules/delivery"
)

const RoutingKeyAssigned = "delivery.assigned"

type Broker interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

type AssignedEvent struct {
	AssignmentID    string    `json:"assignment_id"`
	DeliveryID      string    `json:"delivery_id"`
	RiderID         string    `json:"rider_id"`
	AssignedAt      time.Time `json:"assigned_at"`
	DistanceKm      float64   `json:"distance_km"`
	DurationMinutes float64   `json:"duration_minutes"`
	SelectionMode   string    `json:"selection_mode"`
	Estimated       bool      `json:"estimated"`
}

type EventPublisher struct {
	broker Broker
}

func NewEventPublisher(broker Broker) *EventPublisher {
	return &EventPublisher{broker: broker}
}

func (p *EventPublisher) AssignmentCommitted(ctx context.Context, a delivery.Assignment) error {
	body, err := json.Marshal(AssignedEvent{
		AssignmentID:    a.ID,
		DeliveryID:      string(a.DeliveryID),
		RiderID:         string(a.RiderID),
		AssignedAt:      a.AssignedAt,
		DistanceKm:      a.DistanceKm,
		DurationMinutes: a.DurationMinutes,
		SelectionMode:   string(a.SelectionMode),
		Estimated:       a.Estimated,
	})
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, RoutingKeyAssigned, body)
}
