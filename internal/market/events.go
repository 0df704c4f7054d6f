package market

import (
	"context"
	"strconv"
)

// Event kinds delivered through the Notifier.
const (
	EventOrderCompleted = "order_completed"
	EventOrderCancelled = "order_cancelled"
)

// RecipientUser is the recipient class for per-account delivery.
const RecipientUser = "user"

// Notification is one outbound event. Delivery is best-effort: failures
// are logged by the Notifier and never propagate into the transaction
// that produced the event.
type Notification struct {
	Tenant         int64       `json:"tenant"`
	RecipientClass string      `json:"recipient_class"`
	RecipientKey   string      `json:"recipient_key"`
	Sender         string      `json:"sender"`
	Kind           string      `json:"kind"`
	Payload        interface{} `json:"payload"`
}

// Notifier is the outbound signaling contract. Implementations live in
// internal/notify; the engine only ever calls Send after commit.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// OrderCompletedEvent reports one or more fills of an order to its
// owner. GiveAmount is the effective per-unit amount this side paid,
// which can be lower than the posted give_amount when the matcher
// rebated a price differential.
type OrderCompletedEvent struct {
	OrderID         int64   `json:"order_id"`
	GiveItem        string  `json:"give_item"`
	GiveAmount      int64   `json:"give_amount"`
	GivePayload     Payload `json:"give_payload"`
	TakeItem        string  `json:"take_item"`
	TakeAmount      int64   `json:"take_amount"`
	TakePayload     Payload `json:"take_payload"`
	AmountCompleted int64   `json:"amount_completed"`
	AmountLeft      int64   `json:"amount_left"`
	Payload         Payload `json:"payload"`
}

// OrderCancelledEvent reports a cancelled (or reaped) order to its owner.
type OrderCancelledEvent struct {
	OrderID       int64   `json:"order_id"`
	GiveItem      string  `json:"give_item"`
	GiveAmount    int64   `json:"give_amount"`
	GivePayload   Payload `json:"give_payload"`
	TakeItem      string  `json:"take_item"`
	TakeAmount    int64   `json:"take_amount"`
	TakePayload   Payload `json:"take_payload"`
	WereAvailable int64   `json:"were_available"`
	Payload       Payload `json:"payload"`
}

func orderCompleted(o *Order, giveAmount, completed, left int64) Notification {
	owner := strconv.FormatInt(o.Owner, 10)
	return Notification{
		Tenant:         o.Tenant,
		RecipientClass: RecipientUser,
		RecipientKey:   owner,
		Sender:         owner,
		Kind:           EventOrderCompleted,
		Payload: OrderCompletedEvent{
			OrderID:         o.ID,
			GiveItem:        o.GiveItem,
			GiveAmount:      giveAmount,
			GivePayload:     o.GivePayload,
			TakeItem:        o.TakeItem,
			TakeAmount:      o.TakeAmount,
			TakePayload:     o.TakePayload,
			AmountCompleted: completed,
			AmountLeft:      left,
			Payload:         o.Payload,
		},
	}
}

func orderCancelled(o *Order) Notification {
	owner := strconv.FormatInt(o.Owner, 10)
	return Notification{
		Tenant:         o.Tenant,
		RecipientClass: RecipientUser,
		RecipientKey:   owner,
		Sender:         owner,
		Kind:           EventOrderCancelled,
		Payload: OrderCancelledEvent{
			OrderID:       o.ID,
			GiveItem:      o.GiveItem,
			GiveAmount:    o.GiveAmount,
			GivePayload:   o.GivePayload,
			TakeItem:      o.TakeItem,
			TakeAmount:    o.TakeAmount,
			TakePayload:   o.TakePayload,
			WereAvailable: o.Available,
			Payload:       o.Payload,
		},
	}
}
