package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	kafkax "github.com/mohmdloai/flasky/internal/kafka"
)

// Topic carries every outbound notification; the delivery worker consumes it.
const Topic = "shop.notifications"

const (
	TypeOrderConfirmation = "OrderConfirmation"
	TypeLowStockAlert     = "LowStockAlert"
	TypeOrderStatusUpdate = "OrderStatusUpdate"
)

type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Recipient  string          `json:"recipient,omitempty"`
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Producer   string          `json:"producer"`
	Payload    json.RawMessage `json:"payload"`
}

type OrderConfirmationPayload struct {
	OrderID          string          `json:"order_id"`
	Name             string          `json:"name"`
	PaymentReference string          `json:"payment_reference"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

type LowStockProduct struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
}

type LowStockAlertPayload struct {
	Threshold int               `json:"threshold"`
	Products  []LowStockProduct `json:"products"`
}

type OrderStatusUpdatePayload struct {
	OrderID string `json:"order_id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
}

// Sink accepts fire-and-forget notifications. Send must not block on delivery
// and must never fail the operation that produced the message.
type Sink interface {
	Send(m Message)
}

// KafkaSink publishes messages through the async producer. Delivery errors
// are logged inside the producer loop, not returned here.
type KafkaSink struct {
	Producer *kafkax.Producer
	Service  string
}

func (s *KafkaSink) Send(m Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.OccurredAt = time.Now().UTC()
	m.Producer = s.Service

	s.Producer.Publish([]byte(m.ID), kafkax.MustMarshal(m),
		kafkago.Header{Key: "x-notify-type", Value: []byte(m.Type)},
	)
}

func OrderConfirmation(recipient string, p OrderConfirmationPayload) Message {
	return Message{
		Type:      TypeOrderConfirmation,
		Recipient: recipient,
		Subject:   "Order Confirmation",
		Payload:   kafkax.MustMarshal(p),
	}
}

func LowStockAlert(p LowStockAlertPayload) Message {
	return Message{
		Type:    TypeLowStockAlert,
		Subject: "Low Stock Alert",
		Payload: kafkax.MustMarshal(p),
	}
}

func OrderStatusUpdate(recipient string, p OrderStatusUpdatePayload) Message {
	return Message{
		Type:      TypeOrderStatusUpdate,
		Recipient: recipient,
		Subject:   "Order #" + p.OrderID + " Status Update",
		Payload:   kafkax.MustMarshal(p),
	}
}
