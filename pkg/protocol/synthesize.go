package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var derivedNamespace = uuid.MustParse("7b0c4a52-3f5e-4f0e-9f4b-6c1d2f0a9e11")

// DerivedID is the notification id for a domain event. The server persists under
// the same id the client synthesizes, so a replay after reconnect dedups.
func DerivedID(msgType MessageType, entityID string, at time.Time) string {
	name := fmt.Sprintf("%s:%s:%d", msgType, entityID, at.UTC().UnixMilli())
	return uuid.NewSHA1(derivedNamespace, []byte(name)).String()
}

// DedupKey identifies a logical entity+event pair for toast suppression
func DedupKey(msgType MessageType, entityID string) string {
	return string(msgType) + ":" + entityID
}

// IsOrderEvent reports whether t carries an OrderPayload
func IsOrderEvent(t MessageType) bool {
	switch t {
	case TypeAdminOrderUpdated, TypeOrderUpdated, TypeOrderUpdate:
		return true
	}
	return false
}

// IsPaymentEvent reports whether t carries a PaymentPayload
func IsPaymentEvent(t MessageType) bool {
	return t == TypeAdminPaymentUpdated || t == TypePaymentUpdated
}

// Synthesize turns a domain envelope payload into a Notification.
// fallback is used when the payload carries no timestamp of its own.
// ok is false for types that are not domain events or payloads without an entity id.
func Synthesize(msgType MessageType, data json.RawMessage, fallback time.Time) (Notification, bool) {
	switch {
	case IsOrderEvent(msgType):
		order, ok := decodeOrder(data)
		if !ok {
			return Notification{}, false
		}
		return orderNotification(msgType, order, stamp(order.UpdatedAt, fallback)), true
	case IsPaymentEvent(msgType):
		var p PaymentPayload
		if err := json.Unmarshal(data, &p); err != nil || p.Payment.ID == "" {
			return Notification{}, false
		}
		return paymentNotification(msgType, p.Payment, stamp(p.Payment.UpdatedAt, fallback)), true
	case msgType == TypeStockAlert:
		var s StockAlertPayload
		if err := json.Unmarshal(data, &s); err != nil || s.ProductID == "" {
			return Notification{}, false
		}
		return stockNotification(s, stamp(s.DetectedAt, fallback)), true
	}
	return Notification{}, false
}

// decodeOrder accepts {"order": {...}} and, for order_update, a bare order object
func decodeOrder(data json.RawMessage) (Order, bool) {
	var p OrderPayload
	if err := json.Unmarshal(data, &p); err == nil && p.Order.ID != "" {
		return p.Order, true
	}
	var o Order
	if err := json.Unmarshal(data, &o); err == nil && o.ID != "" {
		return o, true
	}
	return Order{}, false
}

func stamp(at *time.Time, fallback time.Time) time.Time {
	if at != nil && !at.IsZero() {
		return at.UTC()
	}
	if fallback.IsZero() {
		return time.Now().UTC()
	}
	return fallback.UTC()
}

func orderNotification(msgType MessageType, o Order, at time.Time) Notification {
	label := o.OrderNumber
	if label == "" {
		label = o.ID.String()
	}
	status := strings.ToLower(o.Status)

	priority := PriorityMedium
	switch status {
	case "cancelled", "canceled", "refunded", "failed":
		priority = PriorityHigh
	}

	return Notification{
		ID:             DerivedID(msgType, o.ID.String(), at),
		Type:           NotificationOrder,
		Title:          fmt.Sprintf("Order #%s %s", label, statusWord(status, "updated")),
		Message:        fmt.Sprintf("Order #%s is now %s.", label, statusWord(status, "updated")),
		CreatedAt:      at,
		Priority:       priority,
		ActionRequired: msgType == TypeAdminOrderUpdated && status == "pending",
		EntityID:       o.ID.String(),
		EntityType:     "order",
	}
}

func paymentNotification(msgType MessageType, p Payment, at time.Time) Notification {
	status := strings.ToLower(p.Status)

	priority := PriorityMedium
	if status == "failed" || status == "declined" {
		priority = PriorityHigh
	}

	message := fmt.Sprintf("Payment for order #%s is %s.", p.OrderID, statusWord(status, "updated"))
	if msgType == TypeAdminPaymentUpdated && p.MerchantTransactionID != "" {
		message += " Transaction " + p.MerchantTransactionID + "."
	}

	return Notification{
		ID:             DerivedID(msgType, p.ID.String(), at),
		Type:           NotificationPayment,
		Title:          "Payment " + statusWord(status, "updated"),
		Message:        message,
		CreatedAt:      at,
		Priority:       priority,
		ActionRequired: msgType == TypeAdminPaymentUpdated && priority == PriorityHigh,
		EntityID:       p.ID.String(),
		EntityType:     "payment",
	}
}

func stockNotification(s StockAlertPayload, at time.Time) Notification {
	name := s.ProductName
	if name == "" {
		name = s.SKU
	}
	if name == "" {
		name = s.ProductID.String()
	}

	priority := PriorityHigh
	if s.Stock <= 0 {
		priority = PriorityUrgent
	}

	return Notification{
		ID:             DerivedID(TypeStockAlert, s.ProductID.String(), at),
		Type:           NotificationProduct,
		Title:          "Low stock: " + name,
		Message:        fmt.Sprintf("%d left (threshold %d).", s.Stock, s.Threshold),
		CreatedAt:      at,
		Priority:       priority,
		ActionRequired: true,
		EntityID:       s.ProductID.String(),
		EntityType:     "product",
	}
}

func statusWord(status, fallback string) string {
	if status == "" {
		return fallback
	}
	return strings.ReplaceAll(status, "_", " ")
}
