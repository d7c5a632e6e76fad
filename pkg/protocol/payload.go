package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexibleID accepts either a JSON string or a JSON number and keeps it as a string.
// Browser clients send numeric ids for legacy accounts and uuid strings for new ones.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string {
	return string(id)
}

// RegisterData is the payload of register / auth
type RegisterData struct {
	ID      FlexibleID `json:"id"`
	Role    string     `json:"role,omitempty"` // "admin" | "user"
	IsAdmin *bool      `json:"isAdmin,omitempty"`
}

// Admin reports whether the registration claims the admin role
func (r RegisterData) Admin() bool {
	if r.IsAdmin != nil && *r.IsAdmin {
		return true
	}
	return strings.EqualFold(r.Role, "admin")
}

// MarkReadData is the payload of mark_read
type MarkReadData struct {
	NotificationID string `json:"notificationId"`
}

// RegisteredData is the payload of registered
type RegisteredData struct {
	ConnectionID string `json:"connectionId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	IsAdmin      bool   `json:"isAdmin"`
}

// ErrorData is the payload of error
type ErrorData struct {
	Message string `json:"message"`
}

// Order carries the order fields the notification layer cares about
type Order struct {
	ID          FlexibleID `json:"id"`
	OrderNumber string     `json:"orderNumber,omitempty"`
	UserID      FlexibleID `json:"userId,omitempty"`
	Status      string     `json:"status"`
	Total       float64    `json:"total,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// OrderPayload is the payload of order_updated / admin_order_updated / order_update
type OrderPayload struct {
	Order Order `json:"order"`
}

// Payment carries the payment fields the notification layer cares about
type Payment struct {
	ID                    FlexibleID `json:"id"`
	OrderID               FlexibleID `json:"orderId"`
	UserID                FlexibleID `json:"userId,omitempty"`
	Status                string     `json:"status"`
	MerchantTransactionID string     `json:"merchantTransactionId,omitempty"`
	Amount                float64    `json:"amount,omitempty"`
	UpdatedAt             *time.Time `json:"updatedAt,omitempty"`
}

// PaymentPayload is the payload of payment_updated / admin_payment_updated
type PaymentPayload struct {
	Payment Payment `json:"payment"`
}

// StockAlertPayload is the payload of stock_alert
type StockAlertPayload struct {
	ProductID   FlexibleID `json:"productId"`
	ProductName string     `json:"productName"`
	SKU         string     `json:"sku,omitempty"`
	Stock       int        `json:"stock"`
	Threshold   int        `json:"threshold"`
	DetectedAt  *time.Time `json:"detectedAt,omitempty"`
}

// ParseTime coerces the timestamp formats seen on the wire into a time.
// Accepted: RFC3339(Nano) strings, "2006-01-02 15:04:05" strings and unix milliseconds.
func ParseTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return parseTimeString(s)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(raw), 64)
		if ferr != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
		}
		ms = int64(f)
	}
	return time.UnixMilli(ms).UTC(), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
