package client

import (
	"encoding/json"
	"testing"
	"time"

	"loudfits/pkg/protocol"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, msgType protocol.MessageType, data string, at time.Time) protocol.Envelope {
	t.Helper()
	require.True(t, json.Valid([]byte(data)))
	return protocol.Envelope{Type: msgType, Data: json.RawMessage(data), Timestamp: at}
}

func newOverlay() (*AdminOverlay, *NotificationStore, *toastLog, *MemoryStore) {
	toasts := &toastLog{}
	markers := NewMemoryStore()
	store := NewNotificationStore(nil, StoreOptions{}, zerolog.Nop())
	return NewAdminOverlay(store, toasts, markers, zerolog.Nop()), store, toasts, markers
}

func TestAdminOverlay_SuppressesRepeatToastsPerEntity(t *testing.T) {
	o, store, toasts, _ := newOverlay()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, o.Handle(envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":42,"orderNumber":"LF-42","status":"pending"}}`, t0)))
	assert.False(t, o.Handle(envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":42,"orderNumber":"LF-42","status":"shipped"}}`, t0.Add(time.Minute))))

	assert.Len(t, store.List(), 2)
	assert.Equal(t, 1, toasts.count())

	// a different entity still toasts
	assert.True(t, o.Handle(envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":43,"status":"pending"}}`, t0)))
	// so does the same entity under another event type
	assert.True(t, o.Handle(envelope(t, protocol.TypeAdminPaymentUpdated, `{"payment":{"id":"p1","orderId":42,"status":"failed"}}`, t0)))
	assert.Equal(t, 3, toasts.count())
}

func TestAdminOverlay_ReplayedEnvelopeIsRecordedOnce(t *testing.T) {
	o, store, toasts, _ := newOverlay()
	env := envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":7,"status":"paid"}}`, time.Now())

	o.Handle(env)
	o.Handle(env)

	assert.Len(t, store.List(), 1)
	assert.Equal(t, 1, toasts.count())
}

func TestAdminOverlay_StockAlerts(t *testing.T) {
	o, store, toasts, _ := newOverlay()
	at := time.Now()

	assert.True(t, o.Handle(envelope(t, protocol.TypeStockAlert, `{"productId":5,"productName":"Hoodie","stock":0,"threshold":3}`, at)))
	assert.False(t, o.Handle(envelope(t, protocol.TypeStockAlert, `{"productId":5,"productName":"Hoodie","stock":0,"threshold":3}`, at)))

	require.Len(t, store.List(), 1)
	assert.Equal(t, protocol.PriorityUrgent, store.List()[0].Priority)
	require.Equal(t, 1, toasts.count())
	assert.Equal(t, ToastDestructive, toasts.toasts[0].Level)
	assert.Equal(t, CategoryStockAlert.Style(), toasts.toasts[0].Style)
}

func TestAdminOverlay_IgnoresNonDomainEnvelopes(t *testing.T) {
	o, store, toasts, _ := newOverlay()

	assert.False(t, o.Handle(envelope(t, protocol.TypeRegistered, `{}`, time.Now())))
	assert.False(t, o.Handle(envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{}}`, time.Now())))
	assert.Empty(t, store.List())
	assert.Equal(t, 0, toasts.count())
}

func TestAdminOverlay_MarkersLastForTheSession(t *testing.T) {
	o, store, toasts, markers := newOverlay()
	first := envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":42,"status":"pending"}}`, time.Now())
	o.Handle(first)

	// a second overlay over the same marker storage, as after a page reload
	again := NewAdminOverlay(store, toasts, markers, zerolog.Nop())
	assert.False(t, again.Handle(envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":42,"status":"shipped"}}`, time.Now().Add(time.Second))))

	again.EndSession()
	assert.True(t, again.Handle(envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":42,"status":"delivered"}}`, time.Now().Add(2*time.Second))))
	assert.Equal(t, 2, toasts.count())
}

func TestAdminOverlay_HandleBurstActsOnNewest(t *testing.T) {
	o, store, _, _ := newOverlay()
	t0 := time.Now()

	assert.True(t, o.HandleBurst([]protocol.Envelope{
		envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":1,"status":"pending"}}`, t0),
		envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":2,"status":"pending"}}`, t0.Add(time.Second)),
		envelope(t, protocol.TypeAdminOrderUpdated, `{"order":{"id":3,"status":"pending"}}`, t0.Add(-time.Second)),
	}))
	require.Len(t, store.List(), 1)
	assert.Equal(t, "2", store.List()[0].EntityID)

	assert.False(t, o.HandleBurst(nil))
}

func TestClassify(t *testing.T) {
	cases := map[protocol.MessageType]Category{
		protocol.TypeAdminOrderUpdated:   CategoryOrder,
		protocol.TypeOrderUpdate:         CategoryOrder,
		protocol.TypeAdminPaymentUpdated: CategoryPayment,
		protocol.TypeStockAlert:          CategoryStockAlert,
		"user_registered":                CategoryUser,
		"admin_product_updated":          CategoryProduct,
		protocol.TypeEcho:                CategoryDefault,
		"":                               CategoryDefault,
	}
	for msgType, want := range cases {
		assert.Equal(t, want, Classify(msgType), "type %q", msgType)
	}

	assert.Equal(t, CategoryDefault.Style(), Category(99).Style())
	assert.NotEqual(t, CategoryOrder.Style(), CategoryPayment.Style())
}
