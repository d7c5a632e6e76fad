package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"loudfits/internal/realtime"
	"loudfits/pkg/protocol"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sent struct {
	Type protocol.MessageType
	Data json.RawMessage
	To   string
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []sent
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, msgType protocol.MessageType, payload any, to realtime.Recipients) (realtime.Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return realtime.Result{}, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, sent{Type: msgType, Data: raw, To: to.String()})
	f.mu.Unlock()
	return realtime.Result{Targeted: 1, Delivered: 1}, nil
}

func (f *fakeBroadcaster) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) SaveForUser(ctx context.Context, userID string, n protocol.Notification) (protocol.Notification, error) {
	args := m.Called(ctx, userID, n)
	return args.Get(0).(protocol.Notification), args.Error(1)
}

func (m *MockSink) SaveForAdmins(ctx context.Context, n protocol.Notification) (protocol.Notification, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(protocol.Notification), args.Error(1)
}

type memoryRecorder struct {
	entries []HistoryEntry
}

func (r *memoryRecorder) Append(_ context.Context, entry HistoryEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func newTestPublisher(sink NotificationSink) (*Publisher, *fakeBroadcaster, *memoryRecorder) {
	b := &fakeBroadcaster{}
	rec := &memoryRecorder{}
	return NewPublisher(b, sink, rec, zerolog.Nop()), b, rec
}

func TestPublish_OrderUpdatedGoesToOwnerAndAdmins(t *testing.T) {
	sink := new(MockSink)
	p, b, rec := newTestPublisher(sink)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	sink.On("SaveForUser", mock.Anything, "u1", mock.MatchedBy(func(n protocol.Notification) bool {
		return n.ID == protocol.DerivedID(protocol.TypeOrderUpdated, "42", at) && n.EntityID == "42"
	})).Return(protocol.Notification{}, nil).Once()
	sink.On("SaveForAdmins", mock.Anything, mock.MatchedBy(func(n protocol.Notification) bool {
		return n.ID == protocol.DerivedID(protocol.TypeAdminOrderUpdated, "42", at)
	})).Return(protocol.Notification{}, nil).Once()

	err := p.Publish(context.Background(), Event{
		Type:       KindOrderUpdated,
		Payload:    json.RawMessage(`{"order":{"id":42,"userId":"u1","status":"shipped"}}`),
		OccurredAt: at,
	})
	require.NoError(t, err)

	calls := b.all()
	require.Len(t, calls, 2)
	assert.Equal(t, protocol.TypeOrderUpdated, calls[0].Type)
	assert.Equal(t, "users:u1", calls[0].To)
	assert.Equal(t, protocol.TypeAdminOrderUpdated, calls[1].Type)
	assert.Equal(t, "admins", calls[1].To)

	// the client synthesizes the same id from the payload timestamp
	n, ok := protocol.Synthesize(calls[1].Type, calls[1].Data, time.Now())
	require.True(t, ok)
	assert.Equal(t, protocol.DerivedID(protocol.TypeAdminOrderUpdated, "42", at), n.ID)

	assert.Len(t, rec.entries, 2)
	sink.AssertExpectations(t)
}

func TestPublish_OrderWithoutOwnerOnlyReachesAdmins(t *testing.T) {
	p, b, _ := newTestPublisher(nil)

	require.NoError(t, p.Publish(context.Background(), Event{
		Type:    KindOrderPlaced,
		Payload: json.RawMessage(`{"id":"o-1","status":"pending"}`),
	}))

	calls := b.all()
	require.Len(t, calls, 1)
	assert.Equal(t, protocol.TypeAdminOrderUpdated, calls[0].Type)
}

func TestPublish_PersistFailureStillDelivers(t *testing.T) {
	sink := new(MockSink)
	p, b, _ := newTestPublisher(sink)
	sink.On("SaveForAdmins", mock.Anything, mock.Anything).Return(protocol.Notification{}, errors.New("db down"))

	require.NoError(t, p.Publish(context.Background(), Event{
		Type:    KindStockLow,
		Payload: json.RawMessage(`{"productId":5,"productName":"Hoodie","stock":1,"threshold":3}`),
	}))

	calls := b.all()
	require.Len(t, calls, 1)
	assert.Equal(t, protocol.TypeStockAlert, calls[0].Type)
	assert.Equal(t, "admins", calls[0].To)
}

func TestPublish_PaymentUpdated(t *testing.T) {
	p, b, _ := newTestPublisher(nil)

	require.NoError(t, p.Publish(context.Background(), Event{
		Type:    KindPaymentUpdated,
		Payload: json.RawMessage(`{"payment":{"id":"p1","orderId":7,"userId":9,"status":"failed"}}`),
	}))

	calls := b.all()
	require.Len(t, calls, 2)
	assert.Equal(t, protocol.TypePaymentUpdated, calls[0].Type)
	assert.Equal(t, "users:9", calls[0].To)
	assert.Equal(t, protocol.TypeAdminPaymentUpdated, calls[1].Type)
}

func TestPublish_NotificationRouting(t *testing.T) {
	t.Run("NoAudienceBroadcastsToAll", func(t *testing.T) {
		sink := new(MockSink)
		p, b, _ := newTestPublisher(sink)

		require.NoError(t, p.Publish(context.Background(), Event{
			Type:    KindNotification,
			Payload: json.RawMessage(`{"notification":{"type":"system","title":"Maintenance tonight"}}`),
		}))

		calls := b.all()
		require.Len(t, calls, 1)
		assert.Equal(t, protocol.TypeBroadcast, calls[0].Type)
		assert.Equal(t, "all", calls[0].To)
		sink.AssertNotCalled(t, "SaveForUser", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("PerUserRowsDoNotCollide", func(t *testing.T) {
		sink := new(MockSink)
		p, b, _ := newTestPublisher(sink)
		var ids []string
		sink.On("SaveForUser", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				ids = append(ids, args.Get(2).(protocol.Notification).ID)
			}).
			Return(protocol.Notification{}, errors.New("skip"))

		require.NoError(t, p.Publish(context.Background(), Event{
			Type:    KindNotification,
			Payload: json.RawMessage(`{"userIds":["u1",2,"u1"],"notification":{"id":"n1","type":"user","title":"Welcome"}}`),
		}))

		calls := b.all()
		require.Len(t, calls, 2)
		assert.Equal(t, "users:u1", calls[0].To)
		assert.Equal(t, "users:2", calls[1].To)
		require.Len(t, ids, 2)
		assert.NotEqual(t, ids[0], ids[1])
	})

	t.Run("MissingTitle", func(t *testing.T) {
		p, _, _ := newTestPublisher(nil)
		err := p.Publish(context.Background(), Event{
			Type:    KindNotification,
			Payload: json.RawMessage(`{"notification":{"type":"user"}}`),
		})
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})
}

func TestPublish_Rejects(t *testing.T) {
	p, b, _ := newTestPublisher(nil)

	assert.ErrorIs(t, p.Publish(context.Background(), Event{Type: "refund.issued"}), ErrUnknownEvent)
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Type: KindOrderUpdated, Payload: json.RawMessage(`{"order":{}}`)}), ErrInvalidEvent)
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Type: KindStockLow, Payload: json.RawMessage(`[]`)}), ErrInvalidEvent)
	assert.Empty(t, b.all())
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"order.updated","payload":{"id":1},"occurredAt":"2024-05-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, KindOrderUpdated, ev.Type)
	assert.Equal(t, 2024, ev.OccurredAt.Year())

	_, err = ParseEvent([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = ParseEvent([]byte(`garbage`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
