package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loudfits/internal/auth"
	"loudfits/internal/middleware"
	"loudfits/internal/realtime"
	"loudfits/pkg/protocol"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, n *Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockRepository) ListRecent(ctx context.Context, userID string, admin bool, limit int) ([]Notification, error) {
	args := m.Called(ctx, userID, admin, limit)
	return args.Get(0).([]Notification), args.Error(1)
}

func (m *MockRepository) GetUnread(ctx context.Context, userID string, admin bool) ([]Notification, error) {
	args := m.Called(ctx, userID, admin)
	return args.Get(0).([]Notification), args.Error(1)
}

func (m *MockRepository) MarkAsRead(ctx context.Context, userID string, admin bool, id string) error {
	args := m.Called(ctx, userID, admin, id)
	return args.Error(0)
}

func (m *MockRepository) MarkAllAsRead(ctx context.Context, userID string, admin bool) (int64, error) {
	args := m.Called(ctx, userID, admin)
	return args.Get(0).(int64), args.Error(1)
}

func TestService_RecentClampsLimit(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, zerolog.Nop())
	repo.On("ListRecent", mock.Anything, "u1", false, MaxRecent).Return([]Notification{}, nil).Twice()

	_, err := svc.Recent(context.Background(), realtime.Identity{UserID: "u1"}, 0)
	require.NoError(t, err)
	_, err = svc.Recent(context.Background(), realtime.Identity{UserID: "u1"}, 5000)
	require.NoError(t, err)

	repo.AssertExpectations(t)
}

func TestService_UnreadMapsRows(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, zerolog.Nop())
	repo.On("GetUnread", mock.Anything, "a1", true).Return([]Notification{
		{ID: "n1", Type: "payment", Title: "Paid", Priority: "urgent"},
		{ID: "n2", Type: "mystery", Title: "?", Priority: "bogus"},
	}, nil)

	got, err := svc.Unread(context.Background(), realtime.Identity{UserID: "a1", IsAdmin: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, protocol.PriorityUrgent, got[0].Priority)
	assert.Equal(t, protocol.NotificationSystem, got[1].Type)
	assert.Equal(t, protocol.PriorityMedium, got[1].Priority)
}

func TestService_UnreadWrapsError(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, zerolog.Nop())
	repo.On("GetUnread", mock.Anything, "u1", false).Return([]Notification(nil), errors.New("db down"))

	_, err := svc.Unread(context.Background(), realtime.Identity{UserID: "u1"})
	assert.ErrorContains(t, err, "db down")
}

func TestService_SaveValidates(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, zerolog.Nop())

	_, err := svc.SaveForUser(context.Background(), "", protocol.Notification{Title: "x"})
	assert.Error(t, err)
	_, err = svc.SaveForAdmins(context.Background(), protocol.Notification{})
	assert.Error(t, err)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_SaveForAdminsOverSQLite(t *testing.T) {
	svc := NewService(NewRepository(newTestDB(t)), zerolog.Nop())
	ctx := context.Background()

	saved, err := svc.SaveForAdmins(ctx, protocol.Notification{
		Type:     protocol.NotificationPayment,
		Title:    "Payment failed",
		Priority: protocol.PriorityHigh,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	adminUnread, err := svc.Unread(ctx, realtime.Identity{UserID: "a1", IsAdmin: true})
	require.NoError(t, err)
	require.Len(t, adminUnread, 1)
	assert.Equal(t, saved.ID, adminUnread[0].ID)

	customerUnread, err := svc.Unread(ctx, realtime.Identity{UserID: "a1"})
	require.NoError(t, err)
	assert.Empty(t, customerUnread)
}

// HTTP surface over a real sqlite store

const handlerSecret = "notification-handler-secret"

func newTestRouter(t *testing.T) (*gin.Engine, Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := NewService(NewRepository(newTestDB(t)), zerolog.Nop())

	router := gin.New()
	group := router.Group("/api/notifications", middleware.AuthMiddleware(auth.NewHMACVerifier(handlerSecret)))
	NewHandler(svc).RegisterRoutes(group)
	return router, svc
}

func do(t *testing.T, router *gin.Engine, method, path, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		token, err := auth.IssueToken(handlerSecret, userID, "customer", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_Flow(t *testing.T) {
	router, svc := newTestRouter(t)
	ctx := context.Background()

	first, err := svc.SaveForUser(ctx, "u1", protocol.Notification{Type: protocol.NotificationOrder, Title: "Shipped"})
	require.NoError(t, err)
	_, err = svc.SaveForUser(ctx, "u1", protocol.Notification{Type: protocol.NotificationOrder, Title: "Delivered"})
	require.NoError(t, err)

	w := do(t, router, http.MethodGet, "/api/notifications/unread", "u1")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Notifications []protocol.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Notifications, 2)

	w = do(t, router, http.MethodPut, "/api/notifications/"+first.ID+"/read", "u1")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodPut, "/api/notifications/"+first.ID+"/read", "u2")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPut, "/api/notifications/read-all", "u1")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, "/api/notifications?limit=10", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 2)
	for _, n := range body.Notifications {
		assert.True(t, n.Read)
	}
}

func TestHandler_RejectsBadInput(t *testing.T) {
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodGet, "/api/notifications/unread", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/notifications?limit=abc", "u1").Code)
}
