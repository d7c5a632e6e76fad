package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"loudfits/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockVerifier mocks the auth.Verifier interface
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) ValidateToken(tokenString string) (*auth.Claims, error) {
	args := m.Called(tokenString)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Claims), args.Error(1)
}

func setupRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		userID, _ := c.Get(UserIDKey)
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})
	router.GET("/protected", handlers...)
	return router
}

func TestAuthMiddleware(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("ValidateToken", "good").Return(&auth.Claims{UserID: "u1", Role: "admin"}, nil)
	verifier.On("ValidateToken", "bad").Return(nil, errors.New("boom"))

	router := setupRouter(AuthMiddleware(verifier), RequireAdmin())

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"MissingHeader", "", http.StatusUnauthorized},
		{"WrongScheme", "Basic good", http.StatusUnauthorized},
		{"InvalidToken", "Bearer bad", http.StatusUnauthorized},
		{"Valid", "Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequireAdminRejectsCustomers(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("ValidateToken", "customer").Return(&auth.Claims{UserID: "u2", Role: "user"}, nil)

	router := setupRouter(AuthMiddleware(verifier), RequireAdmin())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer customer")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOptionalAuth(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("ValidateToken", "query-token").Return(&auth.Claims{UserID: "u3", Role: "user"}, nil)

	router := setupRouter(OptionalAuth(verifier))

	t.Run("Anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user_id":null}`, w.Body.String())
	})

	t.Run("QueryToken", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected?token=query-token", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user_id":"u3"}`, w.Body.String())
	})
}
