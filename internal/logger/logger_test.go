package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
}

func TestNewTagsService(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Service: "api-server", Level: "debug", Format: "json", Output: buf})

	log.Info().Str("client_id", "c1").Msg("client_added")

	assert.Contains(t, buf.String(), `"service":"api-server"`)
	assert.Contains(t, buf.String(), `"client_added"`)
}

func TestGinMiddlewareLogsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := &bytes.Buffer{}
	log := New(Options{Level: "info", Output: buf})

	router := gin.New()
	router.Use(GinMiddleware(log))
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing?x=1", nil))

	assert.Contains(t, buf.String(), `"status":404`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `/missing?x=1`)
}
