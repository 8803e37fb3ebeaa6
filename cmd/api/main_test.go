package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"geoattend/internal/config"
	"geoattend/internal/store"
)

func healthzRouter(cfg config.App) *gin.Engine {
	gin.SetMode(gin.TestMode)
	// Nothing listens on this port, so any probe against it fails.
	redisCli := store.NewRedis("127.0.0.1:1")
	r := gin.New()
	r.GET("/healthz", healthzHandler(cfg, nil, redisCli))
	return r
}

func TestHealthzSkipsRedisProbeForLogNotifier(t *testing.T) {
	r := healthzRouter(config.App{StoreBackend: "memory", NotifierBackend: "log"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code, "redis is unused here and must not gate health")
}

func TestHealthzProbesRedisForRedisNotifier(t *testing.T) {
	r := healthzRouter(config.App{StoreBackend: "memory", NotifierBackend: "redis"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
