package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ejsubmit/internal/common/http/middleware"
	pkgerrors "ejsubmit/pkg/errors"

	"github.com/gin-gonic/gin"
)

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

func performRequest(router http.Handler, headers map[string]string) (*httptest.ResponseRecorder, apiResponse) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	router.ServeHTTP(rec, req)
	var resp apiResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handlers...)
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func TestTraceContextMiddlewareGeneratesIDs(t *testing.T) {
	router := newRouter(middleware.TraceContextMiddleware())
	rec, _ := performRequest(router, nil)
	if rec.Header().Get("X-Trace-Id") == "" || rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected trace and request id headers")
	}
}

func TestTraceContextMiddlewarePreservesIDs(t *testing.T) {
	router := newRouter(middleware.TraceContextMiddleware())
	rec, _ := performRequest(router, map[string]string{"X-Trace-Id": "trace-1", "X-Request-Id": "req-1", "X-User-Id": "7"})
	if rec.Header().Get("X-Trace-Id") != "trace-1" || rec.Header().Get("X-Request-Id") != "req-1" {
		t.Fatalf("ids were not preserved: %v", rec.Header())
	}
	if rec.Header().Get("X-User-Id") != "7" {
		t.Fatalf("expected user id header")
	}
}

func TestInternalTokenMiddleware(t *testing.T) {
	router := newRouter(middleware.TraceContextMiddleware(), middleware.InternalTokenMiddleware("secret"))

	rec, resp := performRequest(router, nil)
	if rec.Code != http.StatusUnauthorized || resp.Code != int(pkgerrors.Unauthorized) {
		t.Fatalf("expected unauthorized, got %d %+v", rec.Code, resp)
	}
	if resp.TraceID == "" {
		t.Fatalf("error response should carry the trace id")
	}

	rec, resp = performRequest(router, map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusForbidden || resp.Code != int(pkgerrors.Forbidden) {
		t.Fatalf("expected forbidden, got %d %+v", rec.Code, resp)
	}

	rec, _ = performRequest(router, map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass through, got %d", rec.Code)
	}
}

func TestInternalTokenMiddlewareDisabled(t *testing.T) {
	router := newRouter(middleware.InternalTokenMiddleware(""), middleware.AccessLogMiddleware())
	rec, _ := performRequest(router, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass through, got %d", rec.Code)
	}
}
