package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/chatlink/internal/logging"
	"github.com/danmuck/chatlink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(logging.Component("test")), RequestMetricsMiddleware("test"))
	r.GET("/conversations/:gid", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestRequestIDAssignedOrEchoed(t *testing.T) {
	testlog.Start(t)
	r := newRouter()

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/conversations/g1", nil))
	if got := rr.Header().Get(RequestIDHeader); len(got) != 26 {
		t.Fatalf("generated request id got=%q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/conversations/g1", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if got := rr.Header().Get(RequestIDHeader); got != "abc" {
		t.Fatalf("echoed request id got=%q", got)
	}
}

func TestRoutePathUsesTemplate(t *testing.T) {
	testlog.Start(t)
	r := newRouter()
	RegisterMetrics()
	routed := httpRequests.WithLabelValues("test", http.MethodGet, "/conversations/:gid", "204")
	unmatched := httpRequests.WithLabelValues("test", http.MethodGet, "unmatched", "404")
	beforeRouted := testutil.ToFloat64(routed)
	beforeUnmatched := testutil.ToFloat64(unmatched)

	for _, path := range []string{"/conversations/a", "/conversations/b", "/nowhere"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(routed) - beforeRouted; got != 2 {
		t.Fatalf("routed requests got=%v", got)
	}
	if got := testutil.ToFloat64(unmatched) - beforeUnmatched; got != 1 {
		t.Fatalf("unmatched requests got=%v", got)
	}
}
