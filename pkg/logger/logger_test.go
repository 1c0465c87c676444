package logger

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNew_TagsService(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production", "dispatcher")

	l.Info("dispatch pass", "claimed", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if rec["service"] != "dispatcher" {
		t.Fatalf("expected service attr, got %v", rec["service"])
	}
	if rec["claimed"] != float64(3) {
		t.Fatalf("expected claimed attr, got %v", rec["claimed"])
	}
}

func TestNew_DebugOnlyInDev(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "production", "api").Debug("noise")
	if buf.Len() != 0 {
		t.Fatalf("production logger emitted debug: %s", buf.String())
	}

	buf.Reset()
	NewWithWriter(&buf, "local", "api").Debug("detail")
	if buf.Len() == 0 {
		t.Fatalf("local logger dropped debug")
	}
}

func TestMiddleware_LogsAccountWhenResolved(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production", "api")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/v1/ping", func(c *gin.Context) {
		// Stands in for the auth middleware resolving an identity.
		c.Set("account_id", "acct-1")
		c.JSON(200, gin.H{"ok": true})
	})

	req := httptest.NewRequest("GET", "/v1/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("request id header not set")
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("summary line is not json: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "http request" {
		t.Fatalf("unexpected message: %v", rec["msg"])
	}
	if rec["account_id"] != "acct-1" {
		t.Fatalf("expected account_id attr, got %v", rec["account_id"])
	}
	if !strings.HasPrefix(rec["path"].(string), "/v1/ping") {
		t.Fatalf("unexpected path: %v", rec["path"])
	}
}
