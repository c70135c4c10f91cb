package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := middleware.RequestID(RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			writeErr(w, http.StatusNotFound, "nope")
			return
		}
	})))

	for _, path := range []string{"/ok", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(entries))
	}

	ok := entries[0].ContextMap()
	if entries[0].Level != zapcore.InfoLevel || ok["status"] != int64(http.StatusOK) || ok["req_id"] == "" {
		t.Fatalf("unexpected entry for /ok: %v %v", entries[0].Level, ok)
	}
	missing := entries[1].ContextMap()
	if entries[1].Level != zapcore.WarnLevel || missing["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected entry for /missing: %v %v", entries[1].Level, missing)
	}
}
