package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"subject":    auth.SubjectFromContext(r.Context()),
			"request_id": RequestIDFromContext(r.Context()),
		})
	})
}

func TestAuth(t *testing.T) {
	secret := "test-secret"
	valid, err := auth.IssueJWT("user-1", []byte(secret), time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT failed: %v", err)
	}
	expired, err := auth.IssueJWT("user-1", []byte(secret), -time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT failed: %v", err)
	}

	tests := []struct {
		name        string
		secret      string
		path        string
		header      string
		wantStatus  int
		wantSubject string
	}{
		{"disabled", "", "/api/analyses", "", http.StatusOK, ""},
		{"missing token", secret, "/api/analyses", "", http.StatusUnauthorized, ""},
		{"expired token", secret, "/api/analyses", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"garbage token", secret, "/api/analyses", "Bearer abc", http.StatusUnauthorized, ""},
		{"valid token", secret, "/api/analyses", "Bearer " + valid, http.StatusOK, "user-1"},
		{"exempt path", secret, "/health", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Auth(tt.secret, "/health", "/metrics")(okHandler())
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if tt.wantStatus == http.StatusOK && body["subject"] != tt.wantSubject {
				t.Errorf("subject = %q, want %q", body["subject"], tt.wantSubject)
			}
			if tt.wantStatus == http.StatusUnauthorized && body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	h := RequestID(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "given")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "given" || !strings.Contains(rec.Body.String(), `"given"`) {
		t.Errorf("request id not propagated: %v %s", rec.Header(), rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Header().Get("X-Request-ID")) != 36 {
		t.Errorf("expected generated uuid, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/analyses", nil))

	if rec.Code != http.StatusNoContent || called {
		t.Errorf("preflight: status %d, handler called %v", rec.Code, called)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Errorf("X-API-Key not allowed: %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	h := Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "Panic recovered") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestLogger_CapturesStatusAndFlushes(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	flushed := false
	h := Logger(log)(RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
			flushed = true
		}
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/process-statements", nil))

	if !flushed || !rec.Flushed {
		t.Error("response writer wrapper must support flushing")
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["request_id"] == "" {
		t.Errorf("log entry = %v", entry)
	}
}

func TestMetrics_PassesThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/analyses/{file}", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "missing")
	})
	rec := httptest.NewRecorder()
	Metrics(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analyses/x.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}
