package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                           "/",
		"/metrics":                   "/metrics",
		"/v1/entities":               "/v1/entities",
		"/v1/entities/42":            "/v1/entities/:id",
		"/v1/entities/dni/V-1234567": "/v1/entities/dni/:search",
		"/v1/entities/dni/12345678":  "/v1/entities/dni/:search",
		"/v1/accounts/7?full=1":      "/v1/accounts/:id",
		"/v1/auth/signin":            "/v1/auth/signin",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentKeepsStatus(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/entities", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	metrics := httptest.NewRecorder()
	Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(metrics.Body.String(), `http_requests_total{method="POST",path="/v1/entities",status="409"}`) {
		t.Fatalf("request counter missing from exposition")
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := SetLogger(NewLogger(&buf, "debug", "json"))
	defer SetLogger(prev)

	Logger().Debug("probe", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "probe" || entry["k"] != "v" || entry["service"] != "stexcore-hub" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARN").String() != "WARN" {
		t.Fatalf("warn not parsed")
	}
	if ParseLevel("bogus").String() != "INFO" {
		t.Fatalf("unknown level should default to info")
	}
}
