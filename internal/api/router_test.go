package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/chat"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/handlers"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/pubsub"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/store"
)

type topicLog struct {
	mu     sync.Mutex
	topics []string
}

func (l *topicLog) Deliver(_ context.Context, topic string, _ any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.topics = append(l.topics, topic)
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	srv    *httptest.Server
	store  *store.MemoryStore
	topics *topicLog
}

func newTestServer(t *testing.T, relay handlers.Pinger) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	log := &topicLog{}
	svc := chat.NewService(s, pubsub.NewRouter(log, zerolog.Nop()), zerolog.Nop(), chat.Options{})
	h := handlers.NewHandler(svc, relay, zerolog.Nop())
	srv := httptest.NewServer(NewRouter(zerolog.Nop(), h, Options{}))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: s, topics: log}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func (ts *testServer) sendPrivate(t *testing.T, sender, receiver int64, content string) {
	t.Helper()
	quoted, _ := json.Marshal(content)
	body := `{"senderId":` + itoa(sender) + `,"receiverId":` + itoa(receiver) + `,"content":` + string(quoted) + `}`
	expectStatus(t, ts.do(t, http.MethodPost, "/api/messages/private", body), http.StatusCreated)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestConversationEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sendPrivate(t, 1, 2, "hola")
	ts.sendPrivate(t, 2, 1, "qué tal")

	resp := ts.do(t, http.MethodGet, "/api/messages/2/1", "")
	expectStatus(t, resp, http.StatusOK)

	var msgs []map[string]any
	decodeBody(t, resp, &msgs)
	if len(msgs) != 2 || msgs[0]["content"] != "hola" || msgs[1]["content"] != "qué tal" {
		t.Fatalf("unexpected conversation: %v", msgs)
	}
	ts0, _ := msgs[0]["timestamp"].(string)
	if _, err := models.ParseTimestamp(ts0); err != nil || !strings.HasSuffix(ts0, "Z") || len(ts0) != len(models.TimestampLayout) {
		t.Fatalf("unexpected timestamp form %q", ts0)
	}
}

func TestSendPrivateEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/api/messages/private",
		`{"senderId":1,"receiverId":2,"content":"hola","timestamp":"2024-05-01T10:00:00.123Z"}`)
	expectStatus(t, resp, http.StatusCreated)

	var msg map[string]any
	decodeBody(t, resp, &msg)
	if msg["id"] == "" || msg["timestamp"] != "2024-05-01T10:00:00.123Z" || msg["seen"] != false {
		t.Fatalf("unexpected message: %v", msg)
	}

	ts.topics.mu.Lock()
	got := strings.Join(ts.topics.topics, ",")
	ts.topics.mu.Unlock()
	if got != "private.2,private.1" {
		t.Fatalf("unexpected deliveries: %s", got)
	}
}

func TestSendPublicEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/api/messages/public", `{"senderId":5,"content":"hi all"}`)
	expectStatus(t, resp, http.StatusCreated)

	var msg map[string]any
	decodeBody(t, resp, &msg)
	if msg["receiverId"] != nil || msg["type"] != "CHAT" {
		t.Fatalf("unexpected message: %v", msg)
	}
}

func TestValidationErrorsAre400(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name, method, path, body string
	}{
		{"missing sender", http.MethodPost, "/api/messages/private", `{"receiverId":2,"content":"x"}`},
		{"bad json", http.MethodPost, "/api/messages/private", `{"senderId":`},
		{"bad path id", http.MethodGet, "/api/messages/abc/2", ""},
		{"bad unread id", http.MethodGet, "/messages/unread/count/x", ""},
		{"unknown type", http.MethodGet, "/api/messages/by-type/shout", ""},
		{"receipt without receiver", http.MethodPost, "/api/messages/read-receipt", `{"senderId":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			var body map[string]string
			decodeBody(t, resp, &body)
			if body["error"] == "" {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}

	if n, _ := ts.store.Count(context.Background()); n != 0 {
		t.Fatalf("invalid requests stored %d messages", n)
	}
}

func TestNonJSONBodyRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/messages/private", strings.NewReader("senderId=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnsupportedMediaType)
}

func TestUnreadAndSeenFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sendPrivate(t, 1, 42, "a")
	ts.sendPrivate(t, 2, 42, "b")
	ts.sendPrivate(t, 3, 42, "c")
	ts.sendPrivate(t, 1, 42, "d")

	var total struct {
		Total int64 `json:"total"`
	}
	resp := ts.do(t, http.MethodGet, "/messages/unread/count/42", "")
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &total)
	if total.Total != 4 {
		t.Fatalf("expected 4 unread, got %d", total.Total)
	}

	var groups []map[string]int64
	resp = ts.do(t, http.MethodGet, "/messages/unread/by-sender/42", "")
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &groups)
	counts := map[int64]int64{}
	for _, g := range groups {
		counts[g["_id"]] = g["count"]
	}
	if counts[1] != 2 || counts[2] != 1 || counts[3] != 1 {
		t.Fatalf("unexpected grouping: %v", groups)
	}

	ts.topics.mu.Lock()
	ts.topics.topics = nil
	ts.topics.mu.Unlock()

	resp = ts.do(t, http.MethodPut, "/messages/1/42/seen", "")
	expectStatus(t, resp, http.StatusNoContent)

	ts.topics.mu.Lock()
	got := strings.Join(ts.topics.topics, ",")
	ts.topics.mu.Unlock()
	if got != "read.receipt.1,read.receipt.42" {
		t.Fatalf("unexpected receipts: %s", got)
	}

	resp = ts.do(t, http.MethodGet, "/messages/unread/count/42", "")
	decodeBody(t, resp, &total)
	if total.Total != 2 {
		t.Fatalf("expected 2 unread after seen, got %d", total.Total)
	}

	resp = ts.do(t, http.MethodPost, "/api/messages/read-receipt", `{"senderId":2,"receiverId":42}`)
	expectStatus(t, resp, http.StatusNoContent)

	resp = ts.do(t, http.MethodGet, "/messages/unread/count/42", "")
	decodeBody(t, resp, &total)
	if total.Total != 1 {
		t.Fatalf("expected 1 unread after receipt, got %d", total.Total)
	}
}

func TestPartnersAndPredicateEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sendPrivate(t, 11, 12, "a")
	ts.sendPrivate(t, 11, 13, "b")
	ts.sendPrivate(t, 14, 11, "c")

	var partners []int64
	resp := ts.do(t, http.MethodGet, "/api/messages/conversations/11", "")
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &partners)
	if len(partners) != 3 || partners[0] != 12 || partners[1] != 13 || partners[2] != 14 {
		t.Fatalf("expected [12 13 14], got %v", partners)
	}

	var msgs []map[string]any
	resp = ts.do(t, http.MethodGet, "/api/messages/by-sender/11", "")
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages from 11, got %d", len(msgs))
	}

	resp = ts.do(t, http.MethodGet, "/api/messages/by-receiver/11", "")
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &msgs)
	if len(msgs) != 1 || msgs[0]["content"] != "c" {
		t.Fatalf("unexpected messages to 11: %v", msgs)
	}

	resp = ts.do(t, http.MethodGet, "/api/messages/by-type/chat", "")
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &msgs)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 CHAT messages, got %d", len(msgs))
	}

	resp = ts.do(t, http.MethodGet, "/api/messages/conversations/99", "")
	b, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(b)) != "[]" {
		t.Fatalf("expected empty JSON array, got %s", b)
	}
}

func TestStoreFailureIs503(t *testing.T) {
	ts := newTestServer(t, nil)
	_ = ts.store.Close()

	resp := ts.do(t, http.MethodGet, "/api/messages/1/2", "")
	expectStatus(t, resp, http.StatusServiceUnavailable)

	resp = ts.do(t, http.MethodGet, "/health", "")
	expectStatus(t, resp, http.StatusServiceUnavailable)

	resp = ts.do(t, http.MethodGet, "/api/test", "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
}

func TestHealthAndTestEndpoints(t *testing.T) {
	ts := newTestServer(t, fakePinger{})
	ts.sendPrivate(t, 1, 2, "x")

	resp := ts.do(t, http.MethodGet, "/health", "")
	expectStatus(t, resp, http.StatusOK)
	var health handlers.HealthResponse
	decodeBody(t, resp, &health)
	if health.Status != "healthy" || health.MessageCount != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.Checks["store"].Status != "pass" || health.Checks["redis"].Status != "pass" {
		t.Fatalf("unexpected checks: %+v", health.Checks)
	}

	resp = ts.do(t, http.MethodGet, "/api/test", "")
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "Total messages: 1") {
		t.Fatalf("unexpected body %q", b)
	}
}

func TestHealthDegradedWhenRelayDown(t *testing.T) {
	ts := newTestServer(t, fakePinger{err: errors.New("refused")})
	resp := ts.do(t, http.MethodGet, "/health", "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	ts := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, ts.srv.URL+"/api/messages/1/2", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:4200" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("credentials not allowed: %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sendPrivate(t, 1, 2, "x")

	resp := ts.do(t, http.MethodGet, "/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `chat_http_requests_total{method="POST",path="/api/messages/private",status="201"}`) {
		t.Fatal("request metric with route pattern not exported")
	}
}
