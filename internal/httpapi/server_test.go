package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"claimrelay/internal/funnel"
	"claimrelay/internal/notifier"
	"claimrelay/internal/participant"
	logx "claimrelay/pkg/logx"
)

type captureNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *captureNotifier) Notify(_ context.Context, text string) notifier.Result {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
	return notifier.Result{Sent: true}
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, staticDir string) (*httptest.Server, *funnel.Controller, *captureNotifier) {
	t.Helper()
	n := &captureNotifier{}
	ctrl := funnel.New(funnel.Deps{Notifier: n, Log: logx.Nop(), Now: func() time.Time { return fixedNow }})
	ts := httptest.NewServer(NewHandler(ctrl, staticDir, logx.Nop(), func() time.Time { return fixedNow }))
	t.Cleanup(ts.Close)
	return ts, ctrl, n
}

func post(t *testing.T, ts *httptest.Server, path, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return decodeResp(t, resp)
}

func get(t *testing.T, ts *httptest.Server, path string) map[string]any {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return decodeResp(t, resp)
}

func decodeResp(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	if resp.Header.Get(headerRequestID) == "" {
		t.Fatalf("missing %s header", headerRequestID)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestCheckUserUnknown(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t, "")

	got := post(t, ts, "/api/check-user", `{"userid":"nobody"}`)
	if got["exists"] != false {
		t.Fatalf("exists = %v", got["exists"])
	}
	if _, ok := got["completed"]; ok {
		t.Fatalf("completed should be omitted for unknown ids: %v", got)
	}
}

func TestFunnelOverHTTP(t *testing.T) {
	t.Parallel()
	ts, _, n := newTestServer(t, "")

	ack := post(t, ts, "/api/submit-claim",
		`{"username":"alice","displayname":"Alice","userid":"u1","sessionId":"s1","timestamp":"2025-03-01T11:58:00.000Z"}`)
	if ack["success"] != true || ack["message"] != "Claim submitted successfully" {
		t.Fatalf("submit ack = %v", ack)
	}

	chk := post(t, ts, "/api/check-user", `{"userid":"u1"}`)
	if chk["exists"] != true || chk["completed"] != false {
		t.Fatalf("check after submit = %v", chk)
	}
	data, _ := chk["data"].(map[string]any)
	if data["timestamp"] != "2025-03-01T11:58:00Z" || data["timerStarted"] != "2025-03-01T11:58:00Z" {
		t.Fatalf("data = %v", data)
	}

	ack = post(t, ts, "/api/timer-complete", `{"username":"alice","displayname":"Alice","userid":"u1","sessionId":"s1"}`)
	if ack["message"] != "Timer completion logged" {
		t.Fatalf("timer ack = %v", ack)
	}
	chk = post(t, ts, "/api/check-user", `{"userid":"u1"}`)
	if chk["completed"] != true {
		t.Fatalf("check after timer = %v", chk)
	}

	st := get(t, ts, "/api/admin/stats")
	if st["total"] != float64(1) || st["completed"] != float64(1) || st["pending"] != float64(0) {
		t.Fatalf("stats = %v", st)
	}
	users := get(t, ts, "/api/admin/users")
	if users["total"] != float64(1) {
		t.Fatalf("users = %v", users)
	}
	if got := n.count(); got != 2 {
		t.Fatalf("notifications = %d, want 2", got)
	}
}

func TestMalformedBodyIsEmptyPayload(t *testing.T) {
	t.Parallel()
	ts, ctrl, n := newTestServer(t, "")

	ack := post(t, ts, "/api/submit-claim", `{"userid": "u1", `)
	if ack["success"] != true {
		t.Fatalf("ack = %v", ack)
	}
	if _, ok := ctrl.Registry().Get(""); !ok {
		t.Fatalf("malformed body should submit an empty claim")
	}
	if _, ok := ctrl.Registry().Get("u1"); ok {
		t.Fatalf("partial payload leaked into the registry")
	}
	if n.count() != 1 {
		t.Fatalf("notifications = %d", n.count())
	}
}

func TestWebhook(t *testing.T) {
	t.Parallel()
	ts, ctrl, n := newTestServer(t, "")
	ctrl.Registry().Put("777", participant.Record{UserID: "777", Username: "bob"})

	tests := []struct {
		body   string
		notify int
	}{
		{`{"update_id":1,"message":{"message_id":1,"text":"ItsMe","from":{"id":777},"chat":{"id":777,"type":"private"}}}`, 1},
		{`{"update_id":2,"message":{"message_id":2,"text":"HI","from":{"id":777},"chat":{"id":777,"type":"private"}}}`, 2},
		{`{"update_id":3,"message":{"message_id":3,"text":"/start","from":{"id":777},"chat":{"id":777,"type":"private"}}}`, 2},
		{`{"update_id":4,"message":{"message_id":4,"text":"ItsMe","from":{"id":1},"chat":{"id":1,"type":"private"}}}`, 2},
		{`{"update_id":5}`, 2},
		{`not json`, 2},
	}
	for _, tt := range tests {
		got := post(t, ts, "/api/webhook", tt.body)
		if got["ok"] != true {
			t.Fatalf("webhook %s answered %v", tt.body, got)
		}
		if n.count() != tt.notify {
			t.Fatalf("after %s: notifications = %d, want %d", tt.body, n.count(), tt.notify)
		}
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts, ctrl, _ := newTestServer(t, "")
	ctrl.Registry().Put("a", participant.Record{UserID: "a"})

	got := get(t, ts, "/health")
	if got["status"] != "ok" || got["users"] != float64(1) {
		t.Fatalf("health = %v", got)
	}
	if got["timestamp"] != "2025-03-01T12:00:00.000Z" {
		t.Fatalf("timestamp = %v", got["timestamp"])
	}
}

func TestStaticFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>claim</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	ts, _, _ := newTestServer(t, dir)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), "<h1>claim</h1>") {
		t.Fatalf("GET / = %d %q", resp.StatusCode, b)
	}
}

func TestWrongMethod(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/api/submit-claim")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t, "")
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set(headerRequestID, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(headerRequestID); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestServeAndStop(t *testing.T) {
	t.Parallel()
	ctrl := funnel.New(funnel.Deps{})
	srv := New(Config{Host: "127.0.0.1", Port: 0}, ctrl, logx.Nop())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(context.Background()) }()

	select {
	case <-srv.Ready():
	case err := <-errc:
		t.Fatalf("serve: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}
	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("serve returned %v after stop", err)
	}
}

func TestUnreadableClaimTimestampIsLogged(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctrl := funnel.New(funnel.Deps{Log: logx.Nop(), Now: func() time.Time { return fixedNow }})
	h := NewHandler(ctrl, "", logx.NewWriter(&buf, "debug"), func() time.Time { return fixedNow })

	body := `{"userid":"u1","timestamp":"Sat Mar 01 2025 11:58:00 GMT+0000 (Coordinated Universal Time)"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/submit-claim", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "claim timestamp not understood") {
		t.Fatalf("fallback not logged:\n%s", buf.String())
	}
	if got := ctrl.CheckUser("u1").Record.SubmittedAt; !got.Equal(fixedNow) {
		t.Fatalf("timestamp = %v, want server clock %v", got, fixedNow)
	}

	buf.Reset()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/submit-claim", strings.NewReader(`{"userid":"u2"}`)))
	if strings.Contains(buf.String(), "claim timestamp not understood") {
		t.Fatalf("missing timestamp should not be reported:\n%s", buf.String())
	}
}
