package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestServer(t *testing.T, status int) (*httptest.Server, *PushRequest) {
	t.Helper()
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNewClient_EmptyURL(t *testing.T) {
	if _, err := NewClient("  ", nil); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestPushEventJSON_Labels(t *testing.T) {
	srv, got := newTestServer(t, http.StatusNoContent)
	c, err := NewClient(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	raw := []byte(`{"eventType":"refresh_rejected","userId":"u1","reason":"reuse_detected","action":"logout_all","source":"http","createdAt":"2026-01-02T03:04:05Z"}`)
	if err := c.PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d", len(got.Streams))
	}
	s := got.Streams[0]
	want := map[string]string{"job": Job, "event_type": "refresh_rejected", "reason": "reuse_detected", "action": "logout_all", "source": "http"}
	if len(s.Stream) != len(want) {
		t.Errorf("labels = %v, want %v", s.Stream, want)
	}
	for k, v := range want {
		if s.Stream[k] != v {
			t.Errorf("label %q = %q, want %q", k, s.Stream[k], v)
		}
	}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixNano()
	if len(s.Values) != 1 || s.Values[0][0] != strconv.FormatInt(ts, 10) || s.Values[0][1] != string(raw) {
		t.Errorf("values = %v", s.Values)
	}
}

func TestPushEventJSON_InvalidJSONPushesRawLine(t *testing.T) {
	srv, got := newTestServer(t, http.StatusNoContent)
	c, _ := NewClient(srv.URL, nil)
	if err := c.PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := got.Streams[0]
	if len(s.Stream) != 1 || s.Stream["job"] != Job {
		t.Errorf("labels = %v, want only job", s.Stream)
	}
	if s.Values[0][1] != "not json" {
		t.Errorf("line = %q", s.Values[0][1])
	}
}

func TestPushEvent_SanitizesLabels(t *testing.T) {
	srv, got := newTestServer(t, http.StatusNoContent)
	c, _ := NewClient(srv.URL, nil)
	err := c.PushEvent(context.Background(), time.Now(), "line", map[string]string{"reason": "a b/c", "empty": "  "})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	s := got.Streams[0]
	if s.Stream["reason"] != "a_b_c" {
		t.Errorf("reason = %q", s.Stream["reason"])
	}
	if _, ok := s.Stream["empty"]; ok {
		t.Error("empty label should be dropped")
	}
}

func TestPushEvent_Non2xx(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusBadRequest)
	c, _ := NewClient(srv.URL, nil)
	if err := c.PushEvent(context.Background(), time.Now(), "line", nil); err == nil {
		t.Fatal("expected error on 400")
	}
}
