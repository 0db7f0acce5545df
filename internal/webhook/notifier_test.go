package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegister_Idempotent(t *testing.T) {
	n := NewNotifier()
	n.Register("agent-1", "http://a.example/hook")
	n.Register("agent-1", "http://a.example/hook")
	n.Register("agent-1", "http://b.example/hook")

	got := n.URLs("agent-1")
	if len(got) != 2 {
		t.Fatalf("got %d urls, want 2: %v", len(got), got)
	}
	if got[0] != "http://a.example/hook" || got[1] != "http://b.example/hook" {
		t.Errorf("order not preserved: %v", got)
	}
}

func TestUnregister(t *testing.T) {
	n := NewNotifier()
	n.Register("agent-1", "http://a.example/hook")
	n.Register("agent-1", "http://b.example/hook")

	n.Unregister("agent-1", "http://a.example/hook")
	if got := n.URLs("agent-1"); len(got) != 1 || got[0] != "http://b.example/hook" {
		t.Errorf("urls = %v", got)
	}

	n.Unregister("agent-1", "http://b.example/hook")
	if got := n.URLs("agent-1"); len(got) != 0 {
		t.Errorf("urls = %v, want empty", got)
	}

	// Unknown agent or URL is a no-op.
	n.Unregister("agent-1", "http://never.example")
	n.Unregister("ghost", "http://never.example")
}

func TestNotifyAgent_NothingRegistered(t *testing.T) {
	n := NewNotifier()
	res := n.NotifyAgent(context.Background(), "agent-1", EventInvoicePaid, map[string]any{"invoiceId": "inv-1"})
	if res.Sent != 0 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	if res.Errors == nil || len(res.Errors) != 0 {
		t.Errorf("Errors = %v, want empty non-nil slice", res.Errors)
	}
}

func TestNotifyAgent_DeliversPayload(t *testing.T) {
	var gotBody []byte
	var gotEvent, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier()
	n.now = func() time.Time { return time.UnixMilli(1750000000000) }
	n.Register("agent-1", srv.URL)

	res := n.NotifyAgent(context.Background(), "agent-1", EventInvoicePaid, map[string]any{"invoiceId": "inv-1"})
	if res.Sent != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if gotEvent != "invoice.paid" {
		t.Errorf("X-Webhook-Event = %q", gotEvent)
	}
	if gotAgent != "agentfin/1.0" {
		t.Errorf("User-Agent = %q", gotAgent)
	}

	var body struct {
		Event     string         `json:"event"`
		Timestamp int64          `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Event != "invoice.paid" {
		t.Errorf("event = %q", body.Event)
	}
	if body.Timestamp != 1750000000000 {
		t.Errorf("timestamp = %d", body.Timestamp)
	}
	if body.Data["agentId"] != "agent-1" || body.Data["invoiceId"] != "inv-1" {
		t.Errorf("data = %v", body.Data)
	}
}

func TestNotifyAgent_FailureIsolation(t *testing.T) {
	var okCalls atomic.Int32
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()

	n := NewNotifier()
	n.Register("agent-1", badSrv.URL)
	n.Register("agent-1", okSrv.URL)

	res := n.NotifyAgent(context.Background(), "agent-1", EventLimitWarning, nil)
	if res.Sent != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if okCalls.Load() != 1 {
		t.Errorf("healthy endpoint called %d times", okCalls.Load())
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "HTTP 500") {
		t.Errorf("Errors = %v", res.Errors)
	}
	if !strings.HasPrefix(res.Errors[0], badSrv.URL+": ") {
		t.Errorf("error not attributed to url: %q", res.Errors[0])
	}
}

func TestNotifyAgent_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	n := NewNotifier()
	n.client = &http.Client{Timeout: 50 * time.Millisecond}
	n.Register("agent-1", srv.URL)

	res := n.NotifyAgent(context.Background(), "agent-1", EventSubscriptionFailed, nil)
	if res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasSuffix(res.Errors[0], ": Timeout") {
		t.Errorf("error = %q", res.Errors[0])
	}
}
