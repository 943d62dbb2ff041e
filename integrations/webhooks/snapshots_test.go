package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hydchain/core/events"
	"hydchain/core/types"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var receivedSignature string
	var receivedEvent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if string(body) == "" {
			t.Fatalf("expected body")
		}
		receivedSignature = r.Header.Get("X-HYD-Signature")
		receivedEvent = r.Header.Get("X-HYD-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.EnqueueSnapshotReady(SnapshotReadyPayload{JobID: "job-1", Path: "positions.parquet", Rows: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return receivedSignature != "" }, time.Second)
	if receivedSignature == "" {
		t.Fatalf("expected signature header")
	}
	if receivedSignature[:7] != "sha256=" {
		t.Fatalf("unexpected signature prefix %s", receivedSignature)
	}
	if receivedEvent != string(EventSnapshotReady) {
		t.Fatalf("unexpected event header %s", receivedEvent)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.EnqueueLiquidation(LiquidationPayload{PositionID: "pos-1", Asset: "TBILL", Repaid: "450", BadDebt: "0", Partial: true}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestObserveEventDeliversLiquidations(t *testing.T) {
	var receivedEvent atomic.Value
	var receivedBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		receivedBody.Store(body)
		receivedEvent.Store(r.Header.Get("X-HYD-Event"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	// Journal entries outside the liquidation topic are ignored.
	dispatcher.ObserveEvent(types.Event{Type: events.TypePSMSwapIn, Attributes: map[string]string{}})

	dispatcher.ObserveEvent(types.Event{
		Type: events.TypeTreasuryLiquidated,
		Attributes: map[string]string{
			"positionId": "pos-1",
			"asset":      "TBILL",
			"repaid":     "450",
			"badDebt":    "0",
			"partial":    "true",
		},
	})
	waitFor(func() bool { return receivedEvent.Load() != nil }, time.Second)
	got, _ := receivedEvent.Load().(string)
	if got != string(EventLiquidation) {
		t.Fatalf("unexpected event header %q", got)
	}
	var payload LiquidationPayload
	raw, _ := receivedBody.Load().([]byte)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PositionID != "pos-1" || payload.Asset != "TBILL" || payload.Repaid != "450" || !payload.Partial {
		t.Fatalf("payload mismatch: %+v", payload)
	}
	if payload.DeliveryID == "" {
		t.Fatalf("delivery id must be set")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
