package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFeedFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("asset"); got != "TBILL" {
			t.Errorf("unexpected asset query %q", got)
		}
		fmt.Fprint(w, `{"asset":"TBILL","price":"1.0025","timestamp":1750000000}`)
	}))
	defer server.Close()

	feed := NewHTTPFeed("rwadesk", server.URL, server.Client())
	quote, err := feed.Fetch(context.Background(), "tbill")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Asset != "TBILL" || quote.Source != "rwadesk" {
		t.Fatalf("unexpected quote identity %+v", quote)
	}
	if quote.Price.Cmp(price("1.0025")) != 0 {
		t.Fatalf("unexpected price %s", quote.Price)
	}
	if !quote.Timestamp.Equal(time.Unix(1750000000, 0).UTC()) {
		t.Fatalf("unexpected timestamp %s", quote.Timestamp)
	}
}

func TestHTTPFeedRejectsMismatchedAsset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"asset":"GOLD","price":"1.0","timestamp":1750000000}`)
	}))
	defer server.Close()

	feed := NewHTTPFeed("rwadesk", server.URL, server.Client())
	if _, err := feed.Fetch(context.Background(), "TBILL"); err == nil {
		t.Fatalf("expected asset mismatch error")
	}
}

func TestHTTPFeedRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	feed := NewHTTPFeed("rwadesk", server.URL, server.Client())
	if _, err := feed.Fetch(context.Background(), "TBILL"); err == nil {
		t.Fatalf("expected status error")
	}
}
