package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testRequest() Request {
	return Request{
		TargetDate:             time.Date(2026, 5, 8, 15, 0, 0, 0, time.UTC),
		BasePrice:              180,
		UrgencySteepness:       1.5,
		MarketDemandMultiplier: 1.0,
	}
}

func newTestClient(baseURL string) *Client {
	return NewClient(baseURL, 5*time.Second, ClientConfig{
		MaxRetries:     3,
		RetryDelayBase: time.Millisecond,
	})
}

func TestCalculatePrice_Success(t *testing.T) {
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/pricing/calculate" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Response{Success: true, CurrentPrice: 810.5}) //nolint:errcheck
	}))
	defer srv.Close()

	price, err := newTestClient(srv.URL).CalculatePrice(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CalculatePrice: %v", err)
	}
	if price != 810.5 {
		t.Errorf("price: got %v, want 810.5", price)
	}
	if gotReq.BasePrice != 180 {
		t.Errorf("request base price: got %v, want 180", gotReq.BasePrice)
	}
}

func TestCalculatePrice_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Response{Success: true, CurrentPrice: 810}) //nolint:errcheck
	}))
	defer srv.Close()

	price, err := newTestClient(srv.URL).CalculatePrice(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CalculatePrice: %v", err)
	}
	if price != 810 {
		t.Errorf("price: got %v, want 810", price)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestCalculatePrice_ExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).CalculatePrice(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestCalculatePrice_RemoteFailureNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(Response{Success: false, Error: "unsupported date range"}) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CalculatePrice(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error for Success=false")
	}
	if calls != 1 {
		t.Errorf("Success=false should not be retried: got %d calls", calls)
	}
}

func TestCalculatePrice_BadStatusNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CalculatePrice(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if calls != 1 {
		t.Errorf("4xx should not be retried: got %d calls", calls)
	}
}

func TestCalculatePrice_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, ClientConfig{
		MaxRetries:     3,
		RetryDelayBase: time.Hour, // cancellation must win over the backoff wait
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.CalculatePrice(ctx, testRequest())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("CalculatePrice did not return after cancellation")
	}
}
