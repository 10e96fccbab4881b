package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeliver_Signed(t *testing.T) {
	var gotSig string
	var gotEvent Event
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		body, _ = io.ReadAll(r.Body)
		json.Unmarshal(body, &gotEvent)
	}))
	defer srv.Close()

	ev := NewEvent(EventRunCompleted, "run_1", map[string]int{"rows": 30})
	if err := Deliver(context.Background(), srv.URL, "s3cret", ev); err != nil {
		t.Fatal(err)
	}
	if gotEvent.Type != EventRunCompleted || gotEvent.RunID != "run_1" {
		t.Errorf("event = %+v", gotEvent)
	}
	if !Verify("s3cret", body, gotSig) {
		t.Errorf("signature %q does not verify", gotSig)
	}
	if Verify("other", body, gotSig) {
		t.Error("signature verified with the wrong secret")
	}
}

func TestDeliver_Unsigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SignatureHeader) != "" {
			t.Error("unexpected signature without secret")
		}
	}))
	defer srv.Close()
	if err := Deliver(context.Background(), srv.URL, "", NewEvent(EventRunStopped, "r", nil)); err != nil {
		t.Fatal(err)
	}
}

func TestDeliver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if err := Deliver(context.Background(), srv.URL, "", NewEvent(EventRunCompleted, "r", nil)); err == nil {
		t.Error("5xx should be an error")
	}
}

func TestDeliverAsync_Retries(t *testing.T) {
	saved := retryDelays
	retryDelays = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { retryDelays = saved }()

	tests := []struct {
		name      string
		failFirst int32
		wantCalls int32
	}{
		{"first attempt", 0, 1},
		{"third attempt", 2, 3},
		{"exhausted", 10, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= tt.failFirst {
					w.WriteHeader(http.StatusServiceUnavailable)
				}
			}))
			defer srv.Close()

			select {
			case <-DeliverAsync(srv.URL, "k", NewEvent(EventEntityCompleted, "r", nil)):
			case <-time.After(5 * time.Second):
				t.Fatal("delivery did not finish")
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}
