package quota_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Duet/internal/quota"
)

func newClient(t *testing.T, h http.Handler, retries int) *quota.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := quota.NewClient(quota.ClientConfig{
		BaseURL:        srv.URL + "/",
		Token:          "secret",
		Timeout:        time.Second,
		Retries:        retries,
		InitialBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestClient_CheckPermission(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/permissions/video_call" {
			t.Errorf("request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"allowed":false,"reason":"quota exhausted","canRenew":true,"currentPlan":"basic","remainingDays":3,"usedTokens":100,"totalTokens":100}`))
	}), 0)

	d, err := c.CheckPermission(context.Background(), "video_call")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	want := quota.Decision{
		Allowed:       false,
		Reason:        "quota exhausted",
		CanRenew:      true,
		CurrentPlan:   "basic",
		RemainingDays: 3,
		UsedTokens:    100,
		TotalTokens:   100,
	}
	if d != want {
		t.Fatalf("decision=%+v, want %+v", d, want)
	}
}

func TestClient_CheckPermissionRemainingQuota(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"allowed":true,"currentPlan":"pro","usedTokens":40,"totalTokens":100}`))
	}), 0)

	d, err := c.CheckPermission(context.Background(), "video_call")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed || d.RemainingQuota != 60 {
		t.Fatalf("allowed=%v remaining=%d, want true/60", d.Allowed, d.RemainingQuota)
	}
}

func TestClient_CheckPermissionRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    []int
		retries   int
		wantCalls int32
		wantErr   bool
	}{
		{"recovers after 503", []int{503, 503, 200}, 3, 3, false},
		{"gives up after retries", []int{500, 500, 500, 500}, 2, 3, true},
		{"client error is not retried", []int{403}, 3, 1, true},
		{"429 is retried", []int{429, 200}, 1, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := int(calls.Add(1)) - 1
				code := tt.status[min(n, len(tt.status)-1)]
				if code != http.StatusOK {
					http.Error(w, "nope", code)
					return
				}
				_, _ = w.Write([]byte(`{"allowed":true}`))
			}), tt.retries)

			_, err := c.CheckPermission(context.Background(), "video_call")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr %v", err, tt.wantErr)
			}
			if calls.Load() != tt.wantCalls {
				t.Fatalf("calls=%d, want %d", calls.Load(), tt.wantCalls)
			}
			var se *quota.StatusError
			if tt.wantErr && !errors.As(err, &se) {
				t.Fatalf("err=%v, want StatusError", err)
			}
		})
	}
}

func TestClient_RecordUsage(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/v1/usage" {
			t.Errorf("request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Feature string `json:"feature"`
			Count   int    `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Feature != "video_call" || body.Count != 1 {
			t.Errorf("body=%+v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	}), 3)

	if err := c.RecordUsage(context.Background(), "video_call", 1); err != nil {
		t.Fatalf("record: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d, want 1", calls.Load())
	}
}

func TestClient_RecordUsageNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), 5)

	if err := c.RecordUsage(context.Background(), "video_call", 1); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d, want 1", calls.Load())
	}
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	if _, err := quota.NewClient(quota.ClientConfig{BaseURL: "ftp://quota"}); err == nil {
		t.Fatalf("expected error for ftp scheme")
	}
	c, err := quota.NewClient(quota.ClientConfig{BaseURL: "http://quota"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.CheckPermission(context.Background(), ""); !errors.Is(err, quota.ErrEmptyFeature) {
		t.Fatalf("err=%v, want ErrEmptyFeature", err)
	}
}
