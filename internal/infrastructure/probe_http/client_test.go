package probe_http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davarch/rollout/internal/domain"
)

func TestFetch_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	}))
	defer srv.Close()

	body, err := New(time.Second).Fetch(context.Background(), srv.URL+"/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != `{"status":"UP"}` {
		t.Errorf("unexpected body %q", body)
	}
}

func TestFetch_Non2xxIsUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"DOWN"}`))
	}))
	defer srv.Close()

	body, err := New(time.Second).Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if body != `{"status":"DOWN"}` {
		t.Errorf("body should be kept for diagnostics, got %q", body)
	}
}

func TestFetch_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	if _, err := New(50*time.Millisecond).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestRemote_UsesCurlThroughChannel(t *testing.T) {
	ch := domain.NewMockRemote()
	ch.CurlBody = `{"status":"UP"}` + "\n"

	r := NewRemote(ch, domain.ConnectionProfile{Host: "bastion"}, 3*time.Second)
	body, err := r.Fetch(context.Background(), "http://10.0.0.10:8080/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != `{"status":"UP"}` {
		t.Errorf("unexpected body %q", body)
	}
	if !ch.Ran("curl", "-fsS", "--max-time", "3") {
		t.Errorf("expected curl to run remotely, got %v", ch.Commands)
	}
}

func TestRemote_CurlFailure(t *testing.T) {
	ch := domain.NewMockRemote()
	ch.Fail["curl -fsS"] = domain.CommandResult{ExitCode: 7, Stderr: "Failed to connect"}

	if _, err := NewRemote(ch, domain.ConnectionProfile{Host: "bastion"}, time.Second).Fetch(context.Background(), "http://x/health"); err == nil {
		t.Fatal("expected error on curl exit 7")
	}
}
