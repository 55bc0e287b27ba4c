package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPProber_StatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"not modified", http.StatusNotModified, true},
		{"not found", http.StatusNotFound, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewHTTPProber(time.Second).Probe(context.Background(), server.URL+"/api/v1/docs")
			if (err != nil) != tt.wantErr {
				t.Errorf("Probe() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPProber_Headers(t *testing.T) {
	var gotAgent, gotHost string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotHost = r.Header.Get("X-Forwarded-Host")
	}))
	defer server.Close()

	prober := NewHTTPProber(time.Second).WithHeader("X-Forwarded-Host", "atom.example.com")
	if err := prober.Probe(context.Background(), server.URL); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if gotAgent != UserAgent || gotHost != "atom.example.com" {
		t.Errorf("headers = %q, %q", gotAgent, gotHost)
	}
}

func TestHTTPProber_HostHeader(t *testing.T) {
	var gotHost string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
	}))
	defer server.Close()

	prober := NewHTTPProber(time.Second).WithHeader("host", "atom.example.com")
	if err := prober.Probe(context.Background(), server.URL); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if gotHost != "atom.example.com" {
		t.Errorf("Host = %q, want atom.example.com", gotHost)
	}
}

func TestHTTPProber_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	if err := NewHTTPProber(50*time.Millisecond).Probe(context.Background(), server.URL); err == nil {
		t.Error("Probe() should fail when the endpoint is too slow")
	}
}

func TestHTTPProber_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewHTTPProber(time.Second).Probe(context.Background(), url)
	if err == nil || !strings.Contains(err.Error(), "request failed") {
		t.Errorf("Probe() error = %v", err)
	}
}

func TestHTTPProber_InvalidURL(t *testing.T) {
	if err := NewHTTPProber(time.Second).Probe(context.Background(), "://bad"); err == nil {
		t.Error("Probe() should fail for an invalid URL")
	}
}
