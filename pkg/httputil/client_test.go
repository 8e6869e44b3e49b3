package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientSingleton(t *testing.T) {
	c1 := Client(TierMedium)
	c2 := Client(TierMedium)

	if c1 != c2 {
		t.Error("Client() should return the same instance for same tier")
	}

	fast := Client(TierFast)
	slow := Client(TierSlow)

	if fast == slow {
		t.Error("Different tiers should return different clients")
	}
}

func TestClientTimeouts(t *testing.T) {
	tests := []struct {
		tier TimeoutTier
		want time.Duration
	}{
		{TierFast, 5 * time.Second},
		{TierMedium, 30 * time.Second},
		{TierSlow, 60 * time.Second},
	}

	for _, tt := range tests {
		c := Client(tt.tier)
		if c.Timeout != tt.want {
			t.Errorf("Tier %d: got timeout %v, want %v", tt.tier, c.Timeout, tt.want)
		}
	}
}

func TestNewClientCustomTimeout(t *testing.T) {
	c := NewClient(10 * time.Second)
	if c.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", c.Timeout)
	}

	// Non-positive timeouts fall back to the medium tier
	c = NewClient(0)
	if c.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s default", c.Timeout)
	}
}

func TestReadResponseBodyLimit(t *testing.T) {
	body := strings.NewReader(strings.Repeat("a", 100))

	data, err := ReadResponseBody(body, 10)
	if err != nil {
		t.Fatalf("ReadResponseBody failed: %v", err)
	}
	if len(data) != 10 {
		t.Errorf("read %d bytes, want 10 (limit enforced)", len(data))
	}
}

func TestCheckResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream unhappy"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/ok")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckResponse(resp, "test-service"); err != nil {
		t.Errorf("CheckResponse on 200 returned error: %v", err)
	}
	DrainAndClose(resp.Body)

	resp, err = http.Get(server.URL + "/fail")
	if err != nil {
		t.Fatal(err)
	}
	err = CheckResponse(resp, "test-service")
	DrainAndClose(resp.Body)
	if err == nil {
		t.Fatal("CheckResponse on 502 should return an error")
	}
	if !strings.Contains(err.Error(), "test-service") || !strings.Contains(err.Error(), "502") {
		t.Errorf("error should name the service and status: %v", err)
	}
}
