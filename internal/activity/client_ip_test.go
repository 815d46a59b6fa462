package activity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientIP_WithoutResolver_UsesRemoteAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr with port", "192.0.2.10:54321", "", "192.0.2.10"},
		{"ipv6 remote addr", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"remote addr without port", "192.0.2.10", "", "192.0.2.10"},
		{"ipv4 mapped ipv6", "[::ffff:192.0.2.10]:1234", "", "192.0.2.10"},
		{"forwarded header ignored", "203.0.113.10:1234", "198.51.100.1", "203.0.113.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_UnparseableRemoteAddr_IsTruncated(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = strings.Repeat("x", 200)

	if got := ClientIP(req); len(got) != MaxIPAddressLength {
		t.Errorf("len(ClientIP()) = %d, want %d", len(got), MaxIPAddressLength)
	}
}

func TestIPResolver_Resolve(t *testing.T) {
	res, err := NewIPResolver([]string{"10.0.0.0/8", "192.0.2.1"})
	if err != nil {
		t.Fatalf("NewIPResolver() error = %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		want       string
	}{
		{"untrusted peer spoofing header", "203.0.113.10:1234", []string{"198.51.100.1"}, "203.0.113.10"},
		{"untrusted peer oversized header", "203.0.113.10:1234", []string{strings.Repeat("9", 500)}, "203.0.113.10"},
		{"trusted proxy single hop", "10.0.0.1:1234", []string{"203.0.113.7"}, "203.0.113.7"},
		{"trusted proxy chain", "10.0.0.1:1234", []string{"198.51.100.1, 203.0.113.7, 10.0.0.2"}, "203.0.113.7"},
		{"trusted single address", "192.0.2.1:1234", []string{"203.0.113.7"}, "203.0.113.7"},
		{"multiple header lines", "10.0.0.1:1234", []string{"198.51.100.1", "203.0.113.7"}, "203.0.113.7"},
		{"trusted proxy without header", "10.0.0.1:1234", nil, "10.0.0.1"},
		{"trusted proxy invalid hop", "10.0.0.1:1234", []string{strings.Repeat("a", 500)}, "10.0.0.1"},
		{"invalid hop stops walk", "10.0.0.1:1234", []string{"198.51.100.1, garbage, 10.0.0.2"}, "10.0.0.2"},
		{"all hops trusted", "10.0.0.1:1234", []string{"10.0.0.3, 10.0.0.2"}, "10.0.0.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}

			got := res.Resolve(req)
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
			if len(got) > MaxIPAddressLength {
				t.Errorf("len(Resolve()) = %d, exceeds %d", len(got), MaxIPAddressLength)
			}
		})
	}
}

func TestNewIPResolver_InvalidEntry(t *testing.T) {
	for _, raw := range []string{"not-an-ip", "10.0.0.0/99"} {
		if _, err := NewIPResolver([]string{raw}); err == nil {
			t.Errorf("NewIPResolver(%q) expected error", raw)
		}
	}
}

func TestNewIPResolver_NoProxies_IgnoresHeader(t *testing.T) {
	res, err := NewIPResolver(nil)
	if err != nil {
		t.Fatalf("NewIPResolver() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	if got := res.Resolve(req); got != "10.0.0.1" {
		t.Errorf("Resolve() = %q, want %q", got, "10.0.0.1")
	}
}

func TestIPResolver_Middleware_StoresResolvedIP(t *testing.T) {
	res, err := NewIPResolver([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("NewIPResolver() error = %v", err)
	}

	var got string
	handler := res.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "203.0.113.7" {
		t.Errorf("ClientIP() = %q, want %q", got, "203.0.113.7")
	}
}
