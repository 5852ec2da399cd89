package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantOrigin string
		wantHost   string
		wantOK     bool
	}{
		{name: "empty", in: "", wantOK: false},
		{name: "null", in: "null", wantOrigin: "null", wantHost: "", wantOK: true},
		{name: "simple", in: "https://example.com", wantOrigin: "https://example.com", wantHost: "example.com", wantOK: true},
		{name: "uppercase host", in: "https://EXAMPLE.com", wantOrigin: "https://example.com", wantHost: "example.com", wantOK: true},
		{name: "default https port elided", in: "https://example.com:443", wantOrigin: "https://example.com", wantHost: "example.com", wantOK: true},
		{name: "default http port elided", in: "http://example.com:80", wantOrigin: "http://example.com", wantHost: "example.com", wantOK: true},
		{name: "explicit port kept", in: "http://example.com:8080", wantOrigin: "http://example.com:8080", wantHost: "example.com:8080", wantOK: true},
		{name: "ipv6 literal", in: "http://[::1]:8080", wantOrigin: "http://[::1]:8080", wantHost: "[::1]:8080", wantOK: true},
		{name: "trailing slash ok", in: "https://example.com/", wantOrigin: "https://example.com", wantHost: "example.com", wantOK: true},
		{name: "path rejected", in: "https://example.com/app", wantOK: false},
		{name: "query rejected", in: "https://example.com?x=1", wantOK: false},
		{name: "userinfo rejected", in: "https://user@example.com", wantOK: false},
		{name: "non-http scheme rejected", in: "ftp://example.com", wantOK: false},
		{name: "missing scheme rejected", in: "example.com", wantOK: false},
		{name: "port zero rejected", in: "http://example.com:0", wantOK: false},
		{name: "port overflow rejected", in: "http://example.com:70000", wantOK: false},
		{name: "unbracketed ipv6 rejected", in: "http://::1", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOrigin, gotHost, ok := NormalizeHeader(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok=%v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if gotOrigin != tt.wantOrigin || gotHost != tt.wantHost {
				t.Fatalf("got (%q, %q), want (%q, %q)", gotOrigin, gotHost, tt.wantOrigin, tt.wantHost)
			}
		})
	}
}

func TestIsAllowed_Allowlist(t *testing.T) {
	allowed := []string{"https://app.example.com", "http://localhost:3000"}

	cases := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"http://localhost:3000", true},
		{"https://evil.example.com", false},
		{"null", false},
	}
	for _, tc := range cases {
		norm, host, ok := NormalizeHeader(tc.origin)
		if !ok {
			t.Fatalf("NormalizeHeader(%q) failed", tc.origin)
		}
		if got := IsAllowed(norm, host, "relay.example.com", allowed); got != tc.want {
			t.Errorf("IsAllowed(%q)=%v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestIsAllowed_Wildcard(t *testing.T) {
	norm, host, ok := NormalizeHeader("https://anything.example.net")
	if !ok {
		t.Fatal("normalize failed")
	}
	if !IsAllowed(norm, host, "relay.example.com", []string{"*"}) {
		t.Fatal("wildcard should allow any normalized origin")
	}
}

func TestIsAllowed_SameHostDefault(t *testing.T) {
	cases := []struct {
		origin      string
		requestHost string
		want        bool
	}{
		{"https://relay.example.com", "relay.example.com", true},
		{"https://relay.example.com:443", "relay.example.com", true},
		{"http://relay.example.com", "relay.example.com:80", true},
		{"http://localhost:8080", "localhost:8080", true},
		{"https://other.example.com", "relay.example.com", false},
		{"http://relay.example.com:8080", "relay.example.com:9090", false},
		{"null", "relay.example.com", false},
	}
	for _, tc := range cases {
		norm, host, ok := NormalizeHeader(tc.origin)
		if !ok {
			t.Fatalf("NormalizeHeader(%q) failed", tc.origin)
		}
		if got := IsAllowed(norm, host, tc.requestHost, nil); got != tc.want {
			t.Errorf("IsAllowed(%q, host=%q)=%v, want %v", tc.origin, tc.requestHost, got, tc.want)
		}
	}
}
