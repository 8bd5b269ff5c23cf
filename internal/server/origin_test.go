package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestNormalizeOrigin(t *testing.T) {
	req := require.New(t)

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"http://example.com", "http://example.com", true},
		{"HTTP://EXAMPLE.COM", "http://example.com", true},
		{"https://Example.com:8443", "https://example.com:8443", true},
		{"example.com", "", false},
		{"://broken", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := normalizeOrigin(tc.in)
		req.Equal(tc.ok, ok, "origin %q", tc.in)
		req.Equal(tc.want, got, "origin %q", tc.in)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	req := require.New(t)
	t.Cleanup(func() { SetConfig(nil) })
	SetConfig(&Config{AllowedOrigins: []string{"http://chat.example.com"}})

	req.True(isOriginAllowed(requestWithOrigin("http://chat.example.com")))
	req.True(isOriginAllowed(requestWithOrigin("HTTP://CHAT.EXAMPLE.COM")))
	req.False(isOriginAllowed(requestWithOrigin("http://evil.example.com")))
	req.False(isOriginAllowed(requestWithOrigin("")))
	req.False(isOriginAllowed(requestWithOrigin("not-a-url")))
}

func TestWildcardOriginAllowsEverything(t *testing.T) {
	req := require.New(t)
	t.Cleanup(func() { SetConfig(nil) })
	SetConfig(&Config{AllowedOrigins: []string{"*"}})

	req.True(isOriginAllowed(requestWithOrigin("http://anything.example")))
	// Requests without any Origin header are still refused.
	req.False(isOriginAllowed(requestWithOrigin("")))
}

func TestInvalidConfiguredOriginsAreIgnored(t *testing.T) {
	req := require.New(t)
	t.Cleanup(func() { SetConfig(nil) })
	SetConfig(&Config{AllowedOrigins: []string{"not a url", "http://ok.example.com", "  "}})

	cfg := currentConfig()
	req.Equal([]string{"http://ok.example.com"}, cfg.AllowedOrigins)
}
