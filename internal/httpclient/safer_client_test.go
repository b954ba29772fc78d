package httpclient

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSaferClient(t *testing.T) {
	c := NewSaferClient(30 * time.Second)

	assert.Equal(t, 30*time.Second, c.Timeout)
	assert.Equal(t, 10, c.maxRedirects)
	assert.True(t, c.blockPrivateIP)
}

func TestValidateURL(t *testing.T) {
	c := NewSaferClient(time.Second)

	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"public https", "https://openrouter.ai/api/v1", true},
		{"public http", "http://example.com/path", true},
		{"ftp scheme", "ftp://example.com", false},
		{"file scheme", "file:///etc/passwd", false},
		{"localhost", "http://localhost:11434", false},
		{"localhost subdomain", "http://api.localhost", false},
		{"loopback", "http://127.0.0.1:8080", false},
		{"rfc1918", "http://192.168.1.10", false},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data", false},
		{"ipv6 loopback", "http://[::1]:8080", false},
		{"userinfo confusion", "http://example.com@localhost/", false},
		{"missing host", "http:///path", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ValidateURL(tt.url)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAllowPrivateIP(t *testing.T) {
	c := New(time.Second, Options{AllowPrivateIP: true})

	_, err := c.ValidateURL("http://localhost:11434/v1/chat/completions")
	assert.NoError(t, err)

	_, err = c.ValidateURL("gopher://localhost")
	assert.Error(t, err, "scheme allow-list still applies")
}

func TestIsPrivateIP(t *testing.T) {
	tests := map[string]bool{
		"10.1.2.3":        true,
		"172.20.0.1":      true,
		"172.32.0.1":      false,
		"8.8.8.8":         false,
		"fd00::1":         true,
		"fe80::1":         true,
		"2001:db8::1":     true,
		"2606:4700::1111": false,
		"::ffff:10.0.0.1": true,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isPrivateIP(net.ParseIP(addr)), addr)
	}
}

func TestDoBlocksLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = NewSaferClient(time.Second).Do(req)
	assert.Error(t, err)

	resp, err := WrapClient(srv.Client()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMaxRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	c := New(time.Second, Options{AllowPrivateIP: true, MaxRedirects: 2})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}
