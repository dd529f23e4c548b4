package clients

import (
	"net"
	"net/http"
	"testing"
	"time"

	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
)

func TestNewBaseClientRejectsMissingBaseURL(t *testing.T) {
	if _, err := NewBaseClient(Options{}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestNewBaseClientRejectsNonHTTPScheme(t *testing.T) {
	if _, err := NewBaseClient(Options{BaseURL: "ftp://example.com"}); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}

func TestNewBaseClientRejectsPrivateHost(t *testing.T) {
	if _, err := NewBaseClient(Options{BaseURL: "http://127.0.0.1:8080"}); err == nil {
		t.Fatal("expected error for loopback host")
	}
	if _, err := NewBaseClient(Options{BaseURL: "http://localhost"}); err == nil {
		t.Fatal("expected error for localhost")
	}
}

func TestNewBaseClientAllowsPrivateHostWithEscapeHatch(t *testing.T) {
	if _, err := NewBaseClient(Options{BaseURL: "http://127.0.0.1:8080", AllowPrivateHosts: true}); err != nil {
		t.Fatalf("expected success with AllowPrivateHosts, got %v", err)
	}
}

func TestNewBaseClientAcceptsPublicHTTPS(t *testing.T) {
	c, err := NewBaseClient(Options{BaseURL: "https://example.teamwork.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil client")
	}
}

func TestClassifyStatusNotFoundIsGone(t *testing.T) {
	err := classifyStatus(http.StatusNotFound, []byte("missing"))
	if !cerrors.IsGone(err) {
		t.Fatalf("expected 404 to classify as Gone, got %v", err)
	}
}

func TestClassifyStatusOtherClientErrorIsPermanent(t *testing.T) {
	err := classifyStatus(http.StatusForbidden, []byte("nope"))
	if !cerrors.IsPermanent(err) {
		t.Fatalf("expected 403 to classify as Permanent, got %v", err)
	}
	if cerrors.IsGone(err) {
		t.Fatal("403 should not be classified as Gone")
	}
}

func TestRetryAfterDelayParsesSeconds(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "5")
	if got := retryAfterDelay(h); got != 5*time.Second {
		t.Fatalf("expected 5s, got %v", got)
	}
}

func TestRetryAfterDelayMissingReturnsZero(t *testing.T) {
	if got := retryAfterDelay(http.Header{}); got != 0 {
		t.Fatalf("expected 0 for missing header, got %v", got)
	}
}

func TestRetryAfterDelayIgnoresGarbage(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "not-a-date")
	if got := retryAfterDelay(h); got != 0 {
		t.Fatalf("expected 0 for unparseable header, got %v", got)
	}
}

func TestJoinPath(t *testing.T) {
	cases := []struct{ base, rel, want string }{
		{"/api/v1/", "/tasks.json", "/api/v1/tasks.json"},
		{"/api/v1", "tasks.json", "/api/v1/tasks.json"},
		{"/api/v1", "", "/api/v1"},
	}
	for _, c := range cases {
		if got := joinPath(c.base, c.rel); got != c.want {
			t.Fatalf("joinPath(%q, %q) = %q, want %q", c.base, c.rel, got, c.want)
		}
	}
}

func TestIsPrivateHost(t *testing.T) {
	for _, h := range []string{"localhost", "127.0.0.1", "10.0.0.1", "192.168.1.1", "172.16.0.5", "169.254.1.1"} {
		if !isPrivateHost(h) {
			t.Errorf("expected %q to be private", h)
		}
	}
	for _, h := range []string{"example.com", "8.8.8.8", "api.teamwork.com"} {
		if isPrivateHost(h) {
			t.Errorf("expected %q to be public", h)
		}
	}
}

func TestIsPrivateIPv6(t *testing.T) {
	if !isPrivateIP(net.ParseIP("::1")) {
		t.Fatal("expected ::1 loopback to be private")
	}
	if !isPrivateIP(net.ParseIP("fc00::1")) {
		t.Fatal("expected fc00::/7 unique-local address to be private")
	}
	if isPrivateIP(net.ParseIP("2001:4860:4860::8888")) {
		t.Fatal("expected public IPv6 address to not be private")
	}
}

func TestBasicAuthEncoding(t *testing.T) {
	got := basicAuth("key123", "x")
	if got != "a2V5MTIzOng=" {
		t.Fatalf("unexpected base64 encoding: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate([]byte("  hello  "), 100); got != "hello" {
		t.Fatalf("expected trimmed string, got %q", got)
	}
	if got := truncate([]byte("abcdef"), 3); got != "abc" {
		t.Fatalf("expected truncated string, got %q", got)
	}
}
