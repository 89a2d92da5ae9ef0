package httpclient

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/loopwire/uhttp/pkg/readiness"
)

// TestCookieJarEchoed checks that a Set-Cookie from one response is stored
// and sent back as a Cookie header on the next request over the same
// keep-alive connection.
func TestCookieJarEchoed(t *testing.T) {
	var secondRequestCookie string

	addr, capture := scriptedServerCapturingHeader(t, []string{
		"HTTP/1.1 200 OK\r\nSet-Cookie: session=abc123; Path=/\r\nContent-Length: 0\r\nConnection: keep-alive\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
	}, "cookie")

	host, portStr, _ := strings.Cut(addr, ":")
	port, _ := strconv.Atoi(portStr)

	c := New(host, port, nil, Config{})
	ctx := context.Background()
	sel, err := readiness.NewDefault()
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	defer sel.Close()

	if err := c.Get(ctx, "/first", nil, nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := c.Wait(ctx, sel, 2*time.Second); err != nil {
		t.Fatalf("wait first: %v", err)
	}

	if got, ok := c.Cookies()["session"]; !ok || got != "abc123" {
		t.Fatalf("expected cookie jar to capture session=abc123, got %v", c.Cookies())
	}

	if err := c.Get(ctx, "/second", nil, nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := c.Wait(ctx, sel, 2*time.Second); err != nil {
		t.Fatalf("wait second: %v", err)
	}

	<-capture // the first request's value, sent before any cookie was stored
	secondRequestCookie = <-capture
	if secondRequestCookie != "session=abc123" {
		t.Fatalf("expected second request to echo the stored cookie, got %q", secondRequestCookie)
	}
}
