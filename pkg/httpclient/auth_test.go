package httpclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/loopwire/uhttp/pkg/readiness"
)

// scriptedServerCapturingHeader accepts exactly one connection and replies
// to each request with the next response in responses, in order, and sends
// each request's value for headerName (or "" if absent) down the returned
// channel, in request order.
func scriptedServerCapturingHeader(t *testing.T, responses []string, headerName string) (string, chan string) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	capture := make(chan string, len(responses))
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for _, resp := range responses {
			value, err := readOneRequestCapturing(reader, headerName)
			if err != nil {
				return
			}
			capture <- value
			if _, err := conn.Write([]byte(resp)); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String(), capture
}

func readOneRequestCapturing(reader *bufio.Reader, headerName string) (string, error) {
	contentLength := 0
	value := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		k, v, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if strings.EqualFold(k, "content-length") {
			n, _ := strconv.Atoi(v)
			contentLength = n
		}
		if strings.EqualFold(k, headerName) {
			value = v
		}
	}
	if contentLength > 0 {
		buf := make([]byte, contentLength)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return "", err
		}
	}
	return value, nil
}

// TestDigestRetryOnce checks that a 401 Digest challenge triggers exactly
// one transparent retry carrying a computed Authorization header, and that
// the second response (200) is what callers see.
func TestDigestRetryOnce(t *testing.T) {
	challenge := "HTTP/1.1 401 Unauthorized\r\n" +
		"WWW-Authenticate: Digest realm=\"test\", nonce=\"abc123\", qop=\"auth\"\r\n" +
		"Content-Length: 0\r\n" +
		"Connection: keep-alive\r\n\r\n"
	success := "HTTP/1.1 200 OK\r\n" +
		"Content-Length: 2\r\n" +
		"Connection: close\r\n\r\nok"

	addr, capture := scriptedServerCapturingHeader(t, []string{challenge, success}, "authorization")
	host, portStr, _ := strings.Cut(addr, ":")
	port, _ := strconv.Atoi(portStr)

	c := New(host, port, nil, Config{})
	c.SetAuth(Credentials{Username: "alice", Password: "secret"})

	ctx := context.Background()
	if err := c.Get(ctx, "/protected", nil, nil); err != nil {
		t.Fatalf("get: %v", err)
	}

	sel, err := readiness.NewDefault()
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	defer sel.Close()

	resp, err := c.Wait(ctx, sel, 2*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a response after digest retry, got timeout")
	}
	if resp.Status != 200 {
		t.Fatalf("expected final status 200 after retry, got %d", resp.Status)
	}
	if string(resp.Data) != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", resp.Data)
	}
	if c.digestParams == nil {
		t.Fatal("expected digest params to have been captured from the challenge")
	}

	firstAuth := <-capture
	if wantBasic := buildBasicAuth(*c.auth); firstAuth != wantBasic {
		t.Fatalf("expected Basic Authorization %q before the challenge, got %q", wantBasic, firstAuth)
	}
	secondAuth := <-capture
	if !strings.HasPrefix(secondAuth, "Digest username=\"alice\"") {
		t.Fatalf("expected a computed Digest Authorization header on retry, got %q", secondAuth)
	}
	if !strings.Contains(secondAuth, `nonce="abc123"`) {
		t.Fatalf("expected the challenge nonce to be echoed back, got %q", secondAuth)
	}
}

// TestURLEmbeddedCredentials checks that NewFromURL extracts a
// user:pass@host target into the client's default auth and sends it as
// Basic auth on the first request.
func TestURLEmbeddedCredentials(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
	addr, capture := scriptedServerCapturingHeader(t, []string{response}, "authorization")
	host, portStr, _ := strings.Cut(addr, ":")

	c, err := NewFromURL("http://bob:hunter2@"+host+":"+portStr+"/base", Config{})
	if err != nil {
		t.Fatalf("new from url: %v", err)
	}
	if c.auth == nil || c.auth.Username != "bob" || c.auth.Password != "hunter2" {
		t.Fatalf("expected embedded credentials bob:hunter2, got %+v", c.auth)
	}
	if c.basePath != "/base" {
		t.Fatalf("expected base path /base, got %q", c.basePath)
	}

	ctx := context.Background()
	if err := c.Get(ctx, "/thing", nil, nil); err != nil {
		t.Fatalf("get: %v", err)
	}

	sel, err := readiness.NewDefault()
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	defer sel.Close()

	resp, err := c.Wait(ctx, sel, 2*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if resp == nil || resp.Status != 200 {
		t.Fatalf("expected status 200, got %+v", resp)
	}

	auth := <-capture
	want := buildBasicAuth(*c.auth)
	if auth != want {
		t.Fatalf("expected Basic auth header %q, got %q", want, auth)
	}
}
